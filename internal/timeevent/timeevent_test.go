package timeevent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id         int16
	fail       error
	spawned    int
	warned     int
	disposed   int
	createRoom func(mapID, portalID int32) (int64, error)
}

func (c *fakeChannel) ID() int16 { return c.id }

func (c *fakeChannel) NotifyBossSpawned(ctx context.Context, boss FieldBoss) error {
	if c.fail != nil {
		return c.fail
	}
	c.spawned++
	return nil
}

func (c *fakeChannel) NotifyBossWarning(ctx context.Context, boss FieldBoss) error {
	if c.fail != nil {
		return c.fail
	}
	c.warned++
	return nil
}

func (c *fakeChannel) NotifyBossDisposed(ctx context.Context, boss FieldBoss) error {
	if c.fail != nil {
		return c.fail
	}
	c.disposed++
	return nil
}

func (c *fakeChannel) CreateRoom(ctx context.Context, mapID, portalID int32) (int64, error) {
	if c.createRoom != nil {
		return c.createRoom(mapID, portalID)
	}
	return 1, nil
}

func TestFieldBossLookupCreateConflict(t *testing.T) {
	lookup := NewFieldBossLookup()
	meta := BossMetadata{MetadataID: 7}

	_, err := lookup.Create(meta, 100, 0)
	require.NoError(t, err)

	_, err = lookup.Create(meta, 200, 0)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFieldBossAnnounceTracksAliveChannels(t *testing.T) {
	lookup := NewFieldBossLookup()
	eventID, err := lookup.Create(BossMetadata{MetadataID: 1}, 0, 0)
	require.NoError(t, err)
	mgr, ok := lookup.Get(1)
	require.True(t, ok)

	good := &fakeChannel{id: 1}
	bad := &fakeChannel{id: 2, fail: ErrChannelUnavailable}
	other := &fakeChannel{id: 3}

	mgr.Announce(context.Background(), []Broadcaster{good, bad, other})

	alive := mgr.AliveChannels()
	assert.ElementsMatch(t, []int16{1, 3}, alive)
	assert.Equal(t, 1, good.spawned)
	assert.Equal(t, 0, bad.spawned)
	assert.Equal(t, eventID, mgr.Boss().EventID)
}

func TestFieldBossKilledRemovesChannel(t *testing.T) {
	// aliveChannels={1,2,3}, kill channel=2, leaves {1,3}.
	lookup := NewFieldBossLookup()
	_, err := lookup.Create(BossMetadata{MetadataID: 5}, 0, 0)
	require.NoError(t, err)
	mgr, _ := lookup.Get(5)

	chans := []Broadcaster{&fakeChannel{id: 1}, &fakeChannel{id: 2}, &fakeChannel{id: 3}}
	mgr.Announce(context.Background(), chans)
	require.ElementsMatch(t, []int16{1, 2, 3}, mgr.AliveChannels())

	svc := &Service{Bosses: lookup, Portals: NewGlobalPortalManager()}
	resp, err := svc.TimeEvent(context.Background(), TimeEventRequest{
		FieldBossKilled: &FieldBossKilledRequest{MetadataID: 5, Channel: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, FieldBossKilledResponse{}, resp.FieldBossKilled)
	assert.ElementsMatch(t, []int16{1, 3}, mgr.AliveChannels())
}

func TestFieldBossKilledUnknownMetadataIsNoop(t *testing.T) {
	lookup := NewFieldBossLookup()
	svc := &Service{Bosses: lookup, Portals: NewGlobalPortalManager()}
	resp, err := svc.TimeEvent(context.Background(), TimeEventRequest{
		FieldBossKilled: &FieldBossKilledRequest{MetadataID: 999, Channel: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, FieldBossKilledResponse{}, resp.FieldBossKilled)
}

func TestGlobalPortalJoinIdempotentPerIndex(t *testing.T) {
	portals := NewGlobalPortalManager()
	var calls int
	ch := &fakeChannel{id: 9, createRoom: func(mapID, portalID int32) (int64, error) {
		calls++
		return 777, nil
	}}
	portals.Activate(GlobalPortal{
		MetadataID: 1,
		EventID:    10,
		Entries:    []GlobalPortalEntry{{MapID: 2000001, PortalID: 4}},
	}, ch)

	for i := 0; i < 5; i++ {
		roomID, channel, err := portals.Join(context.Background(), 2000001, 4, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 777, roomID)
		assert.EqualValues(t, 9, channel)
	}
	assert.Equal(t, 1, calls, "room must be created exactly once regardless of repeated Join calls")
}

func TestGlobalPortalJoinConcurrentSameIndexAgreesOnRoom(t *testing.T) {
	portals := NewGlobalPortalManager()
	var calls int
	ch := &fakeChannel{id: 1, createRoom: func(mapID, portalID int32) (int64, error) {
		calls++
		return int64(calls), nil
	}}
	portals.Activate(GlobalPortal{
		EventID: 1,
		Entries: []GlobalPortalEntry{{MapID: 5, PortalID: 1}},
	}, ch)

	const n = 20
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			roomID, _, err := portals.Join(context.Background(), 5, 1, 0)
			require.NoError(t, err)
			results <- roomID
		}()
	}

	first := <-results
	for i := 1; i < n; i++ {
		assert.Equal(t, first, <-results)
	}
}

func TestJoinGlobalPortalZeroMapIDIsEmpty(t *testing.T) {
	// A portal entry with MapID == 0 is a placeholder slot.
	portals := NewGlobalPortalManager()
	portals.Activate(GlobalPortal{
		EventID: 42,
		Entries: []GlobalPortalEntry{{}, {}, {}, {MapID: 0, PortalID: 9}},
	}, &fakeChannel{id: 1})

	svc := &Service{Bosses: NewFieldBossLookup(), Portals: portals}
	resp, err := svc.TimeEvent(context.Background(), TimeEventRequest{
		JoinGlobalPortal: &JoinGlobalPortalRequest{EventID: 42, Index: 3},
	})
	require.NoError(t, err)
	assert.Nil(t, resp.JoinGlobalPortal.Info)
}

func TestJoinGlobalPortalEventIDMismatchIsEmpty(t *testing.T) {
	portals := NewGlobalPortalManager()
	portals.Activate(GlobalPortal{
		EventID: 1,
		Entries: []GlobalPortalEntry{{MapID: 5, PortalID: 1}},
	}, &fakeChannel{id: 1})

	svc := &Service{Bosses: NewFieldBossLookup(), Portals: portals}
	resp, err := svc.TimeEvent(context.Background(), TimeEventRequest{
		JoinGlobalPortal: &JoinGlobalPortalRequest{EventID: 2, Index: 0},
	})
	require.NoError(t, err)
	assert.Nil(t, resp.JoinGlobalPortal.Info)
}

func TestJoinGlobalPortalSuccess(t *testing.T) {
	portals := NewGlobalPortalManager()
	portals.Activate(GlobalPortal{
		EventID: 1,
		Entries: []GlobalPortalEntry{{MapID: 5, PortalID: 1}},
	}, &fakeChannel{id: 9})

	svc := &Service{Bosses: NewFieldBossLookup(), Portals: portals}
	resp, err := svc.TimeEvent(context.Background(), TimeEventRequest{
		JoinGlobalPortal: &JoinGlobalPortalRequest{EventID: 1, Index: 0},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.JoinGlobalPortal.Info)
	assert.EqualValues(t, 9, resp.JoinGlobalPortal.Info.Channel)
	assert.EqualValues(t, 5, resp.JoinGlobalPortal.Info.MapID)
}

func TestGetGlobalPortalEmptyWhenNoneActive(t *testing.T) {
	svc := NewService()
	resp, err := svc.TimeEvent(context.Background(), TimeEventRequest{GetGlobalPortal: &GetGlobalPortalRequest{}})
	require.NoError(t, err)
	assert.Nil(t, resp.GetGlobalPortal.Info)
}

func TestGetActiveFieldBosses(t *testing.T) {
	svc := NewService()
	_, err := svc.Bosses.Create(BossMetadata{MetadataID: 3}, 0, 1234)
	require.NoError(t, err)

	resp, err := svc.TimeEvent(context.Background(), TimeEventRequest{GetActiveFieldBosses: &GetActiveFieldBossesRequest{}})
	require.NoError(t, err)
	require.Len(t, resp.GetActiveFieldBosses.Bosses, 1)
	assert.EqualValues(t, 3, resp.GetActiveFieldBosses.Bosses[0].MetadataID)
	assert.EqualValues(t, 1234, resp.GetActiveFieldBosses.Bosses[0].NextSpawnTimestamp)
}

func TestComputeNextSpawnTimestamp(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)

	got := ComputeNextSpawnTimestamp(now, start, end, time.Hour)
	want := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, want, got)
}

func TestComputeNextSpawnTimestampPastEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	assert.EqualValues(t, 0, ComputeNextSpawnTimestamp(now, start, end, time.Hour))
}

func TestComputeNextSpawnTimestampZeroCycle(t *testing.T) {
	now := time.Now()
	assert.EqualValues(t, 0, ComputeNextSpawnTimestamp(now, now, now.Add(time.Hour), 0))
}

func TestComputeNextSpawnTimestampCandidateBeyondEnd(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)

	assert.EqualValues(t, 0, ComputeNextSpawnTimestamp(now, start, end, time.Hour))
}
