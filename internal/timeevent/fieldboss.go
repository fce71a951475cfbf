package timeevent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrConflict is returned by FieldBossLookup.Create when a manager for
// the given metadataId already exists. The scheduler that calls Create
// owns the decision of whether to retry after disposing the existing
// manager; see DESIGN.md for why this is surfaced as an error rather
// than guessed at.
var ErrConflict = errors.New("timeevent: field boss already active for this metadata id")

// ErrChannelUnavailable marks a per-channel broadcast failure as the
// channel being down rather than a protocol error, mirroring gRPC's
// Unavailable status code: logged as a warning, never aborts the
// broadcast.
var ErrChannelUnavailable = errors.New("timeevent: channel unavailable")

// Broadcaster delivers a boss-related notification to one channel. A
// real implementation wraps whatever RPC or message-bus connection the
// game channel process exposes.
type Broadcaster interface {
	Channel
	NotifyBossSpawned(ctx context.Context, boss FieldBoss) error
	NotifyBossWarning(ctx context.Context, boss FieldBoss) error
	NotifyBossDisposed(ctx context.Context, boss FieldBoss) error
}

// FieldBossManager owns one active boss window: the live FieldBoss
// value and the set of channels that have acknowledged it.
// aliveChannels is mutated only by Announce (insert, on success) and
// RemoveChannel (remove, via FieldBossKilled) — disposal is scheduled
// externally and does not touch the set itself.
type FieldBossManager struct {
	mu            sync.RWMutex
	boss          FieldBoss
	aliveChannels map[int16]struct{}
}

func newFieldBossManager(boss FieldBoss) *FieldBossManager {
	return &FieldBossManager{
		boss:          boss,
		aliveChannels: make(map[int16]struct{}),
	}
}

// Boss returns a copy of the manager's current boss state.
func (m *FieldBossManager) Boss() FieldBoss {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.boss
}

// AliveChannels returns a snapshot of the channels that have
// acknowledged this boss.
func (m *FieldBossManager) AliveChannels() []int16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int16, 0, len(m.aliveChannels))
	for ch := range m.aliveChannels {
		out = append(out, ch)
	}
	return out
}

// broadcast fans a per-channel notification out over every channel in
// parallel (errgroup), tolerating individual failures rather than
// aborting: each goroutine records its own outcome instead of
// returning an error to the group, since the full channel set must
// always be attempted.
func broadcast(ctx context.Context, channels []Broadcaster, notify func(context.Context, Broadcaster) error) []bool {
	ok := make([]bool, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			err := notify(ctx, ch)
			if err == nil {
				ok[i] = true
				return nil
			}
			if errors.Is(err, ErrChannelUnavailable) {
				slog.Warn("timeevent: channel unavailable during broadcast", "channel", ch.ID(), "err", err)
			} else {
				slog.Error("timeevent: channel broadcast failed", "channel", ch.ID(), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait() // notify never returns a non-nil error to the group
	return ok
}

// Announce broadcasts the boss's spawn to every channel and records
// each channel that acknowledged successfully into aliveChannels.
func (m *FieldBossManager) Announce(ctx context.Context, channels []Broadcaster) {
	boss := m.Boss()
	ok := broadcast(ctx, channels, func(ctx context.Context, ch Broadcaster) error {
		return ch.NotifyBossSpawned(ctx, boss)
	})

	m.mu.Lock()
	for i, succeeded := range ok {
		if succeeded {
			m.aliveChannels[channels[i].ID()] = struct{}{}
		}
	}
	m.mu.Unlock()
}

// WarnChannels broadcasts the pre-despawn warning. It does not touch
// aliveChannels.
func (m *FieldBossManager) WarnChannels(ctx context.Context, channels []Broadcaster) {
	boss := m.Boss()
	broadcast(ctx, channels, func(ctx context.Context, ch Broadcaster) error {
		return ch.NotifyBossWarning(ctx, boss)
	})
}

// Dispose broadcasts the despawn notification. It does not remove the
// manager from its lookup — that is the scheduler's job.
func (m *FieldBossManager) Dispose(ctx context.Context, channels []Broadcaster) {
	boss := m.Boss()
	broadcast(ctx, channels, func(ctx context.Context, ch Broadcaster) error {
		return ch.NotifyBossDisposed(ctx, boss)
	})
}

// removeChannel deletes channel from aliveChannels, if present.
func (m *FieldBossManager) removeChannel(channel int16) {
	m.mu.Lock()
	delete(m.aliveChannels, channel)
	m.mu.Unlock()
}

// FieldBossLookup is the concurrent metadataId -> FieldBossManager map,
// modeled on a sync.RWMutex+map manager idiom.
type FieldBossLookup struct {
	mu       sync.RWMutex
	managers map[int32]*FieldBossManager
	nextID   atomic.Int64
}

// NewFieldBossLookup returns an empty lookup.
func NewFieldBossLookup() *FieldBossLookup {
	return &FieldBossLookup{managers: make(map[int32]*FieldBossManager)}
}

// Create allocates a new eventId and inserts a manager for
// metadata.MetadataID, or returns ErrConflict if one already exists.
func (l *FieldBossLookup) Create(metadata BossMetadata, endTick int64, nextSpawnTimestamp int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.managers[metadata.MetadataID]; exists {
		return 0, fmt.Errorf("%w: metadataId=%d", ErrConflict, metadata.MetadataID)
	}

	eventID := l.nextID.Add(1)
	boss := FieldBoss{
		MetadataID:         metadata.MetadataID,
		EventID:            eventID,
		EndTick:            endTick,
		NextSpawnTimestamp: nextSpawnTimestamp,
		Metadata:           metadata,
	}
	l.managers[metadata.MetadataID] = newFieldBossManager(boss)
	return eventID, nil
}

// Get returns the manager for metadataId, if any.
func (l *FieldBossLookup) Get(metadataID int32) (*FieldBossManager, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.managers[metadataID]
	return m, ok
}

// Delete removes the manager for metadataId. Callers are responsible
// for broadcasting Dispose first if they want channels notified.
func (l *FieldBossLookup) Delete(metadataID int32) {
	l.mu.Lock()
	delete(l.managers, metadataID)
	l.mu.Unlock()
}

// GetAll returns a snapshot of every tracked boss.
func (l *FieldBossLookup) GetAll() []FieldBossInfo {
	l.mu.RLock()
	managers := make([]*FieldBossManager, 0, len(l.managers))
	for _, m := range l.managers {
		managers = append(managers, m)
	}
	l.mu.RUnlock()

	out := make([]FieldBossInfo, 0, len(managers))
	for _, m := range managers {
		boss := m.Boss()
		out = append(out, FieldBossInfo{
			MetadataID:         boss.MetadataID,
			EventID:            boss.EventID,
			SpawnTimestamp:     boss.SpawnTimestamp,
			NextSpawnTimestamp: boss.NextSpawnTimestamp,
			AliveChannels:      m.AliveChannels(),
		})
	}
	return out
}

// RemoveChannel forwards FieldBossKilled to the manager for
// metadataId, if one exists. A missing manager is a no-op: the kill
// notification may have arrived after the window already closed.
func (l *FieldBossLookup) RemoveChannel(metadataID int32, channel int16) {
	m, ok := l.Get(metadataID)
	if !ok {
		return
	}
	m.removeChannel(channel)
}
