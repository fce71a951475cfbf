package timeevent

import (
	"context"
	"sync"
)

// RoomCreator mints a room for a global-portal entry. A real
// implementation dispatches an RPC to the entry's channel; the
// in-memory manager only needs the result.
type RoomCreator interface {
	Channel
	CreateRoom(ctx context.Context, mapID, portalID int32) (roomID int64, err error)
}

// GlobalPortalManager is the singleton for at most one active global
// portal. Join is idempotent per entry index: the first call
// allocates a room, every later call for the same index reuses it.
// Concurrent calls on the same index are serialized by mu
// rather than raced with a compare-and-set, since room creation is an
// RPC the manager must not fire twice.
type GlobalPortalManager struct {
	mu      sync.Mutex
	active  *GlobalPortal
	channel RoomCreator
	roomIDs map[int]int64
}

// NewGlobalPortalManager returns a manager with no active portal.
func NewGlobalPortalManager() *GlobalPortalManager {
	return &GlobalPortalManager{}
}

// Activate installs portal as the active global portal, replacing
// whatever was active before. channel is the RoomCreator subsequent
// Join calls dispatch room-creation RPCs to.
func (m *GlobalPortalManager) Activate(portal GlobalPortal, channel RoomCreator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = &portal
	m.channel = channel
	m.roomIDs = make(map[int]int64)
}

// Deactivate clears the active portal.
func (m *GlobalPortalManager) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	m.channel = nil
	m.roomIDs = nil
}

// Active returns the currently active portal, if any.
func (m *GlobalPortalManager) Active() (GlobalPortal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return GlobalPortal{}, false
	}
	return *m.active, true
}

// Join returns the room id for the portal entry at entryIndex, creating
// it via the active channel's RoomCreator on the first call for that
// index and reusing it on every subsequent call. mapID and portalID
// identify the entry's destination and are passed through to the
// room-creation RPC.
func (m *GlobalPortalManager) Join(ctx context.Context, mapID, portalID int32, entryIndex int) (roomID int64, channel int16, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return 0, 0, nil
	}

	if existing, ok := m.roomIDs[entryIndex]; ok {
		return existing, m.channel.ID(), nil
	}

	created, err := m.channel.CreateRoom(ctx, mapID, portalID)
	if err != nil {
		return 0, 0, err
	}

	m.roomIDs[entryIndex] = created
	return created, m.channel.ID(), nil
}
