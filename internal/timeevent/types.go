// Package timeevent implements the server-side time-event dispatcher:
// coordination of global portals and field-boss broadcasts across game
// channels. It is consulted by the game channel's own request
// handlers, not by this repository's client login/game flows — it is
// included because it is the one non-trivial server surface with
// meaningful state/coordination semantics in the source this client
// was written against.
//
// The RPC surface is modeled as a plain Go interface
// (TimeEventServer.TimeEvent) rather than real gRPC wire plumbing; see
// DESIGN.md for why no generated protobuf code is used.
package timeevent

import (
	"context"
	"time"
)

// BossMetadata describes a field boss's spawn window, as configured by
// static game data; ComputeNextSpawnTimestamp consumes it.
type BossMetadata struct {
	MetadataID int32
	StartTime  time.Time
	EndTime    time.Time
	CycleTime  time.Duration
}

// FieldBoss is the live state of one active boss window.
type FieldBoss struct {
	MetadataID         int32
	EventID            int64
	EndTick            int64
	SpawnTimestamp     int64
	NextSpawnTimestamp int64
	Metadata           BossMetadata
}

// FieldBossInfo is the snapshot shape returned by GetActiveFieldBosses.
type FieldBossInfo struct {
	MetadataID         int32
	EventID            int64
	SpawnTimestamp     int64
	NextSpawnTimestamp int64
	AliveChannels      []int16
}

// GlobalPortalEntry is one destination a global portal can send players
// to. An entry with MapID == 0 is a placeholder slot: join requests
// against it return an empty response rather than a room.
type GlobalPortalEntry struct {
	MapID    int32
	PortalID int32
	Name     string
}

// GlobalPortal is the at-most-one active global portal.
type GlobalPortal struct {
	MetadataID int32
	EventID    int64
	Entries    []GlobalPortalEntry
}

// Channel is a connected game channel, the unit C5 broadcasts target
// and the unit that can mint portal rooms. Implementations wrap
// whatever real inter-process transport a game channel process
// exposes; this package only depends on the interface.
type Channel interface {
	ID() int16
}

// TimeEventRequest is a tagged union mirroring the server's oneof
// request shape. Exactly one field should be non-nil.
type TimeEventRequest struct {
	JoinGlobalPortal     *JoinGlobalPortalRequest
	GetGlobalPortal      *GetGlobalPortalRequest
	GetActiveFieldBosses *GetActiveFieldBossesRequest
	FieldBossKilled      *FieldBossKilledRequest
}

// TimeEventResponse is the corresponding tagged-union response. Exactly
// one field is populated by whichever case TimeEvent dispatched to;
// the others are left at their zero value.
type TimeEventResponse struct {
	JoinGlobalPortal     JoinGlobalPortalResponse
	GetGlobalPortal      GetGlobalPortalResponse
	GetActiveFieldBosses GetActiveFieldBossesResponse
	FieldBossKilled      FieldBossKilledResponse
}

// JoinGlobalPortalRequest asks to join the entry at Index of the portal
// identified by EventID.
type JoinGlobalPortalRequest struct {
	EventID int64
	Index   int
}

// JoinGlobalPortalResponse is empty (Info == nil) when there is no
// active portal, the eventId doesn't match, or the selected entry has
// MapID == 0.
type JoinGlobalPortalResponse struct {
	Info *GlobalPortalJoinInfo
}

// GlobalPortalJoinInfo is what a successful join returns.
type GlobalPortalJoinInfo struct {
	Channel  int16
	RoomID   int64
	MapID    int32
	PortalID int32
}

// GetGlobalPortalRequest has no fields; it always asks for whichever
// portal is currently active.
type GetGlobalPortalRequest struct{}

// GetGlobalPortalResponse is empty (Info == nil) when no portal is
// active.
type GetGlobalPortalResponse struct {
	Info *GlobalPortalSummary
}

// GlobalPortalSummary identifies the active portal without its entries.
type GlobalPortalSummary struct {
	MetadataID int32
	EventID    int64
}

// GetActiveFieldBossesRequest has no fields.
type GetActiveFieldBossesRequest struct{}

// GetActiveFieldBossesResponse lists every currently tracked boss.
type GetActiveFieldBossesResponse struct {
	Bosses []FieldBossInfo
}

// FieldBossKilledRequest reports that Channel killed the boss
// identified by MetadataID.
type FieldBossKilledRequest struct {
	MetadataID int32
	Channel    int16
}

// FieldBossKilledResponse is the default (empty) response.
type FieldBossKilledResponse struct{}

// TimeEventServer is the C5 RPC surface: a single unary call dispatched
// synchronously over the tagged-union request/response pair.
type TimeEventServer interface {
	TimeEvent(ctx context.Context, req TimeEventRequest) (TimeEventResponse, error)
}
