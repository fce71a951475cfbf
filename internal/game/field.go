package game

import "github.com/ms2proto/fieldclient/internal/protocol"

// Npc is one tracked field NPC, populated from FieldAddNpc arrivals.
type Npc struct {
	ObjectID int32
	NpcID    int32
	Position protocol.Vec3
}

// FieldState is the client-tracked view of the currently loaded field.
// ownObjectId is populated by the first FieldAddUser packet
// observed after entry; every later FieldAddUser refers to another
// player and must not overwrite it.
type FieldState struct {
	MapID       int32
	OwnObjectID int32
	Position    protocol.Vec3
	Npcs        map[int32]Npc

	ownObjectSeen bool
}

func newFieldState(mapID int32, position protocol.Vec3) *FieldState {
	return &FieldState{
		MapID:    mapID,
		Position: position,
		Npcs:     make(map[int32]Npc),
	}
}

// observeFieldAddUser applies the ownObjectId-latching rule.
func (fs *FieldState) observeFieldAddUser(objectID int32) {
	if fs.ownObjectSeen {
		return
	}
	fs.ownObjectSeen = true
	fs.OwnObjectID = objectID
}

func (fs *FieldState) addNpc(npc Npc) {
	fs.Npcs[npc.ObjectID] = npc
}

func (fs *FieldState) removeNpc(objectID int32) {
	delete(fs.Npcs, objectID)
}
