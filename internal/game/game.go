// Package game implements the client-side game-server flow: key
// authentication, field entry, the minimal combat/chat verbs in scope
// for this client, keep-alive, and the client-tracked field state
// those keep-alive/field handlers maintain.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ms2proto/fieldclient/internal/clienterr"
	"github.com/ms2proto/fieldclient/internal/config"
	"github.com/ms2proto/fieldclient/internal/login"
	"github.com/ms2proto/fieldclient/internal/opcode"
	"github.com/ms2proto/fieldclient/internal/protocol"
	"github.com/ms2proto/fieldclient/internal/session"
)

const (
	// chatTypeNpc is the UserChat "type" field value used by the /npc
	// debug command.
	chatTypeNpc = uint32(0)

	// fieldEnterInstanceNone mirrors the dungeon/instance defaults a
	// field not backed by an instance reports.
	fieldEnterInstanceNone = int32(0)
)

// NpcInfo is the parsed FieldAddNpc reply to a spawn request.
type NpcInfo struct {
	ObjectID int32
	NpcID    int32
	Position protocol.Vec3
}

// Flow drives the game-server side of the protocol over one Session. It
// owns the client-tracked FieldState and is the sole writer of it: every
// mutation happens from a persistent handler running on the session's
// single receive-loop goroutine, or from a one-shot waiter reply handled
// synchronously by the calling goroutine before the handler could race
// it, per the session's waiter-precedence rule.
type Flow struct {
	sess *session.Session
	cfg  config.Client

	fieldMu sync.RWMutex
	field   *FieldState

	skillUID atomic.Int64 // next allocation starts at 2

	startedAt time.Time
}

// Connect dials the game server, installs the persistent handlers that
// must be live before authentication begins, then runs key auth and
// field entry. Returns once ResponseFieldEnter has been sent and the
// session is live.
func Connect(ctx context.Context, cfg config.Client, serverInfo login.GameServerInfo, accountID int64, machineID [16]byte) (*Flow, error) {
	host := fmt.Sprintf("%d.%d.%d.%d", serverInfo.Address[0], serverInfo.Address[1], serverInfo.Address[2], serverInfo.Address[3])
	sess, err := session.Connect(ctx, host, serverInfo.Port, cfg.Session)
	if err != nil {
		return nil, err
	}

	f := &Flow{
		sess:      sess,
		cfg:       cfg,
		startedAt: time.Now(),
	}
	f.skillUID.Store(1)

	// These must be installed before ResponseKey is sent: the server
	// starts emitting time-sync/heartbeat/field traffic immediately
	// after field entry, and the receive loop runs concurrently with
	// the rest of this function.
	f.installHandlers()

	keyW := sess.WaitFor(opcode.RequestKey, cfg.WaitTimeout)
	if err := f.sendResponseVersion(); err != nil {
		sess.Dispose()
		return nil, err
	}
	if _, err := keyW.Wait(ctx); err != nil {
		sess.Dispose()
		return nil, fmt.Errorf("game: waiting for RequestKey: %w", err)
	}

	enterW := sess.WaitFor(opcode.RequestFieldEnter, cfg.FieldEnterTimeout)
	if err := f.sendResponseKey(accountID, serverInfo.Token, machineID); err != nil {
		sess.Dispose()
		return nil, err
	}

	data, err := enterW.Wait(ctx)
	if err != nil {
		sess.Dispose()
		return nil, fmt.Errorf("game: waiting for RequestFieldEnter: %w", err)
	}

	field, err := parseFieldEnter(data)
	if err != nil {
		sess.Dispose()
		return nil, err
	}
	f.fieldMu.Lock()
	f.field = field
	f.fieldMu.Unlock()

	if err := f.sendResponseFieldEnter(); err != nil {
		sess.Dispose()
		return nil, err
	}

	return f, nil
}

// Dispose tears down the underlying transport.
func (f *Flow) Dispose() { f.sess.Dispose() }

// FieldState returns a snapshot copy of the tracked field state.
func (f *Flow) FieldState() FieldState {
	f.fieldMu.RLock()
	defer f.fieldMu.RUnlock()

	snap := FieldState{MapID: f.field.MapID, OwnObjectID: f.field.OwnObjectID, Position: f.field.Position}
	snap.Npcs = make(map[int32]Npc, len(f.field.Npcs))
	for k, v := range f.field.Npcs {
		snap.Npcs[k] = v
	}
	return snap
}

func (f *Flow) sendResponseVersion() error {
	w := protocol.AcquireWriter(uint16(opcode.ResponseVersion))
	defer protocol.ReleaseWriter(w)
	w.Uint32(f.cfg.Session.Version)
	w.Short(47) // required wire constant
	w.Uint32(0) // locale: NA
	return f.sess.Send(w.Bytes())
}

func (f *Flow) sendResponseKey(accountID int64, token uint64, machineID [16]byte) error {
	w := protocol.AcquireWriter(uint16(opcode.ResponseKey))
	defer protocol.ReleaseWriter(w)
	w.Long(accountID)
	w.Uint64(token)
	w.Raw(machineID[:])
	return f.sess.Send(w.Bytes())
}

func parseFieldEnter(data []byte) (*FieldState, error) {
	r := protocol.NewReader(protocol.Packet(data).Body())

	migrationError, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("game: reading RequestFieldEnter migrationError: %w", err)
	}
	if migrationError != 0 {
		return nil, fmt.Errorf("%w: code=%d", clienterr.ErrMigrationFailed, migrationError)
	}

	mapID, err := r.Int()
	if err != nil {
		return nil, fmt.Errorf("game: reading RequestFieldEnter mapId: %w", err)
	}
	if _, err := r.Byte(); err != nil { // fieldType
		return nil, fmt.Errorf("game: reading RequestFieldEnter fieldType: %w", err)
	}
	if _, err := r.Byte(); err != nil { // instanceType
		return nil, fmt.Errorf("game: reading RequestFieldEnter instanceType: %w", err)
	}
	if _, err := r.Int(); err != nil { // instanceId
		return nil, fmt.Errorf("game: reading RequestFieldEnter instanceId: %w", err)
	}
	if _, err := r.Int(); err != nil { // dungeonId
		return nil, fmt.Errorf("game: reading RequestFieldEnter dungeonId: %w", err)
	}
	position, err := r.Vec3()
	if err != nil {
		return nil, fmt.Errorf("game: reading RequestFieldEnter position: %w", err)
	}

	return newFieldState(mapID, position), nil
}

func (f *Flow) sendResponseFieldEnter() error {
	w := protocol.AcquireWriter(uint16(opcode.ResponseFieldEnter))
	defer protocol.ReleaseWriter(w)
	w.Int(f.cfg.Session.FieldKey)
	return f.sess.Send(w.Bytes())
}

// installHandlers wires the persistent callbacks that track field
// state and keep-alive traffic. After Connect, these handlers and
// SpawnNpc are the only code that mutates FieldState.
func (f *Flow) installHandlers() {
	f.sess.On(opcode.ResponseTimeSync, f.handleTimeSync)
	f.sess.On(opcode.RequestHeartbeat, f.handleHeartbeat)
	f.sess.On(opcode.FieldAddUser, f.handleFieldAddUser)
	f.sess.On(opcode.FieldAddNpc, f.handleFieldAddNpc)
	f.sess.On(opcode.FieldRemoveNpc, f.handleFieldRemoveNpc)
	f.sess.On(opcode.SkillDamage, f.handleSkillDamage)
}

func (f *Flow) handleTimeSync(pkt protocol.Packet) {
	r := protocol.NewReader(pkt.Body())
	cmd, err := r.Byte()
	if err != nil {
		return
	}
	if cmd != opcode.TimeSyncServerRequest {
		return
	}
	w := protocol.AcquireWriter(uint16(opcode.RequestTimeSync))
	defer protocol.ReleaseWriter(w)
	w.Byte(0) // key=0
	if err := f.sess.Send(w.Bytes()); err != nil {
		slog.Warn("game: replying to time sync failed", "err", err)
	}
}

func (f *Flow) handleHeartbeat(pkt protocol.Packet) {
	r := protocol.NewReader(pkt.Body())
	serverTick, err := r.Int()
	if err != nil {
		return
	}
	w := protocol.AcquireWriter(uint16(opcode.ResponseHeartbeat))
	defer protocol.ReleaseWriter(w)
	w.Int(serverTick)
	w.Int(f.localTick())
	if err := f.sess.Send(w.Bytes()); err != nil {
		slog.Warn("game: replying to heartbeat failed", "err", err)
	}
}

func (f *Flow) handleFieldAddUser(pkt protocol.Packet) {
	r := protocol.NewReader(pkt.Body())
	objectID, err := r.Int()
	if err != nil {
		return
	}
	f.fieldMu.Lock()
	f.field.observeFieldAddUser(objectID)
	f.fieldMu.Unlock()
}

func (f *Flow) handleFieldAddNpc(pkt protocol.Packet) {
	npc, err := parseNpcInfo(pkt)
	if err != nil {
		return
	}
	f.fieldMu.Lock()
	f.field.addNpc(Npc(npc))
	f.fieldMu.Unlock()
}

func (f *Flow) handleFieldRemoveNpc(pkt protocol.Packet) {
	r := protocol.NewReader(pkt.Body())
	objectID, err := r.Int()
	if err != nil {
		return
	}
	f.fieldMu.Lock()
	f.field.removeNpc(objectID)
	f.fieldMu.Unlock()
}

// handleSkillDamage observes a broadcast damage event. The wire layout
// for SkillDamage's body beyond its opcode is not part of the schema
// this client carries; it is logged, not parsed, matching the same
// do-not-guess posture taken for the character list tail.
func (f *Flow) handleSkillDamage(pkt protocol.Packet) {
	slog.Debug("game: skill damage observed", "bodyLen", len(pkt.Body()))
}

func parseNpcInfo(pkt protocol.Packet) (NpcInfo, error) {
	r := protocol.NewReader(pkt.Body())
	objectID, err := r.Int()
	if err != nil {
		return NpcInfo{}, err
	}
	npcID, err := r.Int()
	if err != nil {
		return NpcInfo{}, err
	}
	position, err := r.Vec3()
	if err != nil {
		return NpcInfo{}, err
	}
	return NpcInfo{ObjectID: objectID, NpcID: npcID, Position: position}, nil
}

// localTick returns milliseconds since the flow started, used as the
// clientTick/local monotonic tick submitted in heartbeat/skill bodies.
func (f *Flow) localTick() int32 {
	return int32(time.Since(f.startedAt).Milliseconds())
}

// SpawnNpc issues the "/npc <id>" debug chat command and waits for the
// resulting FieldAddNpc reply. A timeout is not an error: the spawn
// may simply have been denied, so SpawnNpc returns a nil NpcInfo and a
// nil error in that case. The reply is consumed by this one-shot
// waiter, so it never reaches the persistent FieldAddNpc handler —
// this method inserts the NPC into the tracked map itself.
func (f *Flow) SpawnNpc(ctx context.Context, npcID int32) (*NpcInfo, error) {
	w := f.sess.WaitFor(opcode.FieldAddNpc, 5*time.Second)

	chatW := protocol.AcquireWriter(uint16(opcode.UserChat))
	chatW.Uint32(chatTypeNpc)
	chatW.String(fmt.Sprintf("/npc %d", npcID))
	chatW.String("")
	chatW.Long(0) // clubId
	err := f.sess.Send(chatW.Bytes())
	protocol.ReleaseWriter(chatW)
	if err != nil {
		return nil, err
	}

	data, err := w.Wait(ctx)
	if err != nil {
		if errors.Is(err, clienterr.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("game: waiting for FieldAddNpc: %w", err)
	}

	info, err := parseNpcInfo(protocol.Packet(data))
	if err != nil {
		return nil, fmt.Errorf("game: parsing FieldAddNpc: %w", err)
	}

	f.fieldMu.Lock()
	f.field.addNpc(Npc(info))
	f.fieldMu.Unlock()

	return &info, nil
}

// CastSkill allocates a skillUid, sends Skill(Use), and waits (best
// effort; a timeout is logged but not fatal) for the server's SkillUse
// acknowledgement. The skillUid is returned regardless of whether the
// wait succeeded, so the caller may proceed to AttackTarget.
func (f *Flow) CastSkill(ctx context.Context, skillID int32, level int16) (int64, error) {
	if level == 0 {
		level = 1
	}
	skillUID := f.skillUID.Add(1)

	f.fieldMu.RLock()
	position := f.field.Position
	f.fieldMu.RUnlock()

	w := f.sess.WaitFor(opcode.SkillUse, 5*time.Second)

	body := protocol.AcquireWriter(uint16(opcode.Skill))
	body.Byte(opcode.SkillSubUse)
	body.Long(skillUID)
	body.Int(f.lastServerTick())
	body.Int(skillID)
	body.Short(level)
	body.Byte(0) // motionPoint
	body.Vec3(position)
	body.Vec3(protocol.Vec3{}) // direction
	body.Vec3(protocol.Vec3{}) // rotation
	body.Float(0)              // rotate2Z
	body.Int(f.localTick())    // clientTick
	body.Bool(false)           // unknown
	body.Long(0)               // itemUid
	body.Bool(false)           // isHold
	err := f.sess.Send(body.Bytes())
	protocol.ReleaseWriter(body)
	if err != nil {
		return skillUID, err
	}

	if _, err := w.Wait(ctx); err != nil {
		slog.Warn("game: SkillUse acknowledgement not received", "skillId", skillID, "err", err)
	}

	return skillUID, nil
}

// lastServerTick is a placeholder server-tick value submitted with
// skill casts; the client does not track the server's authoritative
// tick beyond echoing it back in heartbeat replies, so casts submit
// their own local tick.
func (f *Flow) lastServerTick() int32 {
	return f.localTick()
}

// AttackTarget allocates a targetUid from the same monotonic counter as
// CastSkill, sends Skill(Attack.Target), and waits for SkillDamage.
// targetObjectIDs must contain at least targetCount entries; extra
// entries beyond targetCount are ignored.
func (f *Flow) AttackTarget(ctx context.Context, skillUID int64, targetObjectIDs []int32, targetCount int) (int64, error) {
	if len(targetObjectIDs) < targetCount {
		return 0, fmt.Errorf("%w: have %d target ids, need %d", clienterr.ErrInvalidArgument, len(targetObjectIDs), targetCount)
	}

	targetUID := f.skillUID.Add(1)

	f.fieldMu.RLock()
	impactPos := f.field.Position
	f.fieldMu.RUnlock()

	w := f.sess.WaitFor(opcode.SkillDamage, 5*time.Second)

	body := protocol.AcquireWriter(uint16(opcode.Skill))
	body.Byte(opcode.SkillSubAttack)
	body.Byte(opcode.SkillAttackTarget)
	body.Long(skillUID)
	body.Long(targetUID)
	body.Vec3(impactPos)
	body.Vec3(impactPos) // impactPos2 == impactPos
	body.Vec3(protocol.Vec3{}) // direction
	body.Byte(0)               // attackPoint
	body.Byte(byte(targetCount))
	body.Int(0) // iterations
	for i := 0; i < targetCount; i++ {
		body.Int(targetObjectIDs[i])
		body.Byte(0) // unknown
	}
	err := f.sess.Send(body.Bytes())
	protocol.ReleaseWriter(body)
	if err != nil {
		return targetUID, err
	}

	if _, err := w.Wait(ctx); err != nil {
		slog.Warn("game: SkillDamage acknowledgement not received", "skillUid", skillUID, "err", err)
	}

	return targetUID, nil
}

// StayAlive blocks until ctx is cancelled. All keep-alive work happens
// on the session's receive loop via the persistent handlers installed
// in Connect; this method exists only to give the CLI a point to block
// on.
func (f *Flow) StayAlive(ctx context.Context) {
	<-ctx.Done()
}
