// Package login implements the client-side login flow: the
// version handshake, credential submission, character-list parsing, and
// the migration hand-off to a game server. It composes the session
// transport's Send/WaitFor/On primitives into a small, single-threaded
// state machine; it holds no concurrency of its own beyond what the
// transport already provides.
package login

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/ms2proto/fieldclient/internal/clienterr"
	"github.com/ms2proto/fieldclient/internal/config"
	"github.com/ms2proto/fieldclient/internal/opcode"
	"github.com/ms2proto/fieldclient/internal/protocol"
	"github.com/ms2proto/fieldclient/internal/session"
)

// responseVersionUnknown is the wire-constant "unknown" field in
// ResponseVersion, a required magic number preserved exactly.
const responseVersionUnknown = int16(47)

// worldChannel is the fixed channel id submitted with character
// selection.
const worldChannel = int16(1)

// Character is one entry of the account's character list. Only the
// first entry a server advertises is ever surfaced: the remainder of
// the wire entry is variable-length and not parseable with the schema
// this client carries.
type Character struct {
	CharacterID int64
	Name        string
}

// Result is the outcome of Login. Success holds iff ErrorCode == 0.
type Result struct {
	Success      bool
	AccountID    int64
	Characters   []Character
	ErrorCode    uint8
	ErrorMessage string
}

// GameServerInfo is the game server handle returned by SelectCharacter,
// authorizing migration via a one-time token.
type GameServerInfo struct {
	Address [4]byte
	Port    uint16
	Token   uint64
	MapID   int32
}

// Flow drives the login-server side of the protocol over one Session.
// MachineID is generated once per Flow and resubmitted unchanged to the
// game server during key auth (C4).
type Flow struct {
	sess      *session.Session
	cfg       config.Client
	machineID [16]byte
}

// Connect dials the login server, completes the version handshake, and
// returns a Flow ready to Login. It registers the RequestLogin waiter
// before sending ResponseVersion — the transport-level rule that a
// waiter must precede its trigger applies here too.
func Connect(ctx context.Context, cfg config.Client) (*Flow, error) {
	sess, err := session.Connect(ctx, cfg.Host, cfg.Port, cfg.Session)
	if err != nil {
		return nil, err
	}

	var machineID [16]byte
	if _, err := rand.Read(machineID[:]); err != nil {
		sess.Dispose()
		return nil, fmt.Errorf("login: generating machine id: %w", err)
	}

	f := &Flow{sess: sess, cfg: cfg, machineID: machineID}

	w := sess.WaitFor(opcode.RequestLogin, cfg.WaitTimeout)
	if err := f.sendResponseVersion(); err != nil {
		sess.Dispose()
		return nil, err
	}
	if _, err := w.Wait(ctx); err != nil {
		sess.Dispose()
		return nil, fmt.Errorf("login: waiting for RequestLogin: %w", err)
	}

	return f, nil
}

func (f *Flow) sendResponseVersion() error {
	w := protocol.AcquireWriter(uint16(opcode.ResponseVersion))
	defer protocol.ReleaseWriter(w)
	w.Uint32(f.cfg.Session.Version)
	w.Short(responseVersionUnknown)
	w.Uint32(0) // locale: NA
	return f.sess.Send(w.Bytes())
}

// Dispose tears down the underlying transport.
func (f *Flow) Dispose() { f.sess.Dispose() }

// Login submits credentials and waits for the character list to finish
// streaming. The persistent CharacterList handler it installs parses
// entries incrementally and signals completion when the terminal EndList
// sub-command arrives; it stays installed on the session afterwards.
func (f *Flow) Login(ctx context.Context, username, password string) (Result, error) {
	charsDone := make(chan struct{})
	var characters []Character
	var tooMany bool

	f.sess.On(opcode.CharacterList, func(pkt protocol.Packet) {
		r := protocol.NewReader(pkt.Body())
		cmd, err := r.Byte()
		if err != nil {
			return
		}
		switch cmd {
		case opcode.CharacterListEntry:
			count, err := r.Byte()
			if err != nil {
				return
			}
			if int(count) > 1 {
				tooMany = true
			}
			for i := 0; i < int(count); i++ {
				// accountId: int64 (skip)
				if _, err := r.Long(); err != nil {
					return
				}
				characterID, err := r.Long()
				if err != nil {
					return
				}
				name, err := r.String()
				if err != nil {
					return
				}
				if i == 0 {
					characters = append(characters, Character{CharacterID: characterID, Name: name})
				}
				// The remainder of each entry is variable-length and
				// not covered by the schema this client carries: stop
				// parsing after the first entry rather than guessing
				// field layout for the rest.
				break
			}
		case opcode.CharacterListEndList:
			close(charsDone)
		}
	})

	w := f.sess.WaitFor(opcode.LoginResult, f.cfg.WaitTimeout)
	if err := f.sendResponseLogin(username, password); err != nil {
		return Result{}, err
	}

	data, err := w.Wait(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("login: waiting for LoginResult: %w", err)
	}

	r := protocol.NewReader(protocol.Packet(data).Body())
	state, err := r.Byte()
	if err != nil {
		return Result{}, fmt.Errorf("login: reading LoginResult state: %w", err)
	}
	if _, err := r.Int(); err != nil { // reserved
		return Result{}, fmt.Errorf("login: reading LoginResult reserved field: %w", err)
	}
	banReason, err := r.String()
	if err != nil {
		return Result{}, fmt.Errorf("login: reading LoginResult banReason: %w", err)
	}
	accountID, err := r.Long()
	if err != nil {
		return Result{}, fmt.Errorf("login: reading LoginResult accountId: %w", err)
	}

	if state != 0 {
		return Result{
			Success:      false,
			AccountID:    accountID,
			ErrorCode:    state,
			ErrorMessage: banReason,
		}, nil
	}

	charCtx, cancel := context.WithTimeout(ctx, f.cfg.CharacterTimeout)
	defer cancel()
	select {
	case <-charsDone:
	case <-charCtx.Done():
		return Result{}, fmt.Errorf("login: waiting for character list: %w", clienterr.ErrTimeout)
	}

	if tooMany {
		return Result{}, clienterr.ErrMultiCharacterUnsupported
	}

	return Result{
		Success:    true,
		AccountID:  accountID,
		Characters: characters,
	}, nil
}

func (f *Flow) sendResponseLogin(username, password string) error {
	w := protocol.AcquireWriter(uint16(opcode.ResponseLogin))
	defer protocol.ReleaseWriter(w)
	w.Byte(opcode.ResponseLoginCharacterList)
	w.String(username)
	w.String(password)
	w.Short(1) // required wire constant
	w.Raw(f.machineID[:])
	return f.sess.Send(w.Bytes())
}

// SelectCharacter picks characterId, awaits LoginToGame, and returns the
// game server handle authorizing migration.
func (f *Flow) SelectCharacter(ctx context.Context, characterID int64) (GameServerInfo, error) {
	w := f.sess.WaitFor(opcode.LoginToGame, f.cfg.WaitTimeout)

	wr := protocol.AcquireWriter(uint16(opcode.CharacterManagement))
	wr.Byte(opcode.CharacterManagementSelect)
	wr.Long(characterID)
	wr.Short(worldChannel)
	err := f.sess.Send(wr.Bytes())
	protocol.ReleaseWriter(wr)
	if err != nil {
		return GameServerInfo{}, err
	}

	data, err := w.Wait(ctx)
	if err != nil {
		return GameServerInfo{}, fmt.Errorf("login: waiting for LoginToGame: %w", err)
	}

	r := protocol.NewReader(protocol.Packet(data).Body())
	migrationError, err := r.Byte()
	if err != nil {
		return GameServerInfo{}, fmt.Errorf("login: reading LoginToGame migrationError: %w", err)
	}
	if migrationError != 0 {
		return GameServerInfo{}, fmt.Errorf("%w: code=%d", clienterr.ErrMigrationFailed, migrationError)
	}

	var info GameServerInfo
	ip, err := r.Bytes(4)
	if err != nil {
		return GameServerInfo{}, fmt.Errorf("login: reading LoginToGame ip: %w", err)
	}
	copy(info.Address[:], ip)

	port, err := r.Uint16()
	if err != nil {
		return GameServerInfo{}, fmt.Errorf("login: reading LoginToGame port: %w", err)
	}
	info.Port = port

	token, err := r.Uint64()
	if err != nil {
		return GameServerInfo{}, fmt.Errorf("login: reading LoginToGame token: %w", err)
	}
	info.Token = token

	mapID, err := r.Int()
	if err != nil {
		return GameServerInfo{}, fmt.Errorf("login: reading LoginToGame mapId: %w", err)
	}
	info.MapID = mapID

	return info, nil
}

// MachineID returns the flow's random per-session client identity,
// resubmitted to the game server during key auth.
func (f *Flow) MachineID() [16]byte { return f.machineID }
