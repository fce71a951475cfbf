// Package session implements the transport layer: a TCP connection to
// either the login or game server, the handshake that bootstraps the
// cipher, and a receive loop that dispatches decoded packets to
// one-shot waiters (with precedence) and persistent handlers.
package session

import (
	"container/list"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ms2proto/fieldclient/internal/cipher"
	"github.com/ms2proto/fieldclient/internal/clienterr"
	"github.com/ms2proto/fieldclient/internal/config"
	"github.com/ms2proto/fieldclient/internal/opcode"
	"github.com/ms2proto/fieldclient/internal/protocol"
)

// Handler is a persistent callback invoked for every packet of an
// opcode not consumed by a waiter. A panicking handler is recovered and
// logged; it never kills the receive loop.
type Handler func(protocol.Packet)

// Session is a live, authenticated-at-the-transport-level connection to
// either the login server or a game server. It is created by Connect
// and torn down by Dispose; every other method is safe to call from any
// goroutine.
type Session struct {
	conn net.Conn

	sendMu sync.Mutex
	enc    *cipher.Encryptor

	dec *cipher.Decryptor // receive-loop owned only
	acc []byte            // receive-loop owned only

	waitersMu sync.Mutex
	waiters   map[uint16]*list.List

	handlers sync.Map // uint16 -> Handler

	closed   atomic.Bool
	recvDone chan struct{}
}

const scratchSize = 4096

// handshakeHeaderSize is the 6-byte plaintext header (sequenceId +
// packetLength) that precedes the RequestVersion handshake payload.
const handshakeHeaderSize = 6

// Connect dials host:port, performs the plaintext handshake, builds the
// cipher pair, and starts the background receive loop.
func Connect(ctx context.Context, host string, port uint16, sessionCfg config.Session) (*Session, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}

	raw, enc, dec, err := performHandshake(conn, sessionCfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	dec.Resync(raw)

	return NewFromConn(conn, enc, dec), nil
}

// NewFromConn builds a Session around an already-handshaken connection
// and starts its receive loop. Connect uses this after performing the
// real handshake; tests use it directly over a net.Pipe pair to drive
// the dispatch/waiter machinery without a real socket or handshake.
func NewFromConn(conn net.Conn, enc *cipher.Encryptor, dec *cipher.Decryptor) *Session {
	s := &Session{
		conn:     conn,
		enc:      enc,
		dec:      dec,
		waiters:  make(map[uint16]*list.List),
		recvDone: make(chan struct{}),
	}
	go s.recvLoop()
	return s
}

func performHandshake(conn net.Conn, sessionCfg config.Session) (raw []byte, enc *cipher.Encryptor, dec *cipher.Decryptor, err error) {
	header := make([]byte, handshakeHeaderSize)
	if _, err = io.ReadFull(conn, header); err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading handshake header: %w", err)
	}
	payloadLen := binary.LittleEndian.Uint32(header[2:6])

	payload := make([]byte, payloadLen)
	if _, err = io.ReadFull(conn, payload); err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading handshake payload: %w", err)
	}

	r := protocol.NewReader(payload)
	op, err := r.Uint16()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading handshake opcode: %w", err)
	}
	if opcode.SendOp(op) != opcode.RequestVersion {
		return nil, nil, nil, fmt.Errorf("%w: got 0x%04X", clienterr.ErrUnexpectedHandshakeOpcode, op)
	}

	version, err := r.Uint32()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading handshake version: %w", err)
	}
	if version != sessionCfg.Version {
		return nil, nil, nil, fmt.Errorf("%w: server=%d configured=%d", clienterr.ErrVersionMismatch, version, sessionCfg.Version)
	}

	riv, err := r.Uint32()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading riv: %w", err)
	}
	siv, err := r.Uint32()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading siv: %w", err)
	}
	blockIV, err := r.Uint32()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading blockIV: %w", err)
	}
	// patchType: uint8, present on the wire but unused by this client.
	if _, err = r.Byte(); err != nil {
		return nil, nil, nil, fmt.Errorf("session: reading patchType: %w", err)
	}

	// Swapped by design: the server's read channel is our write
	// channel and vice versa.
	enc = cipher.NewEncryptor(version, riv, blockIV)
	dec = cipher.NewDecryptor(version, siv, blockIV)

	raw = append(append([]byte{}, header...), payload...)
	return raw, enc, dec, nil
}

// Send encrypts and writes buf (opcode + body) as a single frame. All
// concurrent callers are serialized behind the send-cipher mutex, so no
// two frames interleave on the wire.
func (s *Session) Send(buf []byte) error {
	if s.closed.Load() {
		return clienterr.ErrNotConnected
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	frame, err := s.enc.Encrypt(buf, 0, len(buf))
	if err != nil {
		return fmt.Errorf("session: encrypt: %w", err)
	}

	if _, err := s.conn.Write(frame); err != nil {
		if s.closed.Load() {
			return clienterr.ErrNotConnected
		}
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// WaitFor registers a one-shot waiter for op with the given deadline.
// Must be called before the Send that triggers the server's reply, or
// a fast reply may be dispatched to a persistent handler (or dropped)
// before the waiter exists.
func (s *Session) WaitFor(op opcode.SendOp, deadline time.Duration) *Waiter {
	w := &Waiter{
		resultCh: make(chan waiterResult, 1),
		session:  s,
		op:       uint16(op),
	}

	s.waitersMu.Lock()
	lst, ok := s.waiters[uint16(op)]
	if !ok {
		lst = list.New()
		s.waiters[uint16(op)] = lst
	}
	w.elem = lst.PushBack(w)
	s.waitersMu.Unlock()

	w.timer = time.AfterFunc(deadline, func() {
		w.cancel(clienterr.ErrTimeout)
	})
	return w
}

// On installs or replaces the persistent handler for op.
func (s *Session) On(op opcode.SendOp, handler Handler) {
	s.handlers.Store(uint16(op), handler)
}

// Dispose closes the socket, waits up to 2s for the receive loop to
// exit, and cancels every pending waiter with ErrConnectionClosed.
// Idempotent.
func (s *Session) Dispose() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.conn.Close()

	select {
	case <-s.recvDone:
	case <-time.After(2 * time.Second):
		slog.Warn("session: receive loop did not exit within grace period")
	}

	s.waitersMu.Lock()
	pending := make([]*Waiter, 0)
	for op, lst := range s.waiters {
		for e := lst.Front(); e != nil; e = e.Next() {
			pending = append(pending, e.Value.(*Waiter))
		}
		delete(s.waiters, op)
	}
	s.waitersMu.Unlock()

	for _, w := range pending {
		w.elem = nil
		w.timer.Stop()
		w.once.Do(func() {
			w.resultCh <- waiterResult{err: clienterr.ErrConnectionClosed}
		})
	}
}

func (s *Session) popWaiter(op uint16) *Waiter {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()

	lst, ok := s.waiters[op]
	if !ok || lst.Len() == 0 {
		return nil
	}
	front := lst.Front()
	w := front.Value.(*Waiter)
	lst.Remove(front)
	w.elem = nil
	return w
}

// dispatch applies the precedence rule: a live waiter consumes the
// packet to the exclusion of the persistent handler.
func (s *Session) dispatch(pkt protocol.Packet) {
	op := pkt.Opcode()
	slog.Debug("packet received", "opcode", op, "len", len(pkt))

	if w := s.popWaiter(op); w != nil {
		w.resolve(pkt)
		return
	}

	v, ok := s.handlers.Load(op)
	if !ok {
		return
	}
	handler := v.(Handler)

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("session: handler panic", "opcode", op, "panic", r)
			}
		}()
		handler(pkt)
	}()
}

func (s *Session) recvLoop() {
	defer close(s.recvDone)

	scratch := make([]byte, scratchSize)
	for {
		n, err := s.conn.Read(scratch)
		if n > 0 {
			s.acc = append(s.acc, scratch[:n]...)
			for {
				consumed, body := s.dec.TryDecrypt(s.acc)
				if consumed == 0 {
					break
				}

				// Copy out before sliding the accumulator: body
				// aliases s.acc's backing array, and a waiter's
				// resolution crosses a goroutine boundary via
				// channel, so it must not observe a mutated buffer.
				pkt := append([]byte(nil), body...)
				s.acc = s.acc[consumed:]
				if len(s.acc) == 0 {
					s.acc = s.acc[:0]
				}

				p, perr := protocol.NewPacket(pkt)
				if perr != nil {
					slog.Warn("session: dropping short packet", "err", perr)
					continue
				}
				s.dispatch(p)
			}
		}
		if err != nil {
			if !s.closed.Load() && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				slog.Error("session: read error", "err", err)
			}
			return
		}
	}
}
