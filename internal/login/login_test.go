package login

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ms2proto/fieldclient/internal/cipher"
	"github.com/ms2proto/fieldclient/internal/clienterr"
	"github.com/ms2proto/fieldclient/internal/config"
	"github.com/ms2proto/fieldclient/internal/opcode"
	"github.com/ms2proto/fieldclient/internal/protocol"
	"github.com/ms2proto/fieldclient/internal/session"
)

// fakeServer plays the login server's side of the handshake directly
// over a raw net.Conn, the same hand-rolled-dial-and-handshake style the
// teacher's internal/testutil clients use.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	enc  *cipher.Encryptor
	dec  *cipher.Decryptor
}

const (
	fakeVersion = uint32(12)
	fakeRIV     = uint32(0xDEADBEEF)
	fakeSIV     = uint32(0xCAFEBABE)
	fakeBlockIV = uint32(0x12345678)
)

func newFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	t.Helper()
	return &fakeServer{
		t:    t,
		conn: conn,
		enc:  cipher.NewEncryptor(fakeVersion, fakeSIV, fakeBlockIV), // server sends on siv (client decrypts with siv)
		dec:  cipher.NewDecryptor(fakeVersion, fakeRIV, fakeBlockIV),
	}
}

// sendHandshake writes the plaintext RequestVersion handshake frame the
// real login server sends on connect. Like the real server, it frames the
// handshake with its encryptor's WriteHeader, which advances the send IV
// the client then replays with Decryptor.Resync.
func (fs *fakeServer) sendHandshake() {
	fs.t.Helper()
	body := make([]byte, 0, 19)
	body = binary.LittleEndian.AppendUint16(body, uint16(opcode.RequestVersion))
	body = binary.LittleEndian.AppendUint32(body, fakeVersion)
	body = binary.LittleEndian.AppendUint32(body, fakeRIV)
	body = binary.LittleEndian.AppendUint32(body, fakeSIV)
	body = binary.LittleEndian.AppendUint32(body, fakeBlockIV)
	body = append(body, 0) // patchType

	err := fs.enc.WriteHeader(fs.conn, 1, body)
	require.NoError(fs.t, err)
}

func (fs *fakeServer) send(pkt []byte) {
	fs.t.Helper()
	frame, err := fs.enc.Encrypt(pkt, 0, len(pkt))
	require.NoError(fs.t, err)
	_, err = fs.conn.Write(frame)
	require.NoError(fs.t, err)
}

// recv blocks until one client-authored frame is decoded.
func (fs *fakeServer) recv() protocol.Packet {
	fs.t.Helper()
	var acc []byte
	scratch := make([]byte, 4096)
	for {
		if consumed, body := fs.dec.TryDecrypt(acc); consumed > 0 {
			pkt := append([]byte(nil), body...)
			return protocol.Packet(pkt)
		}
		n, err := fs.conn.Read(scratch)
		require.NoError(fs.t, err)
		acc = append(acc, scratch[:n]...)
	}
}

func fakePacket(op uint16, body ...byte) []byte {
	buf := make([]byte, 2+len(body))
	buf[0] = byte(op)
	buf[1] = byte(op >> 8)
	copy(buf[2:], body)
	return buf
}

func testClientConfig() config.Client {
	cfg := config.Default()
	cfg.WaitTimeout = 2 * time.Second
	cfg.CharacterTimeout = 2 * time.Second
	return cfg
}

// dialViaPipe connects a Flow over a net.Pipe instead of a real TCP
// dial, by constructing the Session around one end directly and
// performing the handshake read manually (session.Connect expects to
// dial itself, so tests exercise Flow against session.NewFromConn plus
// a hand-driven handshake, matching how session's own tests avoid a
// real socket).
func dialViaPipe(t *testing.T) (*Flow, *fakeServer) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close() })

	fs := newFakeServer(t, serverConn)

	// Perform the handshake over clientConn manually (mirrors
	// session.performHandshake), since session.Connect dials its own
	// socket and can't be pointed at an existing net.Conn.
	go fs.sendHandshake()

	header := make([]byte, 6)
	_, err := readFull(clientConn, header)
	require.NoError(t, err)
	payloadLen := binary.LittleEndian.Uint32(header[2:6])
	payload := make([]byte, payloadLen)
	_, err = readFull(clientConn, payload)
	require.NoError(t, err)

	r := protocol.NewReader(payload)
	_, _ = r.Uint16() // opcode
	version, _ := r.Uint32()
	riv, _ := r.Uint32()
	siv, _ := r.Uint32()
	blockIV, _ := r.Uint32()

	enc := cipher.NewEncryptor(version, riv, blockIV)
	dec := cipher.NewDecryptor(version, siv, blockIV)
	raw := append(append([]byte{}, header...), payload...)
	dec.Resync(raw)

	sess := session.NewFromConn(clientConn, enc, dec)
	cfg := testClientConfig()

	var machineID [16]byte
	flow := &Flow{sess: sess, cfg: cfg, machineID: machineID}

	t.Cleanup(sess.Dispose)
	return flow, fs
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestLoginHappyPath(t *testing.T) {
	flow, fs := dialViaPipe(t)

	go func() {
		// RequestLogin isn't awaited by dialViaPipe (it bypasses
		// Connect's own handshake wait), so Login can proceed
		// straight to ResponseLogin.
		pkt := fs.recv()
		assert.Equal(t, uint16(opcode.ResponseLogin), pkt.Opcode())

		body := []byte{0} // state=0
		body = binary.LittleEndian.AppendUint32(body, 0)
		body = appendWireString(body, "")
		body = binary.LittleEndian.AppendUint64(body, 42)
		fs.send(fakePacket(uint16(opcode.LoginResult), body...))

		entry := make([]byte, 0)
		entry = binary.LittleEndian.AppendUint64(entry, 42)     // accountId
		entry = binary.LittleEndian.AppendUint64(entry, 10001)  // characterId
		entry = appendWireString(entry, "Hero")
		listBody := append([]byte{opcode.CharacterListEntry, 1}, entry...)
		fs.send(fakePacket(uint16(opcode.CharacterList), listBody...))
		fs.send(fakePacket(uint16(opcode.CharacterList), opcode.CharacterListEndList))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := flow.Login(ctx, "testbot", "testbot")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(42), result.AccountID)
	require.Len(t, result.Characters, 1)
	assert.Equal(t, int64(10001), result.Characters[0].CharacterID)
	assert.Equal(t, "Hero", result.Characters[0].Name)
}

func TestLoginRejected(t *testing.T) {
	flow, fs := dialViaPipe(t)

	go func() {
		fs.recv()
		body := []byte{5} // state != 0
		body = binary.LittleEndian.AppendUint32(body, 0)
		body = appendWireString(body, "banned for cheating")
		body = binary.LittleEndian.AppendUint64(body, 0)
		fs.send(fakePacket(uint16(opcode.LoginResult), body...))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := flow.Login(ctx, "testbot", "testbot")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.EqualValues(t, 5, result.ErrorCode)
	assert.Equal(t, "banned for cheating", result.ErrorMessage)
}

func TestSelectCharacterMigration(t *testing.T) {
	flow, fs := dialViaPipe(t)

	go func() {
		pkt := fs.recv()
		assert.Equal(t, uint16(opcode.CharacterManagement), pkt.Opcode())

		body := []byte{0}
		body = append(body, 127, 0, 0, 1)
		body = binary.LittleEndian.AppendUint16(body, 22001)
		body = binary.LittleEndian.AppendUint64(body, 0xAABBCCDD)
		body = binary.LittleEndian.AppendUint32(body, 2000062)
		fs.send(fakePacket(uint16(opcode.LoginToGame), body...))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := flow.SelectCharacter(ctx, 10001)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, info.Address)
	assert.EqualValues(t, 22001, info.Port)
	assert.EqualValues(t, 0xAABBCCDD, info.Token)
	assert.EqualValues(t, 2000062, info.MapID)
}

func TestSelectCharacterMigrationFailed(t *testing.T) {
	flow, fs := dialViaPipe(t)

	go func() {
		fs.recv()
		fs.send(fakePacket(uint16(opcode.LoginToGame), 7))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := flow.SelectCharacter(ctx, 10001)
	assert.ErrorIs(t, err, clienterr.ErrMigrationFailed)
}

func TestLoginMultiCharacterUnsupported(t *testing.T) {
	flow, fs := dialViaPipe(t)

	go func() {
		fs.recv()
		body := []byte{0}
		body = binary.LittleEndian.AppendUint32(body, 0)
		body = appendWireString(body, "")
		body = binary.LittleEndian.AppendUint64(body, 42)
		fs.send(fakePacket(uint16(opcode.LoginResult), body...))

		entry := make([]byte, 0)
		entry = binary.LittleEndian.AppendUint64(entry, 42)
		entry = binary.LittleEndian.AppendUint64(entry, 10001)
		entry = appendWireString(entry, "Hero")
		listBody := append([]byte{opcode.CharacterListEntry, 2}, entry...)
		fs.send(fakePacket(uint16(opcode.CharacterList), listBody...))
		fs.send(fakePacket(uint16(opcode.CharacterList), opcode.CharacterListEndList))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := flow.Login(ctx, "testbot", "testbot")
	assert.ErrorIs(t, err, clienterr.ErrMultiCharacterUnsupported)
}

func appendWireString(buf []byte, s string) []byte {
	units := []uint16{}
	for _, r := range s {
		units = append(units, uint16(r))
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(units)))
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	return buf
}
