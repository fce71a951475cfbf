package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// Reader parses primitives out of a packet body in little-endian order.
// It tracks its own cursor; every read that runs past the end of buf
// returns an error instead of panicking, since packet bodies arrive
// from the network and must never be trusted.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads starting at offset 0.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("protocol: read past end (pos=%d, need=%d, len=%d)", r.pos, n, len(r.buf))
	}
	return nil
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) Byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	return b != 0, err
}

func (r *Reader) Short() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.LittleEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	v, err := r.Short()
	return uint16(v), err
}

func (r *Reader) Int() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	v, err := r.Int()
	return uint32(v), err
}

func (r *Reader) Long() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	v, err := r.Long()
	return uint64(v), err
}

func (r *Reader) Float() (float32, error) {
	bits, err := r.Uint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

func (r *Reader) Double() (float64, error) {
	bits, err := r.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func (r *Reader) Vec3() (Vec3, error) {
	x, err := r.Float()
	if err != nil {
		return Vec3{}, err
	}
	y, err := r.Float()
	if err != nil {
		return Vec3{}, err
	}
	z, err := r.Float()
	if err != nil {
		return Vec3{}, err
	}
	return Vec3{X: x, Y: y, Z: z}, nil
}

// Bytes returns a zero-copy view over the next n bytes. The returned
// slice aliases the reader's backing array; callers that need to retain
// it past the packet's lifetime must copy it themselves.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// String reads a length-prefixed (uint16 character count) UTF-16LE
// string and decodes it to UTF-8, matching the wire shape of every
// `unicode`-typed field.
func (r *Reader) String() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	raw, err := r.Bytes(int(n) * 2)
	if err != nil {
		return "", err
	}
	return decodeUTF16LE(raw), nil
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}
