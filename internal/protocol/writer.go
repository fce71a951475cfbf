package protocol

import (
	"encoding/binary"
	"math"
	"sync"
	"unicode/utf16"
)

// Writer builds a packet body in little-endian order. Writer values are
// pooled (see AcquireWriter/ReleaseWriter) since every Send allocates
// one per call on the hot path.
type Writer struct {
	buf []byte
}

var writerPool = sync.Pool{
	New: func() any { return &Writer{buf: make([]byte, 0, 256)} },
}

// AcquireWriter returns a Writer with opcode already written, ready for
// body fields. Callers must call ReleaseWriter when done with the bytes
// returned by Bytes.
func AcquireWriter(opcode uint16) *Writer {
	w := writerPool.Get().(*Writer)
	w.buf = w.buf[:0]
	w.Uint16(opcode)
	return w
}

// ReleaseWriter returns w to the pool. The slice previously returned by
// Bytes must not be used after this call.
func ReleaseWriter(w *Writer) {
	writerPool.Put(w)
}

// Bytes returns the accumulated buffer. It aliases the writer's backing
// array and is only valid until the writer is released or reused.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Byte(v byte) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.Byte(1)
	}
	return w.Byte(0)
}

func (w *Writer) Short(v int16) *Writer { return w.Uint16(uint16(v)) }

func (w *Writer) Uint16(v uint16) *Writer {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) Int(v int32) *Writer { return w.Uint32(uint32(v)) }

func (w *Writer) Uint32(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) Long(v int64) *Writer { return w.Uint64(uint64(v)) }

func (w *Writer) Uint64(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) Float(v float32) *Writer {
	return w.Uint32(math.Float32bits(v))
}

func (w *Writer) Double(v float64) *Writer {
	return w.Uint64(math.Float64bits(v))
}

func (w *Writer) Vec3(v Vec3) *Writer {
	return w.Float(v.X).Float(v.Y).Float(v.Z)
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// String writes a length-prefixed (uint16 character count) UTF-16LE
// string, matching every `unicode`-typed field.
func (w *Writer) String(s string) *Writer {
	units := utf16.Encode([]rune(s))
	w.Uint16(uint16(len(units)))
	for _, u := range units {
		w.Uint16(u)
	}
	return w
}
