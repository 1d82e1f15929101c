package snapshot

import (
	"bytes"
	"encoding/binary"
	"math"
)

// writer accumulates little-endian binary data.
type writer struct {
	buf bytes.Buffer
}

func newWriter() *writer { return &writer{} }

func (w *writer) bytes() []byte { return w.buf.Bytes() }

func (w *writer) raw(p []byte) { w.buf.Write(p) }

func (w *writer) u8(v uint8) { w.buf.WriteByte(v) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }
func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

// str8/str16/str32 write length-prefixed strings. Oversized strings are
// truncated to the prefix capacity rather than corrupting the stream.
func (w *writer) str8(s string) {
	if len(s) > math.MaxUint8 {
		s = s[:math.MaxUint8]
	}
	w.u8(uint8(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) str16(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.u16(uint16(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) str32(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

// reader consumes little-endian binary data with a sticky error: after the
// first truncated read, every subsequent read returns zero values and err
// stays set. Callers check err once per logical block.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) []byte {
	if r.err != nil || r.remaining() < n {
		r.err = ErrCorruptSnapshot
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

func (r *reader) skip(n int) { r.take(n) }

func (r *reader) u8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *reader) u16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *reader) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *reader) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *reader) i32() int32 { return int32(r.u32()) }
func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) str8() string  { return string(r.take(int(r.u8()))) }
func (r *reader) str16() string { return string(r.take(int(r.u16()))) }
func (r *reader) str32() string {
	n := r.u32()
	if r.err != nil || uint64(n) > uint64(r.remaining()) {
		r.err = ErrCorruptSnapshot
		return ""
	}
	return string(r.take(int(n)))
}
