// Package codec implements the Borsh-style binary layout used for stored
// records: little-endian integers, u32 length-prefixed byte strings, and a
// one-byte presence tag in front of optional values.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a decode runs past the end of the input.
var ErrShortBuffer = errors.New("codec: short buffer")

// maxStringLen bounds any length prefix accepted by the reader.
const maxStringLen = 1 << 20

// Writer appends encoded values to an internal buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given capacity hint.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// U8 writes a single byte.
func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

// Bool writes 0 or 1.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// I64 writes a little-endian int64.
func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

// Fixed writes raw bytes without a length prefix.
func (w *Writer) Fixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// VarBytes writes a u32 length prefix followed by b.
func (w *Writer) VarBytes(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// String writes a u32 length prefix followed by the UTF-8 bytes.
func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// OptString writes a presence byte and, if set, the string.
func (w *Writer) OptString(s *string) {
	if s == nil {
		w.U8(0)
		return
	}
	w.U8(1)
	w.String(*s)
}

// OptFixed writes a presence byte and, if set, the raw bytes.
func (w *Writer) OptFixed(b []byte) {
	if b == nil {
		w.U8(0)
		return
	}
	w.U8(1)
	w.Fixed(b)
}

// Reader decodes values in order. The first failure is sticky:
// later calls return zero values and Err reports the original cause.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decode error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Done returns an error if decoding failed or bytes remain unread.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("codec: %d trailing bytes", len(r.data)-r.off)
	}
	return nil
}

// take returns the next n bytes or records ErrShortBuffer.
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrShortBuffer
		return nil
	}

	b := r.data[r.off : r.off+n]
	r.off += n

	return b
}

// U8 reads a single byte.
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a byte that must be 0 or 1.
func (r *Reader) Bool() bool {
	v := r.U8()
	if v > 1 && r.err == nil {
		r.err = fmt.Errorf("codec: invalid bool %d", v)
	}
	return v == 1
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// I64 reads a little-endian int64.
func (r *Reader) I64() int64 {
	return int64(r.U64())
}

// Fixed copies exactly len(dst) bytes into dst.
func (r *Reader) Fixed(dst []byte) {
	b := r.take(len(dst))
	if b != nil {
		copy(dst, b)
	}
}

// VarBytes reads a u32 length-prefixed byte string.
func (r *Reader) VarBytes() []byte {
	n := r.U32()
	if n > maxStringLen && r.err == nil {
		r.err = fmt.Errorf("codec: length %d exceeds limit", n)
	}

	b := r.take(int(n))
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

// String reads a u32 length-prefixed string.
func (r *Reader) String() string {
	return string(r.VarBytes())
}

// OptString reads a presence byte and, if set, a string.
func (r *Reader) OptString() *string {
	if !r.presence() {
		return nil
	}
	s := r.String()
	return &s
}

// OptFixed reads a presence byte and, if set, fills dst. Reports presence.
func (r *Reader) OptFixed(dst []byte) bool {
	if !r.presence() {
		return false
	}
	r.Fixed(dst)
	return r.err == nil
}

// presence reads an option tag.
func (r *Reader) presence() bool {
	switch tag := r.U8(); tag {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = fmt.Errorf("codec: invalid option tag %d", tag)
		}
		return false
	}
}
