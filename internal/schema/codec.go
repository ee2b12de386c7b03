// Package schema defines the persisted data model of the espo indexer and a
// deterministic binary codec for it.
//
// The wire format is fixed: integers are little-endian at fixed width, u128
// values take 16 bytes, byte strings carry a u32 length prefix, options a
// one-byte tag, enums a one-byte discriminant, and maps are written in
// ascending key order. The same value always encodes to the same bytes.
package schema

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrShortBuffer is returned when a decode runs past the end of the input.
var ErrShortBuffer = errors.New("schema: short buffer")

// maxByteLen bounds length prefixes so a corrupt value cannot force a huge
// allocation.
const maxByteLen = 1 << 26

// Writer accumulates the deterministic encoding of a value.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) U8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
	} else {
		w.U8(0)
	}
}

func (w *Writer) U32(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (w *Writer) U64(v uint64) {
	w.U32(uint32(v))
	w.U32(uint32(v >> 32))
}

// U128 writes the low 128 bits of v. Values wider than 128 bits never reach
// the codec; callers validate on the way in.
func (w *Writer) U128(v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	w.U64(v[0])
	w.U64(v[1])
}

// I128 writes v as 16 little-endian two's-complement bytes.
func (w *Writer) I128(v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	var raw [16]byte
	mag := v.Bytes() // big-endian magnitude
	for i, b := range mag {
		raw[len(mag)-1-i] = b
	}
	if v.Sign() < 0 {
		// two's complement: invert and add one
		carry := uint16(1)
		for i := 0; i < 16; i++ {
			s := uint16(^raw[i]) + carry
			raw[i] = byte(s)
			carry = s >> 8
		}
	}
	w.buf = append(w.buf, raw[:]...)
}

// Bytes32 writes a fixed 32-byte array.
func (w *Writer) Bytes32(b [32]byte) {
	w.buf = append(w.buf, b[:]...)
}

// VarBytes writes a u32 length prefix followed by the payload.
func (w *Writer) VarBytes(b []byte) {
	w.U32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// String writes a u32 length prefix followed by the UTF-8 payload.
func (w *Writer) String(s string) {
	w.VarBytes([]byte(s))
}

// Option writes the presence tag for an optional field. The caller writes
// the payload itself when present is true.
func (w *Writer) Option(present bool) {
	w.Bool(present)
}

// Reader decodes values produced by Writer.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps b for decoding.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports how many undecoded bytes are left.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Finish returns an error unless the input was consumed exactly.
func (r *Reader) Finish() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("schema: %d trailing bytes", len(r.buf)-r.off)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("schema: invalid bool tag %d", v)
	}
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *Reader) U64() (uint64, error) {
	lo, err := r.U32()
	if err != nil {
		return 0, err
	}
	hi, err := r.U32()
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (r *Reader) U128() (*uint256.Int, error) {
	lo, err := r.U64()
	if err != nil {
		return nil, err
	}
	hi, err := r.U64()
	if err != nil {
		return nil, err
	}
	v := new(uint256.Int)
	v[0] = lo
	v[1] = hi
	return v, nil
}

func (r *Reader) I128() (*big.Int, error) {
	raw, err := r.take(16)
	if err != nil {
		return nil, err
	}
	var tmp [16]byte
	copy(tmp[:], raw)
	neg := tmp[15]&0x80 != 0
	if neg {
		// undo two's complement: subtract one and invert
		borrow := uint16(1)
		for i := 0; i < 16; i++ {
			s := uint16(tmp[i]) - borrow
			tmp[i] = byte(s)
			borrow = (s >> 8) & 1
		}
		for i := range tmp {
			tmp[i] = ^tmp[i]
		}
	}
	// little-endian magnitude to big-endian for big.Int
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[i] = tmp[15-i]
	}
	v := new(big.Int).SetBytes(be[:])
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// Bytes32 reads a fixed 32-byte array.
func (r *Reader) Bytes32() ([32]byte, error) {
	var out [32]byte
	b, err := r.take(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// VarBytes reads a u32 length prefix followed by the payload.
func (r *Reader) VarBytes() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if n > maxByteLen {
		return nil, fmt.Errorf("schema: byte length %d exceeds limit", n)
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// String reads a u32 length prefix followed by the UTF-8 payload.
func (r *Reader) String() (string, error) {
	b, err := r.VarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Option reads the presence tag for an optional field.
func (r *Reader) Option() (bool, error) {
	return r.Bool()
}
