package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// AlkaneId identifies an alkane contract by the block and transaction index
// of its creation. Ids are totally ordered by (Block, Tx); that order is
// used everywhere a deterministic key or map ordering is needed.
type AlkaneId struct {
	Block uint32
	Tx    uint64
}

// Cmp compares two ids, returning -1, 0, or 1.
func (a AlkaneId) Cmp(b AlkaneId) int {
	if a.Block != b.Block {
		if a.Block < b.Block {
			return -1
		}
		return 1
	}
	if a.Tx != b.Tx {
		if a.Tx < b.Tx {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether a orders before b.
func (a AlkaneId) Less(b AlkaneId) bool {
	return a.Cmp(b) < 0
}

// String renders the id as "block:tx".
func (a AlkaneId) String() string {
	return fmt.Sprintf("%d:%d", a.Block, a.Tx)
}

// ParseAlkaneId parses a "block:tx" string.
func ParseAlkaneId(s string) (AlkaneId, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return AlkaneId{}, fmt.Errorf("invalid alkane id %q", s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return AlkaneId{}, fmt.Errorf("invalid alkane id %q: %w", s, err)
	}
	tx, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return AlkaneId{}, fmt.Errorf("invalid alkane id %q: %w", s, err)
	}
	return AlkaneId{Block: uint32(block), Tx: tx}, nil
}

// Bytes returns the 12-byte wire form of the id (u32 LE block, u64 LE tx),
// also used inside store keys.
func (a AlkaneId) Bytes() []byte {
	w := NewWriter()
	a.encode(w)
	return w.Bytes()
}

func (a AlkaneId) encode(w *Writer) {
	w.U32(a.Block)
	w.U64(a.Tx)
}

func decodeAlkaneId(r *Reader) (AlkaneId, error) {
	block, err := r.U32()
	if err != nil {
		return AlkaneId{}, err
	}
	tx, err := r.U64()
	if err != nil {
		return AlkaneId{}, err
	}
	return AlkaneId{Block: block, Tx: tx}, nil
}

// AlkaneIdFromBytes decodes a 12-byte id as produced by Bytes.
func AlkaneIdFromBytes(b []byte) (AlkaneId, error) {
	r := NewReader(b)
	id, err := decodeAlkaneId(r)
	if err != nil {
		return AlkaneId{}, err
	}
	if err := r.Finish(); err != nil {
		return AlkaneId{}, err
	}
	return id, nil
}
