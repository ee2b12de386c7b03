package aof

import (
	"github.com/subfrost/espo/internal/schema"
)

// Change is one recorded key mutation. Before carries the pre-block value
// when HasBefore is set; HasAfter distinguishes a put from a delete.
type Change struct {
	Namespace string
	Key       []byte
	Before    []byte
	HasBefore bool
	After     []byte
	HasAfter  bool
}

// BlockLog is the full change set of one applied block. Replaying Updates
// in reverse restores the primary store to its pre-block state.
type BlockLog struct {
	Height    uint32
	BlockHash string
	Updates   []Change
}

// Encode returns the deterministic wire form.
func (b *BlockLog) Encode() []byte {
	w := schema.NewWriter()
	w.U32(b.Height)
	w.String(b.BlockHash)
	w.U32(uint32(len(b.Updates)))
	for i := range b.Updates {
		c := &b.Updates[i]
		w.String(c.Namespace)
		w.VarBytes(c.Key)
		w.Option(c.HasBefore)
		if c.HasBefore {
			w.VarBytes(c.Before)
		}
		w.Option(c.HasAfter)
		if c.HasAfter {
			w.VarBytes(c.After)
		}
	}
	return w.Bytes()
}

// DecodeBlockLog decodes a value produced by Encode.
func DecodeBlockLog(buf []byte) (*BlockLog, error) {
	r := schema.NewReader(buf)
	var b BlockLog
	var err error
	if b.Height, err = r.U32(); err != nil {
		return nil, err
	}
	if b.BlockHash, err = r.String(); err != nil {
		return nil, err
	}
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var c Change
		if c.Namespace, err = r.String(); err != nil {
			return nil, err
		}
		if c.Key, err = r.VarBytes(); err != nil {
			return nil, err
		}
		if c.HasBefore, err = r.Option(); err != nil {
			return nil, err
		}
		if c.HasBefore {
			if c.Before, err = r.VarBytes(); err != nil {
				return nil, err
			}
		}
		if c.HasAfter, err = r.Option(); err != nil {
			return nil, err
		}
		if c.HasAfter {
			if c.After, err = r.VarBytes(); err != nil {
				return nil, err
			}
		}
		b.Updates = append(b.Updates, c)
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return &b, nil
}
