// Package chain tracks the indexed height and per-height block hashes, and
// detects reorganisations by comparing the local hash chain with the remote
// one.
package chain

import (
	"errors"
	"fmt"

	"github.com/subfrost/espo/internal/store"
)

// Storage keys:
//
//	/__INTERNAL/height                 -> current height, u32 LE
//	/__INTERNAL/height-to-hash/<h_le4> -> ascii hex block hash
var (
	heightKey  = []byte("/__INTERNAL/height")
	hashPrefix = []byte("/__INTERNAL/height-to-hash/")
)

// maxHashScan bounds the forward walk in DeleteHashesFrom.
const maxHashScan = 10_000_000

// ErrReorgTooDeep is returned when no common ancestor is found within the
// detection window. Operator intervention is required.
var ErrReorgTooDeep = errors.New("reorg exceeds maximum depth")

// Metadata reads and writes the indexed-height pointer and the
// height-to-hash map on the primary store.
type Metadata struct {
	db *store.Store
}

// NewMetadata returns a Metadata over the given store.
func NewMetadata(db *store.Store) *Metadata {
	return &Metadata{db: db}
}

// IndexedHeight returns the current indexed height. ok is false when no
// block has been indexed yet.
func (m *Metadata) IndexedHeight() (uint32, bool, error) {
	raw, found, err := m.db.Get(heightKey)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("invalid height value of %d bytes", len(raw))
	}
	return uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24, true, nil
}

// SetIndexedHeight stores the current indexed height.
func (m *Metadata) SetIndexedHeight(height uint32) error {
	raw := []byte{byte(height), byte(height >> 8), byte(height >> 16), byte(height >> 24)}
	return m.db.Put(heightKey, raw)
}

func hashKey(height uint32) []byte {
	key := make([]byte, 0, len(hashPrefix)+4)
	key = append(key, hashPrefix...)
	return append(key, byte(height), byte(height>>8), byte(height>>16), byte(height>>24))
}

// StoreBlockHash records the block hash observed at height.
func (m *Metadata) StoreBlockHash(height uint32, blockHash string) error {
	return m.db.Put(hashKey(height), []byte(blockHash))
}

// BlockHash returns the recorded hash at height.
func (m *Metadata) BlockHash(height uint32) (string, bool, error) {
	raw, found, err := m.db.Get(hashKey(height))
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	return string(raw), true, nil
}

// DeleteHashesFrom removes stored hashes walking forward from height until
// the first gap. Used after a revert to drop hashes of abandoned blocks.
func (m *Metadata) DeleteHashesFrom(height uint32) error {
	for h := height; h < maxHashScan; h++ {
		key := hashKey(h)
		found, err := m.db.Has(key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		if err := m.db.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// RemoteHashFunc resolves the remote chain's hash at a height. ok is false
// when the remote does not know the height.
type RemoteHashFunc func(height uint32) (string, bool, error)

// DetectReorg walks backward from currentHeight−1 for at most maxDepth
// blocks, comparing local and remote hashes. It returns (0, false, nil)
// when the chains agree at the tip, (ancestor, true, nil) when they agree
// at an earlier height, ErrReorgTooDeep when the window is exhausted, and
// an error when a hash is missing on either side.
func (m *Metadata) DetectReorg(currentHeight, maxDepth uint32, remote RemoteHashFunc) (uint32, bool, error) {
	if currentHeight == 0 {
		return 0, false, nil
	}

	minHeight := uint32(0)
	if currentHeight > maxDepth {
		minHeight = currentHeight - maxDepth
	}

	for check := currentHeight - 1; check+1 > minHeight; check-- {
		local, localOK, err := m.BlockHash(check)
		if err != nil {
			return 0, false, err
		}
		remoteHash, remoteOK, err := remote(check)
		if err != nil {
			return 0, false, err
		}
		if !localOK || !remoteOK {
			return 0, false, fmt.Errorf("missing block hash at height %d during reorg detection", check)
		}
		if local == remoteHash {
			if check == currentHeight-1 {
				return 0, false, nil
			}
			return check, true, nil
		}
		if check == 0 {
			break
		}
	}

	return 0, false, fmt.Errorf("%w (%d blocks)", ErrReorgTooDeep, maxDepth)
}
