// Package aof implements the append-only forward log: a write-shadow over
// the primary store recording per-key before/after images per block, so a
// reorg can revert whole blocks without the primary store supporting
// snapshots.
package aof

import (
	"fmt"
	"sync"

	"github.com/subfrost/espo/internal/store"
	"github.com/subfrost/espo/pkg/logging"
)

// DefaultDepth is the number of blocks retained in the log window, which is
// also the maximum rollback depth for reorg protection.
const DefaultDepth = 100

// Manager records primary-store mutations per block and can replay them in
// reverse. Writes issued while no block is being recorded are treated as
// bootstrap or maintenance writes and are not logged.
type Manager struct {
	primary *store.Store
	logdb   *store.Store
	depth   uint32
	log     *logging.Logger

	mu        sync.Mutex
	recording bool
	height    uint32
	blockHash string
	updates   []Change
	seen      map[string]int
}

// New creates a Manager over the given primary and log stores and prunes
// any entries beyond the retention window left over from a previous run.
func New(primary, logdb *store.Store, depth uint32, log *logging.Logger) (*Manager, error) {
	if depth == 0 {
		depth = DefaultDepth
	}
	m := &Manager{
		primary: primary,
		logdb:   logdb,
		depth:   depth,
		log:     log,
		seen:    make(map[string]int),
	}
	if err := m.pruneOld(nil); err != nil {
		return nil, fmt.Errorf("aof prune at open: %w", err)
	}
	return m, nil
}

// Depth returns the retention window in blocks.
func (m *Manager) Depth() uint32 {
	return m.depth
}

// StartBlock begins recording changes for the given block. Any state from
// an unfinished previous block is discarded.
func (m *Manager) StartBlock(height uint32, blockHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recording = true
	m.height = height
	m.blockHash = blockHash
	m.updates = m.updates[:0]
	m.seen = make(map[string]int)
}

// Recording reports whether a block is currently open.
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// RecordPut notes that key is about to be overwritten with after. before
// carries the current value when beforeFound is set.
func (m *Manager) RecordPut(namespace string, key, before []byte, beforeFound bool, after []byte) {
	m.recordChange(namespace, key, before, beforeFound, after, true)
}

// RecordDelete notes that key is about to be deleted.
func (m *Manager) RecordDelete(namespace string, key, before []byte, beforeFound bool) {
	m.recordChange(namespace, key, before, beforeFound, nil, false)
}

func (m *Manager) recordChange(namespace string, key, before []byte, beforeFound bool, after []byte, hasAfter bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.recording {
		return
	}

	if idx, ok := m.seen[string(key)]; ok {
		// First before wins, last after wins.
		change := &m.updates[idx]
		if !change.HasBefore && beforeFound {
			change.Before = append([]byte(nil), before...)
			change.HasBefore = true
		}
		change.After = append([]byte(nil), after...)
		change.HasAfter = hasAfter
		return
	}

	m.seen[string(key)] = len(m.updates)
	m.updates = append(m.updates, Change{
		Namespace: namespace,
		Key:       append([]byte(nil), key...),
		Before:    append([]byte(nil), before...),
		HasBefore: beforeFound,
		After:     append([]byte(nil), after...),
		HasAfter:  hasAfter,
	})
}

// FinishBlock persists the recorded change set as one BlockLog, flushes the
// log store, and prunes entries that fell out of the retention window. A
// call with no open block is a no-op.
func (m *Manager) FinishBlock() error {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return nil
	}
	entry := &BlockLog{
		Height:    m.height,
		BlockHash: m.blockHash,
		Updates:   append([]Change(nil), m.updates...),
	}
	m.recording = false
	m.updates = m.updates[:0]
	m.seen = make(map[string]int)
	m.mu.Unlock()

	if err := m.logdb.Put(blockKey(entry.Height), entry.Encode()); err != nil {
		return fmt.Errorf("aof persist block %d: %w", entry.Height, err)
	}
	// Durability matters here: a reorg must find this log on disk.
	if err := m.logdb.Sync(); err != nil {
		return fmt.Errorf("aof sync block %d: %w", entry.Height, err)
	}
	height := entry.Height
	return m.pruneOld(&height)
}

// blockKey builds the log key: literal 'b' followed by the height big-endian,
// so ascending key order is ascending height order.
func blockKey(height uint32) []byte {
	return []byte{'b', byte(height >> 24), byte(height >> 16), byte(height >> 8), byte(height)}
}

// decodeBlockKey rejects any key that is not exactly 'b' plus 4 bytes.
func decodeBlockKey(key []byte) (uint32, bool) {
	if len(key) != 5 || key[0] != 'b' {
		return 0, false
	}
	return uint32(key[1])<<24 | uint32(key[2])<<16 | uint32(key[3])<<8 | uint32(key[4]), true
}

func (m *Manager) listHeights() ([]uint32, error) {
	var heights []uint32
	err := m.logdb.IteratePrefix([]byte{'b'}, false, func(key, _ []byte) (bool, error) {
		if h, ok := decodeBlockKey(key); ok {
			heights = append(heights, h)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return heights, nil
}

// pruneOld deletes log entries below newest − depth + 1. Passing nil anchors
// on the highest entry currently stored. Idempotent.
func (m *Manager) pruneOld(newest *uint32) error {
	heights, err := m.listHeights()
	if err != nil {
		return err
	}
	if len(heights) == 0 {
		return nil
	}

	anchor := uint32(0)
	if newest != nil {
		anchor = *newest
	} else {
		for _, h := range heights {
			if h > anchor {
				anchor = h
			}
		}
	}

	keepFrom := uint32(0)
	if anchor >= m.depth {
		keepFrom = anchor - m.depth + 1
	}

	batch := m.logdb.NewBatch()
	for _, h := range heights {
		if h < keepFrom {
			batch.Delete(blockKey(h))
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return m.logdb.Write(batch)
}

// loadBlocksDesc loads up to limit block logs in descending height order.
// limit <= 0 loads everything.
func (m *Manager) loadBlocksDesc(limit int) ([]*BlockLog, error) {
	var logs []*BlockLog
	var decodeErr error
	err := m.logdb.IteratePrefix([]byte{'b'}, true, func(key, value []byte) (bool, error) {
		if _, ok := decodeBlockKey(key); !ok {
			return true, nil
		}
		entry, err := DecodeBlockLog(value)
		if err != nil {
			decodeErr = fmt.Errorf("aof decode block log %x: %w", key, err)
			return false, nil
		}
		logs = append(logs, entry)
		return limit <= 0 || len(logs) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return logs, nil
}

// RecentBlocks returns up to limit block logs, newest first.
func (m *Manager) RecentBlocks(limit int) ([]*BlockLog, error) {
	return m.loadBlocksDesc(limit)
}

// RevertLastBlocks reverts the n most recent blocks, newest first, and
// deletes their log entries. It returns the lowest height reverted; ok is
// false when the log was empty.
func (m *Manager) RevertLastBlocks(n int) (uint32, bool, error) {
	logs, err := m.loadBlocksDesc(n)
	if err != nil {
		return 0, false, err
	}
	return m.applyRevert(logs)
}

// RevertAllBlocks reverts every block tracked by the log, newest first.
func (m *Manager) RevertAllBlocks() (uint32, bool, error) {
	logs, err := m.loadBlocksDesc(0)
	if err != nil {
		return 0, false, err
	}
	return m.applyRevert(logs)
}

func (m *Manager) applyRevert(logs []*BlockLog) (uint32, bool, error) {
	if len(logs) == 0 {
		return 0, false, nil
	}

	for _, entry := range logs {
		for i := len(entry.Updates) - 1; i >= 0; i-- {
			change := entry.Updates[i]
			if change.HasBefore {
				if err := m.primary.Put(change.Key, change.Before); err != nil {
					return 0, false, fmt.Errorf("aof revert block %d: %w", entry.Height, err)
				}
			} else {
				if err := m.primary.Delete(change.Key); err != nil {
					return 0, false, fmt.Errorf("aof revert block %d: %w", entry.Height, err)
				}
			}
		}
		if err := m.logdb.Delete(blockKey(entry.Height)); err != nil {
			return 0, false, fmt.Errorf("aof drop log %d: %w", entry.Height, err)
		}
		m.log.Info("Reverted block", "height", entry.Height, "changes", len(entry.Updates))
	}

	lowest := logs[len(logs)-1].Height
	return lowest, true, nil
}
