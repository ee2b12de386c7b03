package aof

import (
	"github.com/subfrost/espo/internal/store"
)

// Tracked applies primary-store writes through the manager so every
// mutation of the current block is captured with its before-image. Writes
// are queued on a batch and land atomically when the caller commits it.
type Tracked struct {
	m     *Manager
	batch *store.Batch
}

// Tracked returns a write-through view over the given batch.
func (m *Manager) Tracked(batch *store.Batch) *Tracked {
	return &Tracked{m: m, batch: batch}
}

// Put records the before-image of key and queues the write.
func (t *Tracked) Put(namespace string, key, value []byte) error {
	before, found, err := t.m.primary.Get(key)
	if err != nil {
		return err
	}
	t.m.RecordPut(namespace, key, before, found, value)
	t.batch.Put(key, value)
	return nil
}

// Delete records the before-image of key and queues the deletion.
func (t *Tracked) Delete(namespace string, key []byte) error {
	before, found, err := t.m.primary.Get(key)
	if err != nil {
		return err
	}
	t.m.RecordDelete(namespace, key, before, found)
	t.batch.Delete(key)
	return nil
}
