// Package store provides the byte-keyed persistent store backing the
// indexer. Two stores are opened per node: the primary database and the
// AOF change log, each its own badger instance.
package store

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Store is a byte-key/byte-value store with prefix iteration and atomic
// batch writes.
type Store struct {
	db   *badger.DB
	path string
}

// Open opens (creating if necessary) a store at the given directory.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store directory.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key. The second result distinguishes an absent
// key from one holding an empty value.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return out, found, nil
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("has %x: %w", key, err)
	}
	return found, nil
}

// Put stores value under key.
func (s *Store) Put(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte(nil), key...), append([]byte(nil), value...))
	})
	if err != nil {
		return fmt.Errorf("put %x: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(append([]byte(nil), key...))
	})
	if err != nil {
		return fmt.Errorf("delete %x: %w", key, err)
	}
	return nil
}

// Sync forces all pending writes to durable storage.
func (s *Store) Sync() error {
	return s.db.Sync()
}

// IteratePrefix walks all keys with the given prefix in lexicographic order
// (descending when reverse is set), invoking fn with copies of each key and
// value. Iteration stops when fn returns false or an error.
func (s *Store) IteratePrefix(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = append([]byte(nil), prefix...)
		opts.Reverse = reverse

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			// Seek to the end of the prefix range: a sentinel of 0xff bytes
			// longer than any key suffix sorts after every real key.
			sentinel := make([]byte, len(prefix)+32)
			copy(sentinel, prefix)
			for i := len(prefix); i < len(sentinel); i++ {
				sentinel[i] = 0xff
			}
			seek = sentinel
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cont, err := fn(key, value)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// Batch collects writes to be applied in one atomic transaction.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// NewBatch returns an empty batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{}
}

// Put queues a write.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

// Delete queues a deletion.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{
		key:    append([]byte(nil), key...),
		delete: true,
	})
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Write applies the batch in a single transaction.
func (s *Store) Write(b *Batch) error {
	if len(b.ops) == 0 {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			if op.delete {
				if err := txn.Delete(op.key); err != nil {
					return err
				}
			} else {
				if err := txn.Set(op.key, op.value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch write (%d ops): %w", len(b.ops), err)
	}
	return nil
}
