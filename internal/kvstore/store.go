// Package kvstore wraps an embedded, ordered byte-keyed store (bbolt)
// behind the narrow point-get / range-scan / atomic-batch-write surface
// the order book, archive, and trade engine are built on. Every higher
// layer treats a Batch as its unit of atomicity.
package kvstore

import (
	"bytes"
	"fmt"

	"go.etcd.io/bbolt"

	apperrors "github.com/curvemargin/marginbook/pkg/errors"
)

var rootBucket = []byte("marginbook")

// Store is a thin adapter over a single bbolt database and bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// root bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "open kv store").WithDetail("path", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, bErr := tx.CreateBucketIfNotExists(rootBucket)
		return bErr
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "initialize root bucket")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrIoError, "close kv store")
	}
	return nil
}

// Get returns a copy of the value at key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		v := b.Get(key)
		if v == nil {
			return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("key %q not found", key))
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Direction controls scan order.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// KV is one scanned key/value pair. Values are copies safe to retain
// past the scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Scan returns up to limit key/value pairs whose key has prefix, in
// lexicographic order (or reverse, for Backward). limit <= 0 means
// unbounded.
func (s *Store) Scan(prefix []byte, dir Direction, limit int) ([]KV, error) {
	var results []KV

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(rootBucket)
		c := b.Cursor()

		appendMatch := func(k, v []byte) bool {
			if !bytes.HasPrefix(k, prefix) {
				return false
			}
			results = append(results, KV{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
			return limit <= 0 || len(results) < limit
		}

		if dir == Forward {
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				if !appendMatch(k, v) {
					break
				}
			}
			return nil
		}

		// Backward: seek past the prefix range, then walk Prev.
		upperBound := prefixUpperBound(prefix)
		var k, v []byte
		if upperBound == nil {
			k, v = c.Last()
		} else {
			k, v = c.Seek(upperBound)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}
		for ; k != nil; k, v = c.Prev() {
			if !bytes.HasPrefix(k, prefix) {
				if bytes.Compare(k, prefix) < 0 {
					break
				}
				continue
			}
			if !appendMatch(k, v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrIoError, "scan")
	}
	return results, nil
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if the prefix is all 0xFF bytes.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// Batch accumulates puts/deletes to be committed atomically by Write.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	delete bool
	key    []byte
	value  []byte
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put stages a write. Last writer for a given key within the batch wins.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Delete stages a removal.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{delete: true, key: append([]byte(nil), key...)})
}

// Len reports the number of staged operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Write commits the batch atomically: either every staged operation is
// observed or none are. A fault partway through aborts the whole
// transaction, leaving the store unchanged.
func (s *Store) Write(b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(rootBucket)
		for _, op := range b.ops {
			if op.delete {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrIoError, "commit batch")
	}
	return nil
}
