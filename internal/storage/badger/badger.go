// Package badger wraps a BadgerDB v4 instance as the embedded key-value
// store backing the content cache: optional native per-key TTL,
// gob-encoded values, no external service dependency.
package badger

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// DB is a thin, gob-aware wrapper over *badger.DB.
type DB struct {
	inner *badger.DB
}

// Config configures the embedded store's on-disk location, or in-memory
// mode. Badger's own logging is always disabled.
type Config struct {
	Dir      string
	InMemory bool
}

// DefaultConfig returns sane defaults for a local data directory.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir}
}

// Open opens (creating if absent) a Badger database at cfg.Dir.
func Open(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts = opts.WithInMemory(cfg.InMemory)
	opts = opts.WithLogger(nil)
	inner, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", cfg.Dir, err)
	}
	return &DB{inner: inner}, nil
}

func (d *DB) Close() error { return d.inner.Close() }

// SetGob gob-encodes value and writes it under key with the given TTL.
// ttl <= 0 means no expiration.
func (d *DB) SetGob(key string, value any, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("badger: gob encode %s: %w", key, err)
	}
	return d.inner.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), buf.Bytes())
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// GetGob decodes the value stored at key into dst. Returns this package's
// ErrKeyNotFound (which does not wrap badger.ErrKeyNotFound) when absent
// or expired.
func (d *DB) GetGob(key string, dst any) error {
	return d.inner.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrKeyNotFound
			}
			return fmt.Errorf("badger: get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(dst)
		})
	})
}

// Delete removes key if present; deleting a missing key is not an error.
func (d *DB) Delete(key string) error {
	return d.inner.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// DeletePrefix removes every key with the given prefix. Nothing in this
// module calls it; cache invalidation goes through the hybrid index instead.
func (d *DB) DeletePrefix(prefix string) error {
	return d.inner.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var keys [][]byte
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, k)
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachGob iterates every key with the given prefix, gob-decoding each
// value into a struct obtained from newDst, and calls fn with the full key
// and the decoded value. Iteration stops at the first error from decoding
// or from fn. Used to rehydrate in-process indexes from persisted state on
// startup.
func (d *DB) ForEachGob(prefix string, newDst func() any, fn func(key string, dst any) error) error {
	return d.inner.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			dst := newDst()
			err := item.Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(dst)
			})
			if err != nil {
				return fmt.Errorf("badger: decode %s: %w", item.Key(), err)
			}
			if err := fn(string(item.KeyCopy(nil)), dst); err != nil {
				return err
			}
		}
		return nil
	})
}

// ErrKeyNotFound mirrors badger.ErrKeyNotFound without leaking the
// dependency's error type to callers outside this package.
var ErrKeyNotFound = fmt.Errorf("badger: key not found")

// RunGC triggers one value-log GC pass; safe to call on a timer. Badger
// returns ErrNoRewrite when there is nothing to reclaim, which is not an
// error condition for callers.
func (d *DB) RunGC(discardRatio float64) error {
	err := d.inner.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}
