package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// pebbleBackend is the durable backend used by the node
type pebbleBackend struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a Pebble database at path
func NewPebbleStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,                  // 32MB memtable
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10, // 512KB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{kv: &pebbleBackend{db: db}}, nil
}

func (p *pebbleBackend) get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (p *pebbleBackend) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *pebbleBackend) newBatch() backendBatch {
	return &pebbleBatch{b: p.db.NewBatch()}
}

func (p *pebbleBackend) close() error {
	return p.db.Close()
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (pb *pebbleBatch) set(key, val []byte) error { return pb.b.Set(key, val, nil) }
func (pb *pebbleBatch) delete(key []byte) error   { return pb.b.Delete(key, nil) }
func (pb *pebbleBatch) commit() error             { return pb.b.Commit(pebble.Sync) }
func (pb *pebbleBatch) close() error              { return pb.b.Close() }
