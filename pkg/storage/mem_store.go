package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// memBackend keeps everything in a map. Used by tests and ephemeral nodes.
type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStore returns a Store with no durability
func NewMemStore() *Store {
	return &Store{kv: &memBackend{data: make(map[string][]byte)}}
}

func (m *memBackend) get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (m *memBackend) scan(prefix []byte, fn func(key, val []byte) error) error {
	m.mu.Lock()
	p := string(prefix)
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = bytes.Clone(m.data[k])
	}
	m.mu.Unlock()

	for i, k := range keys {
		if err := fn([]byte(k), vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memBackend) newBatch() backendBatch {
	return &memBatch{m: m}
}

func (m *memBackend) close() error { return nil }

type memOp struct {
	key string
	val []byte // nil means delete
}

type memBatch struct {
	m   *memBackend
	ops []memOp
}

func (b *memBatch) set(key, val []byte) error {
	b.ops = append(b.ops, memOp{key: string(key), val: bytes.Clone(val)})
	return nil
}

func (b *memBatch) delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: string(key)})
	return nil
}

func (b *memBatch) commit() error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	for _, op := range b.ops {
		if op.val == nil {
			delete(b.m.data, op.key)
			continue
		}
		b.m.data[op.key] = op.val
	}
	b.ops = nil
	return nil
}

func (b *memBatch) close() error {
	b.ops = nil
	return nil
}
