package backend

import (
	"context"
	"sort"
	"sync"
)

// memEngine keeps every database in process memory.
type memEngine struct {
	mu  sync.RWMutex
	dbs map[string]map[string][]byte
}

// OpenMemory returns an in-memory Backend. Options are ignored; the data
// lives until the Backend is closed.
func OpenMemory(_ context.Context, _ Options) (Backend, error) {
	return newDocStore("memory", &memEngine{dbs: make(map[string]map[string][]byte)}), nil
}

func (m *memEngine) createDB(_ context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[db]; ok {
		return ErrDBExists
	}
	m.dbs[db] = make(map[string][]byte)
	return nil
}

func (m *memEngine) dropDB(_ context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dbs[db]; !ok {
		return ErrDBNotFound
	}
	delete(m.dbs, db)
	return nil
}

func (m *memEngine) listDBs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.dbs))
	for name := range m.dbs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memEngine) get(_ context.Context, db, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, ok := m.dbs[db]
	if !ok {
		return nil, ErrDBNotFound
	}
	v, ok := docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memEngine) put(_ context.Context, db, id string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.dbs[db]
	if !ok {
		return ErrDBNotFound
	}
	docs[id] = append([]byte(nil), value...)
	return nil
}

func (m *memEngine) scan(_ context.Context, db string, fn func(string, []byte) error) error {
	m.mu.RLock()
	docs, ok := m.dbs[db]
	if !ok {
		m.mu.RUnlock()
		return ErrDBNotFound
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	values := make(map[string][]byte, len(docs))
	for id, v := range docs {
		values[id] = v
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(id, values[id]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memEngine) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbs = nil
	return nil
}
