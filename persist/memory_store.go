package persist

import (
	"context"
	"fmt"
	"sync"
)

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps objects and documents in process memory. It backs unit
// tests and the offline replay path; nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	docs    map[string]map[string]Document
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		docs:    make(map[string]map[string]Document),
	}
}

func (m *MemoryStore) PutObject(_ context.Context, path string, data []byte, _ string, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("memory store is closed")
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[path] = buf
	return "mem://" + path, nil
}

func (m *MemoryStore) GetObject(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %q not found", path)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (m *MemoryStore) DeleteObject(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *MemoryStore) PutDocument(_ context.Context, collection, id string, fields Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory store is closed")
	}

	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]Document)
		m.docs[collection] = coll
	}

	copied := make(Document, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	coll[id] = copied
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, ErrDocumentNotFound
	}

	copied := make(Document, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	return copied, nil
}

func (m *MemoryStore) QueryDocuments(_ context.Context, collection string, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll := m.docs[collection]
	docs := make([]Document, 0, len(coll))
	for _, doc := range coll {
		copied := make(Document, len(doc))
		for k, v := range doc {
			copied[k] = v
		}
		docs = append(docs, copied)
	}
	return applyQuery(docs, q), nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if coll, ok := m.docs[collection]; ok {
		delete(coll, id)
	}
	return nil
}

func (m *MemoryStore) Ping() error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) GetType() string { return string(StoreTypeMemory) }
