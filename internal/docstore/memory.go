package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danqzq/specmarket/internal/errs"
)

// NewMemoryStore returns a store backed entirely by in-process maps. It
// reproduces the remote backend's query semantics and is the normative
// implementation for the contract's edge cases.
func NewMemoryStore() *Store {
	return &Store{
		Metadata: &memoryMetadata{docs: make(map[string]Document)},
		Versions: &memoryVersions{docs: make(map[string]map[int]Document)},
		Users:    &memoryUsers{docs: make(map[string]Document)},
		Backend:  "memory",
	}
}

type memoryMetadata struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func (m *memoryMetadata) Upsert(_ context.Context, shortID string, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[shortID] = stripRecordID(doc)
	return nil
}

func (m *memoryMetadata) FindAll(_ context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (m *memoryMetadata) Find(_ context.Context, shortID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[shortID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *memoryMetadata) Delete(_ context.Context, shortID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, shortID)
	return nil
}

type memoryVersions struct {
	mu   sync.RWMutex
	docs map[string]map[int]Document
}

func (m *memoryVersions) Upsert(_ context.Context, shortID string, version int, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions, ok := m.docs[shortID]
	if !ok {
		versions = make(map[int]Document)
		m.docs[shortID] = versions
	}
	versions[version] = stripRecordID(doc)
	return nil
}

func (m *memoryVersions) FindAll(_ context.Context, shortID string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs[shortID]))
	for _, doc := range m.docs[shortID] {
		out = append(out, doc.Clone())
	}
	return out, nil
}

func (m *memoryVersions) Find(_ context.Context, shortID string, version int) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[shortID][version]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *memoryVersions) FindLatest(_ context.Context, shortID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.docs[shortID]
	if len(versions) == 0 {
		return nil, errs.ErrNotFound
	}
	numbers := make([]int, 0, len(versions))
	for v := range versions {
		numbers = append(numbers, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))
	return versions[numbers[0]].Clone(), nil
}

func (m *memoryVersions) DeleteAll(_ context.Context, shortID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, shortID)
	return nil
}

type memoryUsers struct {
	mu   sync.RWMutex
	docs map[string]Document // keyed by user id
}

func (m *memoryUsers) Insert(_ context.Context, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	username, _ := doc["username"].(string)
	for _, existing := range m.docs {
		if existing["username"] == username {
			return nil, errs.ErrDuplicateUsername
		}
	}
	stored := doc.Clone()
	id, _ := stored["id"].(string)
	if id == "" {
		id = uuid.New().String()
		stored["id"] = id
	}
	m.docs[id] = stored
	return stored.Clone(), nil
}

func (m *memoryUsers) FindByUsername(_ context.Context, username string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.docs {
		if doc["username"] == username {
			return doc.Clone(), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *memoryUsers) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		// Touch is not an upsert: never create a user the caller did not ask for.
		return errs.ErrNotFound
	}
	doc["updatedAt"] = time.Now().UTC()
	return nil
}
