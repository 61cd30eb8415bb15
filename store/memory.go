package store

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"

	"productrag/types"
)

// MemoryStore keeps records in process memory. It follows the same session
// rules as PostgresStore and backs dry runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	dim      int
	rows     map[string]types.EmbeddingRecord
	sessions int
	inited   bool
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		dim:  dim,
		rows: make(map[string]types.EmbeddingRecord),
	}
}

func (m *MemoryStore) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inited = true
	return nil
}

func (m *MemoryStore) Dimension() int {
	return m.dim
}

func (m *MemoryStore) Begin(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewPersistenceError("begin", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
	return &memSession{store: m, staged: make(map[string]types.EmbeddingRecord)}, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*types.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Embedding = slices.Clone(rec.Embedding)
	return &rec, nil
}

func (m *MemoryStore) ListBySource(ctx context.Context, sourceID string) ([]types.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := sourceID + "_"
	var records []types.EmbeddingRecord
	for id, rec := range m.rows {
		suffix, ok := strings.CutPrefix(id, prefix)
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(suffix); err != nil {
			continue
		}
		rec.Embedding = slices.Clone(rec.Embedding)
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b types.EmbeddingRecord) int {
		return a.ChunkIndex - b.ChunkIndex
	})
	return records, nil
}

// Len returns the number of committed rows.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// OpenSessions returns the number of sessions not yet closed.
func (m *MemoryStore) OpenSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

func (m *MemoryStore) Close() error {
	return nil
}

type memSession struct {
	store  *MemoryStore
	staged map[string]types.EmbeddingRecord
	order  []string
	done   bool
	closed bool
}

func (s *memSession) Upsert(ctx context.Context, rec types.EmbeddingRecord) (bool, error) {
	if s.done {
		return false, types.NewPersistenceError("upsert "+rec.ID, errors.New("session is finished"))
	}
	if err := validateRecord(rec, s.store.dim); err != nil {
		return false, err
	}

	s.store.mu.Lock()
	_, exists := s.store.rows[rec.ID]
	s.store.mu.Unlock()
	if exists {
		return false, nil
	}
	if _, staged := s.staged[rec.ID]; staged {
		return false, nil
	}

	rec.Embedding = slices.Clone(rec.Embedding)
	s.staged[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return true, nil
}

func (s *memSession) Commit(ctx context.Context) error {
	if s.done {
		return types.NewPersistenceError("commit", errors.New("session is finished"))
	}
	s.done = true

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, id := range s.order {
		if _, exists := s.store.rows[id]; exists {
			continue
		}
		s.store.rows[id] = s.staged[id]
	}
	s.staged = nil
	return nil
}

func (s *memSession) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	s.staged = nil

	s.store.mu.Lock()
	s.store.sessions--
	s.store.mu.Unlock()
	return nil
}

var _ DBStorer = (*MemoryStore)(nil)
