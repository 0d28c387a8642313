package store

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-process [Store]. Records are lost on restart. It is used
// when no database is configured and in tests.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Record), now: time.Now}
}

// Create implements [Store].
func (m *MemStore) Create(_ context.Context, rec *Record) error {
	now := m.now().UTC()
	rec.ID = uuid.NewString()
	rec.Status = StatusUploaded
	rec.CreatedAt, rec.UpdatedAt = now, now

	cp := *rec
	m.mu.Lock()
	m.records[rec.ID] = &cp
	m.mu.Unlock()
	return nil
}

// SetStatus implements [Store].
func (m *MemStore) SetStatus(_ context.Context, id string, status Status) error {
	return m.mutate(id, func(r *Record) { r.Status = status })
}

// Complete implements [Store].
func (m *MemStore) Complete(_ context.Context, id string, out Outcome) error {
	return m.mutate(id, func(r *Record) {
		r.Status = StatusProcessed
		r.Transcription = out.Transcription
		r.VideoAnalysis = out.VideoAnalysis
		r.RawResults = out.RawResults
		r.Feedback = out.Feedback
		r.Embedding = slices.Clone(out.Embedding)
	})
}

// Fail implements [Store].
func (m *MemStore) Fail(_ context.Context, id string, msg string) error {
	return m.mutate(id, func(r *Record) {
		r.Status = StatusError
		r.Error = msg
	})
}

func (m *MemStore) mutate(id string, fn func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	r.UpdatedAt = m.now().UTC()
	return nil
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// ListBySession implements [Store].
func (m *MemStore) ListBySession(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	out := []Record{}
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int {
		if c := cmp.Compare(a.QuestionIndex, b.QuestionIndex); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Similar implements [Store] with a linear cosine-similarity scan.
func (m *MemStore) Similar(_ context.Context, id string, limit int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := []Match{}
	if len(target.Embedding) == 0 || limit <= 0 {
		return out, nil
	}
	for rid, r := range m.records {
		if rid == id || len(r.Embedding) != len(target.Embedding) {
			continue
		}
		out = append(out, Match{Record: *r, Similarity: cosine(target.Embedding, r.Embedding)})
	}
	slices.SortFunc(out, func(a, b Match) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [Store]. Always nil.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store]. No-op.
func (m *MemStore) Close() {}

// cosine returns the cosine similarity of a and b, or 0 when either has zero
// magnitude.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
