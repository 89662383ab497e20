package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/creastat/discussions/vectorstore"
)

var (
	ErrIndexNotReady     = errors.New("index does not exist")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidTopK       = errors.New("top_k must be positive")
	ErrClosed            = errors.New("index is closed")
)

// Store implements vectorstore.Index in process memory.
// It is meant for tests and local development, not for production data.
type Store struct {
	mu         sync.RWMutex
	spec       *vectorstore.IndexSpec
	namespaces map[string]map[string]vectorstore.Record
	closed     bool
}

// New creates an empty in-memory index.
func New() *Store {
	return &Store{
		namespaces: make(map[string]map[string]vectorstore.Record),
	}
}

// EnsureIndex implements vectorstore.Index.
func (s *Store) EnsureIndex(ctx context.Context, spec vectorstore.IndexSpec) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if s.spec != nil {
		return false, nil
	}
	if spec.Dimension <= 0 {
		return false, fmt.Errorf("invalid dimension %d", spec.Dimension)
	}
	s.spec = &spec
	return true, nil
}

// Upsert implements vectorstore.Index.
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Vector) != s.spec.Dimension {
			return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(r.Vector), s.spec.Dimension)
		}
	}

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]vectorstore.Record)
		s.namespaces[namespace] = ns
	}
	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		ns[r.ID] = vectorstore.Record{
			ID:       r.ID,
			Vector:   vec,
			Metadata: vectorstore.CloneMetadata(r.Metadata),
		}
	}
	return nil
}

// Query implements vectorstore.Index.
func (s *Store) Query(ctx context.Context, req vectorstore.QueryRequest) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	if req.TopK <= 0 {
		return nil, ErrInvalidTopK
	}
	if len(req.Vector) != s.spec.Dimension {
		return nil, fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(req.Vector), s.spec.Dimension)
	}

	var matches []vectorstore.Match
	for _, r := range s.namespaces[req.Namespace] {
		if !vectorstore.Matches(r.Metadata, req.Filter) {
			continue
		}
		m := vectorstore.Match{ID: r.ID, Score: cosine(req.Vector, r.Vector)}
		if req.IncludeMetadata {
			m.Metadata = vectorstore.CloneMetadata(r.Metadata)
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	return matches, nil
}

// Fetch implements vectorstore.Index.
func (s *Store) Fetch(ctx context.Context, namespace string, ids []string) (map[string]vectorstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	out := make(map[string]vectorstore.Record, len(ids))
	ns := s.namespaces[namespace]
	for _, id := range ids {
		if r, ok := ns[id]; ok {
			vec := make([]float32, len(r.Vector))
			copy(vec, r.Vector)
			out[id] = vectorstore.Record{ID: r.ID, Vector: vec, Metadata: vectorstore.CloneMetadata(r.Metadata)}
		}
	}
	return out, nil
}

// Delete implements vectorstore.Index.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	ns := s.namespaces[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

// Close implements vectorstore.Index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.namespaces = nil
	return nil
}

// Len returns the number of records stored in namespace.
func (s *Store) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

// ready must be called with the lock held.
func (s *Store) ready() error {
	if s.closed {
		return ErrClosed
	}
	if s.spec == nil {
		return ErrIndexNotReady
	}
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Compile-time check that Store implements Index.
var _ vectorstore.Index = (*Store)(nil)
