package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// Embedder maps text to a vector. embeddings.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// InMemoryStore keeps the most recent turns in process. It is the default
// store when no database is configured. With an Embedder it also supports
// Recall over the retained turns.
type InMemoryStore struct {
	mu       sync.Mutex
	capacity int
	turns    []Turn
	vectors  [][]float32
	embedder Embedder
	closed   bool
}

// NewInMemoryStore returns a store retaining at most capacity turns. embedder
// may be nil.
func NewInMemoryStore(capacity int, embedder Embedder) *InMemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InMemoryStore{capacity: capacity, embedder: embedder}
}

// RecordTurn appends turn, evicting the oldest turn when full.
func (s *InMemoryStore) RecordTurn(ctx context.Context, turn Turn) error {
	var vec []float32
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, turn.Document())
		if err != nil {
			return fmt.Errorf("memory: embed turn: %w", err)
		}
		vec = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.turns = append(s.turns, turn)
	s.vectors = append(s.vectors, vec)
	if over := len(s.turns) - s.capacity; over > 0 {
		s.turns = slices.Delete(s.turns, 0, over)
		s.vectors = slices.Delete(s.vectors, 0, over)
	}
	return nil
}

// Recent returns at most n turns, oldest first.
func (s *InMemoryStore) Recent(_ context.Context, n int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.turns) == 0 {
		return []Turn{}, nil
	}
	start := max(len(s.turns)-n, 0)
	return slices.Clone(s.turns[start:]), nil
}

// Recall returns up to k turns closest to query by cosine distance.
func (s *InMemoryStore) Recall(ctx context.Context, query string, k int) ([]Recollection, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("memory: recall requires an embedder")
	}
	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	s.mu.Lock()
	out := make([]Recollection, 0, len(s.turns))
	for i, t := range s.turns {
		if s.vectors[i] == nil {
			continue
		}
		out = append(out, Recollection{Turn: t, Distance: cosineDistance(q, s.vectors[i])})
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Recollection) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Close marks the store closed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var (
	_ Store    = (*InMemoryStore)(nil)
	_ Recaller = (*InMemoryStore)(nil)
)
