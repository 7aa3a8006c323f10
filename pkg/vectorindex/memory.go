package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Index backed by a map and brute-force cosine
// similarity. It exists for development and tests; the semantics match the
// Milvus backend (idempotent upsert, exact-match AND filters, empty result
// on no match).
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	vector   []float32
	metadata map[string]string
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Upsert stores a copy of the vector and metadata under id, replacing any
// previous entry.
func (m *Memory) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = memoryEntry{vector: vec, metadata: meta}
	return nil
}

// Query scores every entry passing the filter and returns the topK by
// cosine similarity, descending.
func (m *Memory) Query(ctx context.Context, vector []float32, filter map[string]string, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0)
	for id, entry := range m.entries {
		if !matchesFilter(entry.metadata, filter) {
			continue
		}
		meta := make(map[string]string, len(entry.metadata))
		for k, v := range entry.metadata {
			meta[k] = v
		}
		matches = append(matches, Match{
			ID:       id,
			Score:    cosineSimilarity(vector, entry.vector),
			Metadata: meta,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of stored entries (for tests).
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
