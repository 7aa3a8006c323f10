// Package vectorindex stores observation vectors and answers filtered
// nearest-neighbor queries. Two backends implement the Index interface:
// Milvus for production and an in-memory store for development and tests.
package vectorindex

import (
	"context"
	"errors"
)

// Common error classes. Callers distinguish write failures (ingestion
// decides whether to retry per record) from query failures (the current
// search aborts with a message).
var (
	ErrWrite = errors.New("vector index write failed")
	ErrQuery = errors.New("vector index query failed")
)

// Match is one query hit.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// Index is the engine's view of a vector index.
//
// Upsert is idempotent: writing an id that already exists replaces the
// previous entry. Query restricts results to entries whose metadata
// matches every filter key exactly (logical AND); an empty filter searches
// the whole index. No matches is an empty slice, not an error.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Query(ctx context.Context, vector []float32, filter map[string]string, topK int) ([]Match, error)
	Close() error
}
