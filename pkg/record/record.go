// Package record owns the observation records waiting to be indexed. The
// engine reads Pending records, and writes back embedding status plus the
// derived time-bucket range; records are never deleted here.
package record

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidContent = errors.New("record content is required")
)

// Status tracks a record's position in the ingestion lifecycle.
type Status string

const (
	// StatusPending marks a record not yet indexed. Only Pending records
	// are picked up by the ingestion pipeline.
	StatusPending Status = "pending"

	// StatusEmbedded marks a record whose vector is in the index.
	StatusEmbedded Status = "embedded"

	// StatusFailed marks a record whose indexing exhausted retries. Failed
	// records stay out of the pipeline until ResetFailed returns them to
	// Pending.
	StatusFailed Status = "failed"
)

// Location is the optional place an observation was captured. It is stored
// as metadata only and never fed into the embedded text.
type Location struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// MemoryRecord is one captured observation.
//
//	Date is DD/MM/YYYY and Time is HH:MM:SS, the canonical forms used in
//	index metadata. TimeRange is derived at ingestion from the time bucket.
type MemoryRecord struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	TimeRange string    `json:"time_range,omitempty"`
	Content   string    `json:"content"`
	Location  *Location `json:"location,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// Store is the engine's view of the record store.
type Store interface {
	// Add persists a new record in Pending state, minting an ID when the
	// record has none.
	Add(ctx context.Context, rec *MemoryRecord) error

	// Get returns a record by ID.
	Get(ctx context.Context, id string) (*MemoryRecord, error)

	// ListPending returns every record still awaiting indexing.
	ListPending(ctx context.Context) ([]*MemoryRecord, error)

	// MarkEmbedded transitions a record to Embedded and stores the bucket
	// range derived during ingestion.
	MarkEmbedded(ctx context.Context, id, timeRange string) error

	// MarkFailed transitions a record to Failed, recording the cause.
	MarkFailed(ctx context.Context, id string, cause error) error

	// ResetFailed returns all Failed records to Pending so the next
	// ingestion pass retries them. It reports how many were reset.
	ResetFailed(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}
