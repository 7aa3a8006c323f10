// Package ingest moves pending observation records into the vector index.
// Each record is embedded with its date and time-bucket folded into the
// text, then upserted with filterable metadata.
package ingest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lifelog-ai/recall/pkg/observability/logging"
	"github.com/lifelog-ai/recall/pkg/observability/metrics"
	"github.com/lifelog-ai/recall/pkg/record"
	"github.com/lifelog-ai/recall/pkg/timebucket"
	"github.com/lifelog-ai/recall/pkg/vectorindex"
)

// Embedder is the slice of the embedding client the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline indexes pending records. Dependencies are injected so tests can
// run against in-memory doubles.
type Pipeline struct {
	records  record.Store
	embedder Embedder
	index    vectorindex.Index
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(records record.Store, embedder Embedder, index vectorindex.Index) *Pipeline {
	return &Pipeline{records: records, embedder: embedder, index: index}
}

// RecordResult is the per-record outcome in a batch report.
type RecordResult struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// BatchReport summarizes one ingestion pass. Every selected record appears
// exactly once in Results, as a success or with its error message.
type BatchReport struct {
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []RecordResult `json:"results"`
}

// Run processes every Pending record. One record's failure never aborts
// the batch: the record is marked Failed and the pass continues. Running
// again is idempotent since only Pending records are selected and upserts
// by id replace.
func (p *Pipeline) Run(ctx context.Context) (*BatchReport, error) {
	pending, err := p.records.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending records: %w", err)
	}

	report := &BatchReport{Results: make([]RecordResult, 0, len(pending))}
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		if err := p.ingestOne(ctx, rec); err != nil {
			report.Failed++
			report.Results = append(report.Results, RecordResult{ID: rec.ID, Error: err.Error()})
			metrics.IngestedRecords.WithLabelValues("failure").Inc()
			logging.Warnf("ingest: record %s failed: %v", rec.ID, err)

			if markErr := p.records.MarkFailed(ctx, rec.ID, err); markErr != nil {
				logging.Errorf("ingest: could not mark record %s failed: %v", rec.ID, markErr)
			}
			continue
		}

		report.Succeeded++
		report.Results = append(report.Results, RecordResult{ID: rec.ID})
		metrics.IngestedRecords.WithLabelValues("success").Inc()
	}

	logging.Infof("ingest: batch done - %d processed, %d succeeded, %d failed",
		report.Processed, report.Succeeded, report.Failed)
	return report, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, rec *record.MemoryRecord) error {
	clock, err := timebucket.ParseClock(rec.Time)
	if err != nil {
		return fmt.Errorf("invalid record time %q: %w", rec.Time, err)
	}
	bucket := timebucket.Align(clock)

	vector, err := p.embedder.Embed(ctx, compositeText(rec, bucket))
	if err != nil {
		return err
	}

	if err := p.index.Upsert(ctx, rec.ID, vector, buildMetadata(rec, bucket)); err != nil {
		return err
	}

	if err := p.records.MarkEmbedded(ctx, rec.ID, bucket.Range()); err != nil {
		return fmt.Errorf("indexed but could not mark embedded: %w", err)
	}
	return nil
}

// compositeText is what gets embedded. Location is deliberately excluded:
// it is filter/display metadata, not something to search semantically.
func compositeText(rec *record.MemoryRecord, bucket timebucket.Bucket) string {
	return fmt.Sprintf("Date: %s, TimeRange: %s, Time: %s, Feedback: %s",
		rec.Date, bucket.Range(), rec.Time, rec.Content)
}

func buildMetadata(rec *record.MemoryRecord, bucket timebucket.Bucket) map[string]string {
	metadata := map[string]string{
		"date":       rec.Date,
		"time":       rec.Time,
		"time_range": bucket.Range(),
		"content":    rec.Content,
	}
	if loc := rec.Location; loc != nil {
		if loc.Name != "" {
			metadata["location"] = loc.Name
		}
		metadata["latitude"] = strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
		metadata["longitude"] = strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	}
	return metadata
}
