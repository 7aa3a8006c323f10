// Package retrieval answers time-anchored questions by expanding them into
// time-bucket-filtered vector searches and ranking the hits.
//
// Three modes exist. Period and exact-time searches filter by date and
// bucket and accept any non-empty hit regardless of score. The chat
// fallback searches the whole index unfiltered and applies a 0.7
// confidence threshold. The asymmetry is deliberate: filtered searches
// already constrain candidates to a 15-minute window, while an unfiltered
// search over the whole journal needs a confidence floor.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lifelog-ai/recall/pkg/observability/logging"
	"github.com/lifelog-ai/recall/pkg/observability/metrics"
	"github.com/lifelog-ai/recall/pkg/query"
	"github.com/lifelog-ai/recall/pkg/timebucket"
	"github.com/lifelog-ai/recall/pkg/vectorindex"
)

// DefaultChatThreshold is the minimum similarity an unfiltered chat match
// must reach to count as an answer.
const DefaultChatThreshold = 0.7

// DefaultMaxConcurrency bounds the per-bucket fan-out in period mode.
const DefaultMaxConcurrency = 8

// DefaultFanoutTimeout bounds a whole multi-bucket fan-out so one slow
// bucket cannot stall the response.
const DefaultFanoutTimeout = 30 * time.Second

// Embedder is the slice of the embedding client the orchestrator needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Parser turns raw query text into a date/time spec.
type Parser interface {
	Parse(raw string, now time.Time) (query.Spec, error)
}

// SearchResult is one surfaced observation.
type SearchResult struct {
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	TimeRange string  `json:"time_range"`
	Content   string  `json:"content"`
	Location  string  `json:"location,omitempty"`
	Score     float32 `json:"score"`
}

// Diagnostics reports how a search was executed.
type Diagnostics struct {
	BucketsQueried int `json:"buckets_queried"`
	TotalMatches   int `json:"total_matches"`
}

// Answer is the outcome of a retrieval. NotFound is a first-class outcome:
// Found is false and Message explains, but no error is returned.
type Answer struct {
	Found       bool          `json:"found"`
	Result      *SearchResult `json:"result,omitempty"`
	Message     string        `json:"message,omitempty"`
	Diagnostics Diagnostics   `json:"diagnostics"`
}

// Options configures an Orchestrator. Embedder, Index and Parser are
// required; the rest default.
type Options struct {
	Embedder       Embedder
	Index          vectorindex.Index
	Parser         Parser
	MaxConcurrency int
	FanoutTimeout  time.Duration
	ChatThreshold  float32
}

// Orchestrator executes searches. It holds no per-query state; every call
// is independent.
type Orchestrator struct {
	embedder       Embedder
	index          vectorindex.Index
	parser         Parser
	maxConcurrency int
	fanoutTimeout  time.Duration
	chatThreshold  float32
}

// NewOrchestrator validates options and builds an Orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if opts.Parser == nil {
		return nil, fmt.Errorf("parser is required")
	}

	o := &Orchestrator{
		embedder:       opts.Embedder,
		index:          opts.Index,
		parser:         opts.Parser,
		maxConcurrency: opts.MaxConcurrency,
		fanoutTimeout:  opts.FanoutTimeout,
		chatThreshold:  opts.ChatThreshold,
	}
	if o.maxConcurrency <= 0 {
		o.maxConcurrency = DefaultMaxConcurrency
	}
	if o.fanoutTimeout <= 0 {
		o.fanoutTimeout = DefaultFanoutTimeout
	}
	if o.chatThreshold <= 0 {
		o.chatThreshold = DefaultChatThreshold
	}
	return o, nil
}

// Search answers a time-anchored query. Parse failures are returned as
// errors (query.ErrInvalidDate / query.ErrInvalidTime) for the caller to
// surface with guidance.
func (o *Orchestrator) Search(ctx context.Context, raw string, now time.Time) (*Answer, error) {
	spec, err := o.parser.Parse(raw, now)
	if err != nil {
		return nil, err
	}

	if spec.Kind == query.NamedPeriod {
		return o.searchPeriod(ctx, spec)
	}
	return o.searchExact(ctx, spec)
}

// searchPeriod fans out one filtered query per bucket of the period,
// collects every hit and answers with the highest score.
func (o *Orchestrator) searchPeriod(ctx context.Context, spec query.Spec) (*Answer, error) {
	started := time.Now()
	defer func() { metrics.SearchDuration.WithLabelValues("period").Observe(time.Since(started).Seconds()) }()

	buckets, err := spec.Period.Buckets()
	if err != nil {
		// Period definitions are validated at startup, so this is a
		// programming error rather than bad user input.
		metrics.SearchesTotal.WithLabelValues("period", "error").Inc()
		return nil, err
	}
	metrics.BucketsQueried.Observe(float64(len(buckets)))

	ctx, cancel := context.WithTimeout(ctx, o.fanoutTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		hits    []vectorindex.Match
		errs    []error
		wg      sync.WaitGroup
		workers = make(chan struct{}, o.maxConcurrency)
	)

	for _, bucket := range buckets {
		wg.Add(1)
		workers <- struct{}{}
		go func(bucket timebucket.Bucket) {
			defer wg.Done()
			defer func() { <-workers }()

			match, found, err := o.queryBucket(ctx, spec, bucket)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("bucket %s: %w", bucket.Range(), err))
				return
			}
			if found {
				hits = append(hits, match)
			}
		}(bucket)
	}
	wg.Wait()

	diag := Diagnostics{BucketsQueried: len(buckets), TotalMatches: len(hits)}

	// A partial fan-out still answers from whatever completed; only a
	// fully failed fan-out aborts the query.
	if len(errs) > 0 {
		logging.Warnf("retrieval: %d/%d bucket queries failed for %q: %v",
			len(errs), len(buckets), spec.Raw, errs[0])
		if len(hits) == 0 && len(errs) == len(buckets) {
			metrics.SearchesTotal.WithLabelValues("period", "error").Inc()
			return nil, fmt.Errorf("all %d bucket queries failed: %w", len(buckets), errs[0])
		}
	}

	if len(hits) == 0 {
		metrics.SearchesTotal.WithLabelValues("period", "not_found").Inc()
		return &Answer{
			Message:     fmt.Sprintf("no memory found for %s in the %s", spec.Date, spec.Period.Name),
			Diagnostics: diag,
		}, nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	metrics.SearchesTotal.WithLabelValues("period", "answered").Inc()
	return &Answer{
		Found:       true,
		Result:      resultFromMatch(hits[0]),
		Diagnostics: diag,
	}, nil
}

func (o *Orchestrator) queryBucket(ctx context.Context, spec query.Spec, bucket timebucket.Bucket) (vectorindex.Match, bool, error) {
	text := fmt.Sprintf("Date: %s, TimeRange: %s, Period: %s, Query: %s",
		spec.Date, bucket.Range(), spec.Period.Name, spec.Raw)

	vector, err := o.embedder.Embed(ctx, text)
	if err != nil {
		return vectorindex.Match{}, false, err
	}

	matches, err := o.index.Query(ctx, vector, map[string]string{
		"date":       spec.Date,
		"time_range": bucket.Range(),
	}, 1)
	if err != nil {
		return vectorindex.Match{}, false, err
	}
	if len(matches) == 0 {
		return vectorindex.Match{}, false, nil
	}
	return matches[0], true, nil
}

// searchExact queries the single bucket containing the requested time.
func (o *Orchestrator) searchExact(ctx context.Context, spec query.Spec) (*Answer, error) {
	started := time.Now()
	defer func() { metrics.SearchDuration.WithLabelValues("exact").Observe(time.Since(started).Seconds()) }()

	bucket := timebucket.Align(spec.Exact)
	text := fmt.Sprintf("Date: %s, TimeRange: %s, Time: %s, Query: %s",
		spec.Date, bucket.Range(), spec.Exact, spec.Raw)

	vector, err := o.embedder.Embed(ctx, text)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("exact", "error").Inc()
		return nil, err
	}

	matches, err := o.index.Query(ctx, vector, map[string]string{
		"date":       spec.Date,
		"time_range": bucket.Range(),
	}, 1)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("exact", "error").Inc()
		return nil, err
	}

	diag := Diagnostics{BucketsQueried: 1, TotalMatches: len(matches)}
	if len(matches) == 0 {
		metrics.SearchesTotal.WithLabelValues("exact", "not_found").Inc()
		return &Answer{
			Message:     fmt.Sprintf("no memory found for %s at %s", spec.Date, spec.Exact),
			Diagnostics: diag,
		}, nil
	}

	metrics.SearchesTotal.WithLabelValues("exact", "answered").Inc()
	return &Answer{
		Found:       true,
		Result:      resultFromMatch(matches[0]),
		Diagnostics: diag,
	}, nil
}

// Chat is the unfiltered fallback for queries that are not time-anchored.
// The raw text is embedded as-is, the whole index is searched, and the
// top hit must clear the confidence threshold.
func (o *Orchestrator) Chat(ctx context.Context, raw string) (*Answer, error) {
	started := time.Now()
	defer func() { metrics.SearchDuration.WithLabelValues("chat").Observe(time.Since(started).Seconds()) }()

	vector, err := o.embedder.Embed(ctx, raw)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("chat", "error").Inc()
		return nil, err
	}

	matches, err := o.index.Query(ctx, vector, nil, 1)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("chat", "error").Inc()
		return nil, err
	}

	diag := Diagnostics{BucketsQueried: 1, TotalMatches: len(matches)}
	if len(matches) == 0 || matches[0].Score < o.chatThreshold {
		if len(matches) > 0 {
			logging.Debugf("retrieval: chat top score %.4f below threshold %.2f",
				matches[0].Score, o.chatThreshold)
		}
		metrics.SearchesTotal.WithLabelValues("chat", "not_found").Inc()
		return &Answer{Message: "no relevant memory", Diagnostics: diag}, nil
	}

	metrics.SearchesTotal.WithLabelValues("chat", "answered").Inc()
	return &Answer{
		Found:       true,
		Result:      resultFromMatch(matches[0]),
		Diagnostics: diag,
	}, nil
}

func resultFromMatch(m vectorindex.Match) *SearchResult {
	return &SearchResult{
		Date:      m.Metadata["date"],
		Time:      m.Metadata["time"],
		TimeRange: m.Metadata["time_range"],
		Content:   m.Metadata["content"],
		Location:  m.Metadata["location"],
		Score:     m.Score,
	}
}
