// Package embedding wraps the HTTP text-embedding provider. The provider
// speaks the inference-server convention: POST {"inputs": <text>} and a
// 2xx response whose body is a numeric vector (or a single-row matrix).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lifelog-ai/recall/pkg/observability/logging"
	"github.com/lifelog-ai/recall/pkg/observability/metrics"
	"github.com/lifelog-ai/recall/pkg/retry"
)

// ErrUnavailable is returned once every attempt against the provider has
// been exhausted. It wraps the message of the last underlying failure.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Config holds provider connection settings.
//
//	Endpoint is the full URL of the embedding route.
//	APIKey, when set, is sent as a bearer token.
//	Dimension is the expected vector width; mismatches are logged, not fatal.
type Config struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Client is a retrying embedding client. The http.Client is reused for
// connection pooling.
type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
}

// NewClient builds a Client. A zero policy falls back to retry.Default().
func NewClient(cfg Config, policy retry.Policy) *Client {
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	if cfg.Timeout > 0 {
		policy.Timeout = cfg.Timeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		policy: policy,
	}
}

type embedRequest struct {
	Inputs string `json:"inputs"`
}

// Embed returns the vector for text. Any failure, including a malformed
// response body, is retried under the client's policy; once attempts are
// exhausted the error is ErrUnavailable carrying the last failure.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	attempt := 0
	err := c.policy.Do(ctx, "embed", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.EmbeddingRetries.Inc()
		}
		v, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if c.cfg.Dimension > 0 && len(vector) != c.cfg.Dimension {
		logging.Warnf("embedding: dimension mismatch - got %d, expected %d", len(vector), c.cfg.Dimension)
	}
	return vector, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(payload, 200))
	}

	vector, err := decodeVector(payload)
	if err != nil {
		// Malformed bodies are retried like any transient failure, but
		// they usually mean a misconfigured endpoint, so they get their
		// own log line and counter.
		metrics.EmbeddingMalformedResponses.Inc()
		logging.Warnf("embedding: malformed provider response: %v", err)
		return nil, err
	}
	return vector, nil
}

// decodeVector accepts either a flat vector or a single-row matrix, which
// is what batch-shaped providers return for one input.
func decodeVector(payload []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(payload, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}

	var matrix [][]float32
	if err := json.Unmarshal(payload, &matrix); err == nil && len(matrix) > 0 && len(matrix[0]) > 0 {
		return matrix[0], nil
	}

	return nil, fmt.Errorf("response is not a numeric vector: %s", truncate(payload, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
