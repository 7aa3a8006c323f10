package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifelog-ai/recall/pkg/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestEmbed_FlatVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`[0.1, 0.2, 0.3]`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, testPolicy())
	vec, err := c.Embed(context.Background(), "Date: 01/06/2024, Time: 15:30:00, Feedback: lunch")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbed_SingleRowMatrix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[0.5, 0.6]]`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, testPolicy())
	vec, err := c.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6}, vec)
}

func TestEmbed_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[1.0]`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, testPolicy())
	vec, err := c.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{1.0}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbed_UnavailableAfterExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, testPolicy())
	_, err := c.Embed(context.Background(), "query")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbed_MalformedBodyIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"error": "not a vector"}`))
			return
		}
		w.Write([]byte(`[0.9]`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, testPolicy())
	vec, err := c.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.9}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbed_EmptyVectorIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL}, testPolicy())
	_, err := c.Embed(context.Background(), "query")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbed_HonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(Config{Endpoint: srv.URL}, testPolicy())

	done := make(chan error, 1)
	go func() {
		_, err := c.Embed(ctx, "query")
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Embed did not return after cancellation")
	}
}
