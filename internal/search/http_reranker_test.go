package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// rerankServer scores each document by its length unless status is set.
type rerankServer struct {
	status   atomic.Int32
	requests atomic.Int32
	badIndex bool

	mu       sync.Mutex
	lastBody httpRerankRequest
}

func (s *rerankServer) last() httpRerankRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBody
}

func (s *rerankServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /rerank", func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if code := s.status.Load(); code != 0 {
			http.Error(w, "unavailable", int(code))
			return
		}
		var req httpRerankRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		s.mu.Lock()
		s.lastBody = req
		s.mu.Unlock()

		type result struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		}
		out := struct {
			Results []result `json:"results"`
		}{}
		for i, d := range req.Documents {
			idx := i
			if s.badIndex {
				idx = len(req.Documents) + i
			}
			out.Results = append(out.Results, result{Index: idx, Score: float64(len(d)) / 100})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}

func newTestHTTPReranker(t *testing.T, srv *rerankServer) *HTTPReranker {
	t.Helper()
	ts := httptest.NewServer(srv.handler(t))
	t.Cleanup(ts.Close)

	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{
		Endpoint: ts.URL,
		Model:    "cross-encoder-test",
		Timeout:  time.Second,
		Retry: kberrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
		RequestsPerSecond: 1000,
		Burst:             100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestHTTPReranker_Rerank(t *testing.T) {
	// Given
	srv := &rerankServer{}
	r := newTestHTTPReranker(t, srv)
	docs := []RerankDocument{{ID: "short", Text: "abc"}, {ID: "long", Text: "abcdefghij"}}

	// When
	scores, err := r.Rerank(context.Background(), "letters", docs)

	// Then
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, RerankScore{ID: "short", Score: 0.03}, scores[0])
	assert.Equal(t, RerankScore{ID: "long", Score: 0.10}, scores[1])
	assert.Equal(t, "letters", srv.last().Query)
	assert.Equal(t, "cross-encoder-test", srv.last().Model)
}

func TestHTTPReranker_EmptyDocsSkipsServer(t *testing.T) {
	srv := &rerankServer{}
	r := newTestHTTPReranker(t, srv)

	scores, err := r.Rerank(context.Background(), "q", nil)

	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Equal(t, int32(0), srv.requests.Load())
}

func TestHTTPReranker_ServerErrorIsRetried(t *testing.T) {
	srv := &rerankServer{}
	srv.status.Store(http.StatusServiceUnavailable)
	r := newTestHTTPReranker(t, srv)

	_, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, kberrors.ErrRerankUnavailable)
	assert.Equal(t, int32(3), srv.requests.Load())
}

func TestHTTPReranker_ClientErrorIsNotRetried(t *testing.T) {
	srv := &rerankServer{}
	srv.status.Store(http.StatusBadRequest)
	r := newTestHTTPReranker(t, srv)

	_, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}})

	require.Error(t, err)
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestHTTPReranker_OutOfRangeIndex(t *testing.T) {
	srv := &rerankServer{badIndex: true}
	r := newTestHTTPReranker(t, srv)

	_, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}})

	assert.ErrorIs(t, err, kberrors.ErrRerankUnavailable)
}

func TestHTTPReranker_Closed(t *testing.T) {
	r := newTestHTTPReranker(t, &rerankServer{})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}})

	assert.ErrorIs(t, err, kberrors.ErrRerankUnavailable)
	assert.False(t, r.Available(context.Background()))
}

func TestHTTPReranker_Available(t *testing.T) {
	r := newTestHTTPReranker(t, &rerankServer{})

	assert.True(t, r.Available(context.Background()))
}

func TestNewHTTPReranker_HealthCheckFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: ts.URL})

	assert.ErrorIs(t, err, kberrors.ErrRerankUnavailable)
}
