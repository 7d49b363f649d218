package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

// HTTP reranker defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerTimeout  = 10 * time.Second
	DefaultRerankerRate     = 10.0
	DefaultRerankerBurst    = 5
)

// HTTPRerankerConfig configures an HTTPReranker.
type HTTPRerankerConfig struct {
	// Endpoint is the reranking server base URL.
	Endpoint string

	// Model is passed through to the server when set.
	Model string

	// Timeout bounds each request.
	Timeout time.Duration

	// RequestsPerSecond and Burst limit outgoing requests.
	RequestsPerSecond float64
	Burst             int

	// Retry governs retries of transient failures.
	Retry kberrors.RetryConfig

	// SkipHealthCheck skips the health probe in NewHTTPReranker.
	SkipHealthCheck bool
}

// DefaultHTTPRerankerConfig returns the default client configuration.
func DefaultHTTPRerankerConfig() HTTPRerankerConfig {
	return HTTPRerankerConfig{
		Endpoint:          DefaultRerankerEndpoint,
		Timeout:           DefaultRerankerTimeout,
		RequestsPerSecond: DefaultRerankerRate,
		Burst:             DefaultRerankerBurst,
		Retry:             kberrors.DefaultRetryConfig(),
	}
}

// HTTPReranker calls a cross-encoder served over HTTP.
//
//	POST {endpoint}/rerank  {"query", "documents", "model"} -> {"results": [{"index", "score"}]}
//	GET  {endpoint}/health
type HTTPReranker struct {
	client  *http.Client
	cfg     HTTPRerankerConfig
	limiter *rate.Limiter
	mu      sync.RWMutex
	closed  bool
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a client and, unless skipped, checks server health.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	def := DefaultHTTPRerankerConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = kberrors.IsRetryable
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable, "reranker health check failed", err)
		}
	}

	slog.Debug("http_reranker_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))
	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to reranker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type httpRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type httpRerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Rerank scores docs against query. Transient failures are retried with
// backoff; every attempt waits for the rate limiter.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []RerankDocument) ([]RerankScore, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable, "reranker is closed", nil)
	}
	if len(docs) == 0 {
		return []RerankScore{}, nil
	}

	body := httpRerankRequest{Query: query, Documents: make([]string, len(docs)), Model: r.cfg.Model}
	for i, d := range docs {
		body.Documents[i] = d.Text
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	start := time.Now()
	resp, err := kberrors.RetryWithResult(ctx, r.cfg.Retry, func() (*httpRerankResponse, error) {
		return r.post(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	out := make([]RerankScore, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(docs) {
			return nil, kberrors.Newf(kberrors.ErrCodeRerankUnavailable, "reranker returned index %d for %d documents", res.Index, len(docs))
		}
		out = append(out, RerankScore{ID: docs[res.Index].ID, Score: res.Score})
	}

	slog.Debug("http_rerank_completed",
		slog.Int("doc_count", len(docs)),
		slog.Int("payload_bytes", len(payload)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", resp.ProcessingTimeMs))
	return out, nil
}

func (r *HTTPReranker) post(ctx context.Context, payload []byte) (*httpRerankResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.cfg.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeRerankUnavailable, "rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		e := kberrors.Newf(kberrors.ErrCodeRerankUnavailable, "rerank failed (status %d): %s", resp.StatusCode, string(msg))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			// Client errors will not improve on retry.
			e.Retryable = false
		}
		return nil, e
	}

	var out httpRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return &out, nil
}

// Available reports whether the server answers its health check.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.healthCheck(checkCtx) == nil
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if t, ok := r.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
