package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/strategy"
)

// Backend names used in breakers, logs and errors.
const (
	backendSemantic = "semantic"
	backendFullText = "fulltext"
)

// DispatcherConfig configures backend calls.
type DispatcherConfig struct {
	// BackendTimeout bounds each individual backend call.
	BackendTimeout time.Duration

	// BreakerMaxFailures is the consecutive failure count that opens a backend's circuit.
	BreakerMaxFailures int

	// BreakerResetTimeout is how long an open circuit waits before probing.
	BreakerResetTimeout time.Duration
}

// Retrieval holds the candidates one collection's backends returned.
type Retrieval struct {
	Collection string
	Strategy   strategy.Strategy
	Semantic   []Candidate
	FullText   []Candidate

	// Degraded is set when a backend the strategy needed failed.
	Degraded    bool
	SemanticErr error
	FullTextErr error
}

// Dispatcher issues the backend calls a strategy needs.
type Dispatcher struct {
	semantic SemanticBackend
	fulltext FullTextBackend
	timeout  time.Duration
	breakers map[string]*kberrors.CircuitBreaker
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Either backend may be nil, in which
// case strategies that need it report it as unavailable.
func NewDispatcher(semantic SemanticBackend, fulltext FullTextBackend, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = DefaultBackendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []kberrors.CircuitBreakerOption{
		kberrors.WithMaxFailures(cfg.BreakerMaxFailures),
		kberrors.WithResetTimeout(cfg.BreakerResetTimeout),
		kberrors.WithIgnoredErrors(func(err error) bool {
			return errors.Is(err, context.Canceled)
		}),
	}
	return &Dispatcher{
		semantic: semantic,
		fulltext: fulltext,
		timeout:  cfg.BackendTimeout,
		breakers: map[string]*kberrors.CircuitBreaker{
			backendSemantic: kberrors.NewCircuitBreaker(backendSemantic, opts...),
			backendFullText: kberrors.NewCircuitBreaker(backendFullText, opts...),
		},
		logger: logger,
	}
}

// Dispatch retrieves up to topK candidates per backend for one collection.
//
// A failed backend contributes nothing and marks the retrieval degraded.
// When every backend the strategy needs failed, Dispatch returns
// AllBackendsFailed. Cancellation of ctx is returned as ctx.Err().
func (d *Dispatcher) Dispatch(ctx context.Context, collection, text string, s strategy.Strategy, topK int) (*Retrieval, error) {
	if !s.IsConcrete() {
		return nil, kberrors.InternalError(fmt.Sprintf("dispatch requires a concrete strategy, got %q", s), nil)
	}

	r := &Retrieval{Collection: collection, Strategy: s}
	g, gctx := errgroup.WithContext(ctx)

	if s.UsesSemantic() {
		g.Go(func() error {
			var search func(context.Context) ([]store.Hit, error)
			if d.semantic != nil {
				search = func(ctx context.Context) ([]store.Hit, error) {
					return d.semantic.SearchVectors(ctx, collection, text, topK)
				}
			}
			r.Semantic, r.SemanticErr = d.call(gctx, backendSemantic, collection, strategy.Semantic, topK, search)
			return nil
		})
	}
	if s.UsesFullText() {
		g.Go(func() error {
			var search func(context.Context) ([]store.Hit, error)
			if d.fulltext != nil {
				search = func(ctx context.Context) ([]store.Hit, error) {
					return d.fulltext.SearchText(ctx, collection, text, topK)
				}
			}
			r.FullText, r.FullTextErr = d.call(gctx, backendFullText, collection, strategy.FullText, topK, search)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needed, failed := 0, 0
	var errs []error
	for _, side := range []struct {
		used bool
		err  error
	}{{s.UsesSemantic(), r.SemanticErr}, {s.UsesFullText(), r.FullTextErr}} {
		if !side.used {
			continue
		}
		needed++
		if side.err != nil {
			failed++
			errs = append(errs, side.err)
		}
	}

	if failed == needed {
		return nil, kberrors.AllBackendsFailed(collection, errors.Join(errs...))
	}
	r.Degraded = failed > 0
	return r, nil
}

func (d *Dispatcher) call(
	ctx context.Context,
	backend, collection string,
	origin strategy.Strategy,
	topK int,
	search func(context.Context) ([]store.Hit, error),
) ([]Candidate, error) {
	if search == nil {
		return nil, kberrors.BackendUnavailable(backend, errors.New("backend not configured"))
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	hits, err := kberrors.ExecuteWithResult(d.breakers[backend], func() ([]store.Hit, error) {
		return search(callCtx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = kberrors.Timeout(backend+" search", err)
		}
		d.logger.Warn("backend_failed",
			slog.String("backend", backend),
			slog.String("collection", collection),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, kberrors.BackendUnavailable(backend, err)
	}

	return toCandidates(hits, collection, origin, topK), nil
}

// toCandidates keeps the first occurrence of each document, at most topK.
func toCandidates(hits []store.Hit, collection string, origin strategy.Strategy, topK int) []Candidate {
	out := make([]Candidate, 0, min(len(hits), topK))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if len(out) == topK {
			break
		}
		if _, dup := seen[h.DocID]; dup || h.DocID == "" {
			continue
		}
		seen[h.DocID] = struct{}{}
		out = append(out, Candidate{
			DocID:      h.DocID,
			Collection: collection,
			Score:      h.Score,
			Rank:       len(out) + 1,
			Strategy:   origin,
		})
	}
	return out
}
