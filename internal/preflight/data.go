package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Aman-CERP/kbsearch/internal/profiling"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// rerankerProbeTimeout bounds the reranker health request.
const rerankerProbeTimeout = 3 * time.Second

// CheckDatabase opens the database, runs SQLite's quick integrity check and
// reports its size and collections.
func (c *Checker) CheckDatabase(ctx context.Context) CheckResult {
	const name = "database"
	path := c.cfg.DBPath()

	st, err := store.Open(path)
	if err != nil {
		return fail(name, err.Error(), true)
	}
	defer func() { _ = st.Close() }()

	var verdict string
	if err := st.DB().QueryRowContext(ctx, "PRAGMA quick_check").Scan(&verdict); err != nil {
		return fail(name, fmt.Sprintf("integrity check failed: %v", err), true)
	}
	if verdict != "ok" {
		r := fail(name, "integrity check reported problems", true)
		r.Details = verdict
		return r
	}

	cols, err := st.ListCollections(ctx)
	if err != nil {
		return fail(name, err.Error(), true)
	}
	docs := 0
	for _, col := range cols {
		docs += col.DocumentCount
	}

	var size uint64
	if info, err := os.Stat(path); err == nil {
		size = uint64(info.Size())
	}
	msg := fmt.Sprintf("%s, %d collections, %d documents", profiling.FormatBytes(size), len(cols), docs)
	if len(cols) == 0 {
		return CheckResult{
			Name:     name,
			Status:   StatusWarn,
			Message:  msg,
			Details:  "Create a collection with 'kbsearch collection create' and load it with 'kbsearch ingest'",
			Required: true,
		}
	}
	r := pass(name, msg, true)
	r.Details = path
	return r
}

// CheckLock reports whether another process holds the data directory lock.
// A held lock usually means serve is running, which blocks ingest.
func (c *Checker) CheckLock() CheckResult {
	const name = "data_dir_lock"
	lock := store.NewDirLock(c.cfg.Data.Dir)
	ok, err := lock.TryLock()
	if err != nil {
		return fail(name, err.Error(), false)
	}
	if !ok {
		return CheckResult{
			Name:     name,
			Status:   StatusWarn,
			Message:  "held by another kbsearch process",
			Details:  "ingest and collection delete wait until 'kbsearch serve' stops",
			Required: false,
		}
	}
	_ = lock.Unlock()
	return pass(name, "free", false)
}

// CheckReranker reports the configured reranker and, for an HTTP endpoint,
// whether it answers its health check. Failures are not critical: search
// falls back to embedding similarity.
func (c *Checker) CheckReranker(ctx context.Context) CheckResult {
	const name = "reranker"
	rc := c.cfg.Reranker
	provider := strings.ToLower(rc.Provider)

	switch {
	case provider == "none":
		return pass(name, "disabled", false)
	case provider == "embedding" || rc.Endpoint == "":
		return pass(name, "embedding similarity", false)
	case !c.probeReranker:
		return pass(name, rc.Endpoint+" (not probed)", false)
	}

	hcfg := search.DefaultHTTPRerankerConfig()
	hcfg.Endpoint = rc.Endpoint
	hcfg.Model = rc.Model
	hcfg.Timeout = rerankerProbeTimeout

	probeCtx, cancel := context.WithTimeout(ctx, rerankerProbeTimeout)
	defer cancel()
	r, err := search.NewHTTPReranker(probeCtx, hcfg)
	if err != nil {
		res := fail(name, rc.Endpoint+" unreachable", false)
		res.Details = err.Error()
		return res
	}
	_ = r.Close()
	return pass(name, rc.Endpoint, false)
}
