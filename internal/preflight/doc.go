// Package preflight checks that kbsearch can run in the current environment.
//
// The checks cover the configuration, the data directory (write access, free
// space, database integrity and the single-writer lock), the open file limit
// and, when configured, the HTTP reranker. They back the doctor command:
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
