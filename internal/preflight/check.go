package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/kbsearch/internal/config"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "PASS":
		*s = StatusPass
	case "WARN":
		*s = StatusWarn
	case "FAIL":
		*s = StatusFail
	default:
		return fmt.Errorf("unknown check status %q", text)
	}
	return nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

func pass(name, msg string, required bool) CheckResult {
	return CheckResult{Name: name, Status: StatusPass, Message: msg, Required: required}
}

func fail(name, msg string, required bool) CheckResult {
	return CheckResult{Name: name, Status: StatusFail, Message: msg, Required: required}
}

// Checker runs the checks for one configuration.
type Checker struct {
	cfg           *config.Config
	probeReranker bool
	minDiskBytes  uint64
	minFDs        uint64
}

// Option configures a Checker.
type Option func(*Checker)

// WithRerankerProbe controls whether a configured reranker endpoint is
// contacted. Off, the check only reports the configuration.
func WithRerankerProbe(probe bool) Option {
	return func(c *Checker) {
		c.probeReranker = probe
	}
}

// WithMinDiskSpace overrides MinDiskSpaceBytes.
func WithMinDiskSpace(bytes uint64) Option {
	return func(c *Checker) {
		c.minDiskBytes = bytes
	}
}

// New creates a Checker for cfg.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:           cfg,
		probeReranker: true,
		minDiskBytes:  MinDiskSpaceBytes,
		minFDs:        MinFileDescriptors,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check in a fixed order. Checks that need the data
// directory are skipped once it proves unusable.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{c.CheckConfig()}

	write := c.CheckWritePermissions(c.cfg.Data.Dir)
	results = append(results, write)
	if write.Status == StatusFail {
		return append(results, c.CheckFileDescriptors())
	}

	results = append(results,
		c.CheckDiskSpace(c.cfg.Data.Dir),
		c.CheckFileDescriptors(),
		c.CheckDatabase(ctx),
		c.CheckLock(),
		c.CheckReranker(ctx),
	)
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "failed", "ready_with_warnings" or "ready".
func SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckConfig validates the loaded configuration.
func (c *Checker) CheckConfig() CheckResult {
	if err := c.cfg.Validate(); err != nil {
		return fail("config", err.Error(), true)
	}
	return pass("config", "valid", true)
}

// CheckWritePermissions creates the directory if needed and writes a probe file.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	const name = "write_permissions"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r := fail(name, fmt.Sprintf("cannot create %s: %v", dir, err), true)
		r.Details = "Set data.dir or --data-dir to a writable location"
		return r
	}

	probe := filepath.Join(dir, ".kbsearch-preflight")
	f, err := os.Create(probe)
	if err != nil {
		return fail(name, fmt.Sprintf("permission denied: %v", err), true)
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return pass(name, dir, true)
}
