package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the minimum file descriptor limit. The full-text
// index and database keep many files open under load.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the soft open-file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	const name = "file_descriptors"

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return fail(name, fmt.Sprintf("failed to check file descriptor limit: %v", err), true)
	}

	msg := fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, c.minFDs)
	if uint64(rLimit.Cur) < c.minFDs {
		r := fail(name, msg, true)
		r.Details = "Run 'ulimit -n 10240' to increase the limit"
		return r
	}
	return pass(name, msg, true)
}
