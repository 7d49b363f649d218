package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/kbsearch/internal/profiling"
)

// MinDiskSpaceBytes is the free space required under the data directory (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace checks the free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	const name = "disk_space"

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return fail(name, fmt.Sprintf("failed to check disk space: %v", err), true)
	}

	available := stat.Bavail * uint64(stat.Bsize)
	msg := fmt.Sprintf("%s free (minimum: %s)", profiling.FormatBytes(available), profiling.FormatBytes(c.minDiskBytes))
	if available < c.minDiskBytes {
		return fail(name, msg, true)
	}
	return pass(name, msg, true)
}
