package session

import (
	"fmt"
	"syscall"
)

// CheckDiskSpace checks that path has at least minMB megabytes free.
func CheckDiskSpace(path string, minMB int) error {
	if minMB <= 0 {
		return nil
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", path, err)
	}

	availableMB := stat.Bavail * uint64(stat.Bsize) / (1024 * 1024)
	if availableMB < uint64(minMB) {
		return fmt.Errorf("insufficient disk space: %d MB available, %d MB required at %s",
			availableMB, minMB, path)
	}
	return nil
}
