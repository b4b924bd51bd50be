//go:build unix

package metrics

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Disk reports usage of the filesystem containing path.
func Disk(path string) (DiskUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	return newDiskUsage(path, uint64(stat.Blocks)*bsize, uint64(stat.Bavail)*bsize), nil
}
