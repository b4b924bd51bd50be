//go:build windows

package metrics

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Disk reports usage of the volume containing path.
func Disk(path string) (DiskUsage, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("encode path: %w", err)
	}

	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return DiskUsage{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}
	return newDiskUsage(path, total, freeToCaller), nil
}
