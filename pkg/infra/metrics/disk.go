package metrics

// DiskUsage describes the filesystem holding a directory.
type DiskUsage struct {
	Path    string  `json:"path" yaml:"path"`
	Total   uint64  `json:"total" yaml:"total"`
	Free    uint64  `json:"free" yaml:"free"`
	Used    uint64  `json:"used" yaml:"used"`
	Percent float64 `json:"percent" yaml:"percent"`
}

func newDiskUsage(path string, total, free uint64) DiskUsage {
	used := total - free
	var percent float64
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}
	return DiskUsage{Path: path, Total: total, Free: free, Used: used, Percent: percent}
}
