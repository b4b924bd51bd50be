//go:build unix

package hal

import "golang.org/x/sys/unix"

const deviceNodesSupported = true

// isCharDevice reports whether path is a character device the process may open.
func isCharDevice(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return false
	}
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}
