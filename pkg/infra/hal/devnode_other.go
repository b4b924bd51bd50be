//go:build !unix

package hal

const deviceNodesSupported = false

func isCharDevice(string) bool { return false }
