//go:build !unix && !windows

package platform

func processElevated() bool { return false }
