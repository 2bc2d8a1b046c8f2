//go:build !windows

package platform

func localRegistry(string) (dwordStore, bool) { return nil, false }
