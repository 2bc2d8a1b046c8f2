//go:build windows

package platform

import (
	"errors"

	"golang.org/x/sys/windows/registry"
)

// nativeRegistry reads and writes DWORDs under one HKLM key.
type nativeRegistry struct{ path string }

func localRegistry(path string) (dwordStore, bool) {
	return nativeRegistry{path: path}, true
}

func (n nativeRegistry) Get(name string) (uint32, bool, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, n.path, registry.QUERY_VALUE)
	if err != nil {
		return 0, false, err
	}
	defer k.Close()
	v, _, err := k.GetIntegerValue(name)
	if errors.Is(err, registry.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint32(v), true, nil
}

func (n nativeRegistry) Set(name string, v uint32) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, n.path, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()
	return k.SetDWordValue(name, v)
}

func (n nativeRegistry) Delete(name string) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, n.path, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()
	if err := k.DeleteValue(name); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}
