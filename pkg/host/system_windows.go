//go:build windows

package host

import (
	"github.com/edgeprov/edge-installer/pkg/errors"
	"golang.org/x/sys/windows"
)

// IsElevated reports whether the process token is elevated
func IsElevated() (bool, error) {
	return windows.GetCurrentProcessToken().IsElevated(), nil
}

// FreeDiskBytes returns the space available to the caller on the volume holding path
func FreeDiskBytes(path string) (uint64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, errors.Wrap(err, "invalid path")
	}
	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree); err != nil {
		return 0, errors.Wrap(err, "failed to query disk space")
	}
	return free, nil
}
