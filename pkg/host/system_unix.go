//go:build !windows

package host

import (
	"github.com/edgeprov/edge-installer/pkg/errors"
	"golang.org/x/sys/unix"
)

// IsElevated reports whether the process runs as root
func IsElevated() (bool, error) {
	return unix.Geteuid() == 0, nil
}

// FreeDiskBytes returns the space available to unprivileged users on the filesystem holding path
func FreeDiskBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, errors.Wrap(err, "failed to stat filesystem")
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
