//go:build !windows

package flux

import (
	"time"

	"golang.org/x/sys/unix"
)

// lchtimes sets the modification time of a symlink itself, not its target.
func lchtimes(name string, mtime time.Time) error {
	tv := []unix.Timeval{
		unix.NsecToTimeval(mtime.UnixNano()),
		unix.NsecToTimeval(mtime.UnixNano()),
	}

	return unix.Lutimes(name, tv)
}
