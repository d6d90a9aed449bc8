//go:build windows

package flux

import "time"

// lchtimes is a no-op on Windows; symlink timestamps are not restored there.
func lchtimes(string, time.Time) error {
	return nil
}
