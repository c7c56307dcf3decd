package tilar

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a non-blocking exclusive lock, enforcing the
// single-writer-per-archive policy.
func lockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("tilar: acquiring exclusive lock on %s: %w", f.Name(), err)
	}
	return nil
}

// lockShared takes a non-blocking shared lock, allowing any number of
// concurrent readers alongside each other (but not alongside a writer).
func lockShared(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return fmt.Errorf("tilar: acquiring shared lock on %s: %w", f.Name(), err)
	}
	return nil
}

func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
