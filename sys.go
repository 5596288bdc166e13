package pagedb

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var ErrWriteByOther = errors.New("database root opened by another process")

const lockFileName = "LOCK"

// flock takes an exclusive advisory lock on the root's lock file, retrying
// until timeout. A zero timeout tries once.
func flock(sm *StorageManager, timeout time.Duration) error {
	fd, err := os.OpenFile(sm.lockPath(), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return ioError("lock", err)
	}
	start := time.Now()
	for {
		err = unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			sm.lockFile = fd
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			_ = fd.Close()
			return errors.Wrap(err, "flock failed: unknown error")
		}
		if time.Since(start) >= timeout {
			_ = fd.Close()
			return ErrWriteByOther
		}
		// Wait for a bit and try again.
		time.Sleep(50 * time.Millisecond)
	}
}

// funlock releases the lock taken by flock.
func funlock(sm *StorageManager) error {
	if sm.lockFile == nil {
		return nil
	}
	err := unix.Flock(int(sm.lockFile.Fd()), unix.LOCK_UN)
	if cerr := sm.lockFile.Close(); err == nil {
		err = cerr
	}
	sm.lockFile = nil
	return err
}
