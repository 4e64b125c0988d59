//go:build !windows

package cache

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockBusy is returned when an index lock cannot be acquired within the
// configured timeout. Distinct from I/O failures so callers can tell a
// contended lock from a broken disk.
var ErrLockBusy = errors.New("cache: index lock busy")

// lockRetryInterval is the poll interval while waiting for a contended lock.
const lockRetryInterval = 25 * time.Millisecond

// fileLock is a scoped advisory lock on a marker file. The marker is
// created on acquire and removed on release, on every exit path.
type fileLock struct {
	path string
	file *os.File
}

// acquireLock takes an advisory flock on the marker file at path, shared
// for readers and exclusive for writers. The flock is polled non-blocking
// until the deadline; a holder that never releases cannot stall callers
// beyond the timeout.
func acquireLock(path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	how := unix.LOCK_SH | unix.LOCK_NB
	if exclusive {
		how = unix.LOCK_EX | unix.LOCK_NB
	}

	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(int(f.Fd()), how)
		if err == nil {
			return &fileLock{path: path, file: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			f.Close()
			return nil, err
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, ErrLockBusy
		}
		time.Sleep(lockRetryInterval)
	}
}

// release drops the flock, closes the handle, and deletes the marker file.
// Safe to call on all exit paths.
func (l *fileLock) release() {
	if l == nil || l.file == nil {
		return
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil
	os.Remove(l.path)
}
