//go:build windows

package cache

import (
	"errors"
	"os"
	"time"
)

// ErrLockBusy is returned when an index lock cannot be acquired within the
// configured timeout.
var ErrLockBusy = errors.New("cache: index lock busy")

// fileLock on Windows relies on the marker file itself: O_CREATE|O_EXCL
// creation acts as the mutual exclusion primitive, since flock is not
// available. Shared readers degrade to exclusive access.
type fileLock struct {
	path string
	file *os.File
}

const lockRetryInterval = 25 * time.Millisecond

func acquireLock(path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			return &fileLock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		time.Sleep(lockRetryInterval)
	}
}

func (l *fileLock) release() {
	if l == nil || l.file == nil {
		return
	}
	l.file.Close()
	l.file = nil
	os.Remove(l.path)
}
