//go:build unix

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

type fileLock struct{ f *os.File }

func openFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) lock() error   { return unix.Flock(int(l.f.Fd()), unix.LOCK_EX) }
func (l *fileLock) unlock() error { return unix.Flock(int(l.f.Fd()), unix.LOCK_UN) }
func (l *fileLock) close() error  { return l.f.Close() }
