//go:build !unix

package storage

// fileLock is in-process only on this platform; run a single writer process.
type fileLock struct{}

func openFileLock(string) (*fileLock, error) { return &fileLock{}, nil }

func (l *fileLock) lock() error   { return nil }
func (l *fileLock) unlock() error { return nil }
func (l *fileLock) close() error  { return nil }
