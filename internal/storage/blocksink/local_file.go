package blocksink

import (
	"fmt"
	"os"
)

// LocalFile is the default Sink backend: a single os.File opened for
// append, synced with fsync. Mirrors the open flags the write-ahead log
// has always used for its own segment files.
type LocalFile struct {
	file *os.File
}

// OpenLocalFile opens (creating if necessary) path for append+read and
// wraps it as a Sink.
func OpenLocalFile(path string) (*LocalFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("blocksink: open %s: %w", path, err)
	}
	return &LocalFile{file: f}, nil
}

// Append writes p to the end of the file.
func (l *LocalFile) Append(p []byte) (int, error) {
	n, err := l.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("blocksink: write: %w", err)
	}
	return n, nil
}

// FlushToPeers is a no-op for a local single-replica sink: there are no
// peers to push to.
func (l *LocalFile) FlushToPeers() error {
	return nil
}

// SyncToDisk calls fsync on the underlying file descriptor.
func (l *LocalFile) SyncToDisk() error {
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("blocksink: sync: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *LocalFile) Close() error {
	return l.file.Close()
}

// ReadAt exposes the underlying file for replay/readback use, satisfying
// Readable.
func (l *LocalFile) ReadAt(p []byte, off int64) (int, error) {
	return l.file.ReadAt(p, off)
}

// OpenLocalFileForRead opens path read-only as a Readable.
func OpenLocalFileForRead(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blocksink: open %s: %w", path, err)
	}
	return &LocalFile{file: f}, nil
}
