package wal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tabletkv/corestore/internal/storage/blocksink"
)

// LocalSinkOpener builds a SinkOpener rooted at baseDir: a volume name
// becomes a directory under baseDir, and the session path is created
// (including parent directories) on demand.
func LocalSinkOpener(baseDir string) SinkOpener {
	return func(path string) (blocksink.Sink, error) {
		full := filepath.Join(baseDir, filepath.FromSlash(path))
		if err := ensureParentDir(full); err != nil {
			return nil, err
		}
		return blocksink.OpenLocalFile(full)
	}
}

// LocalReaderOpener is LocalSinkOpener's read-only counterpart, used by
// Replay/Validate/Dump/GetStats against segments on local disk.
func LocalReaderOpener(baseDir string) ReaderOpener {
	return func(path string) (blocksink.Readable, error) {
		full := filepath.Join(baseDir, filepath.FromSlash(path))
		return blocksink.OpenLocalFileForRead(full)
	}
}

func ensureParentDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("wal: create segment directory: %w", err)
	}
	return nil
}
