package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// partialSuffix marks in-flight writes. A crash leaves only .partial files
// behind, never a truncated document at its final name.
const partialSuffix = ".partial"

// WriteAtomic streams r into path via a sibling temp file and renames it into
// place once the stream completed. The partial file is removed on any
// failure. Returns the number of bytes committed.
func (s *Store) WriteAtomic(path string, r io.Reader) (written int64, err error) {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("create parent directories for %s: %w", path, err)
	}

	partial := path + partialSuffix
	f, err := s.fs.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open partial file %s: %w", partial, err)
	}

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = s.fs.Remove(partial)
		}
	}()

	written, err = io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", partial, err)
	}
	if err = f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", partial, err)
	}
	if err = s.fs.Rename(partial, path); err != nil {
		return 0, fmt.Errorf("commit %s: %w", path, err)
	}
	return written, nil
}

// WriteFileAtomic commits a complete in-memory payload, used for small
// control files such as the run manifest.
func (s *Store) WriteFileAtomic(path string, data []byte) error {
	_, err := s.WriteAtomic(path, bytes.NewReader(data))
	return err
}

// Remove deletes a file, ignoring already-missing paths.
func (s *Store) Remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
