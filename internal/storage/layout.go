// Package storage lays out the harvest tree on a filesystem and provides
// atomic file commits so interrupted runs never leave half-written documents
// at their final paths.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Store writes harvested documents beneath a single base directory, one
// subtree per source and fiscal year.
type Store struct {
	fs      afero.Fs
	baseDir string
}

// New roots a store at baseDir, creating it when missing and probing that it
// is writable so a bad output path fails the run before any network work.
func New(fs afero.Fs, baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := fs.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", baseDir, err)
	}
	probe := filepath.Join(baseDir, ".writable_probe")
	if err := afero.WriteFile(fs, probe, []byte("probe"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory %s is not writable: %w", baseDir, err)
	}
	if err := fs.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Store{fs: fs, baseDir: baseDir}, nil
}

// Filesystem exposes the backing filesystem for collaborators that operate
// on paths the store handed out.
func (s *Store) Filesystem() afero.Fs {
	return s.fs
}

// BaseDir returns the root of the harvest tree.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// DocumentPath resolves the final location of one document:
// <base>/<source>/<fiscal year>/<filename>. Filenames that would escape the
// tree are rejected.
func (s *Store) DocumentPath(sourceID string, fiscalYear int, filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("filename is required")
	}
	full := filepath.Join(s.baseDir, sourceID, strconv.Itoa(fiscalYear), filename)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected for %q", filename)
	}
	return full, nil
}

// Exists reports whether a previously handed-out path already holds a file.
func (s *Store) Exists(path string) (bool, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return !info.IsDir(), nil
}

// Size reports a file's length in bytes and whether it exists at all.
func (s *Store) Size(path string) (int64, bool, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}
