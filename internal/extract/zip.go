package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/civicdata/fiscalharvest/internal/storage"
)

// unpackArchive expands every regular file in the zip at archivePath into
// destDir. Entries keep their archive-relative layout. A bad entry is skipped
// and reported; the rest of the archive still extracts. Returns the number of
// files committed and the joined per-entry errors.
func unpackArchive(ctx context.Context, store *storage.Store, archivePath, destDir string) (int, error) {
	data, err := afero.ReadFile(store.Filesystem(), archivePath)
	if err != nil {
		return 0, fmt.Errorf("read archive: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}

	var (
		extracted int
		entryErrs []error
	)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			entryErrs = append(entryErrs, err)
			break
		}
		if f.FileInfo().IsDir() {
			continue
		}

		target, err := entryTarget(destDir, f.Name)
		if err != nil {
			entryErrs = append(entryErrs, err)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			entryErrs = append(entryErrs, fmt.Errorf("open entry %s: %w", f.Name, err))
			continue
		}
		_, err = store.WriteAtomic(target, rc)
		closeErr := rc.Close()
		if err := errors.Join(err, closeErr); err != nil {
			entryErrs = append(entryErrs, fmt.Errorf("extract entry %s: %w", f.Name, err))
			continue
		}
		extracted++
	}

	return extracted, errors.Join(entryErrs...)
}

// entryTarget maps an archive entry name into destDir, rejecting names that
// would land outside it.
func entryTarget(destDir, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("entry %s: absolute path in archive", name)
	}
	target := filepath.Join(destDir, cleaned)
	cleanDest := filepath.Clean(destDir)
	if !strings.HasPrefix(target, cleanDest+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %s: escapes destination directory", name)
	}
	return target, nil
}
