package download

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/hash/sha256"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

// Executor dispatches tasks to the strategy matching their access method and
// optionally checksums what lands. On success the destination holds the
// complete document; on any failure nothing remains at the final path.
type Executor struct {
	store   *storage.Store
	direct  *Direct
	browser *Browser
	hasher  *sha256.Hasher
	logger  *zap.Logger
}

// NewExecutor builds an executor over the two strategies. The browser
// strategy may be nil when no browser-mediated source is selected. When
// checksum is set, committed files get a SHA-256 digest in the result.
func NewExecutor(store *storage.Store, direct *Direct, browser *Browser, checksum bool, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:   store,
		direct:  direct,
		browser: browser,
		logger:  logger,
	}
	if checksum {
		e.hasher = sha256.New()
	}
	return e
}

// Execute runs one task to a terminal result.
func (e *Executor) Execute(ctx context.Context, task harvest.DownloadTask) (harvest.Result, error) {
	var (
		result harvest.Result
		err    error
	)
	switch task.AccessMethod {
	case harvest.AccessBrowser:
		if e.browser == nil {
			return harvest.Result{}, fmt.Errorf("no browser strategy configured for %s", task.File.URL)
		}
		result, err = e.browser.Execute(ctx, task)
	default:
		result, err = e.direct.Execute(ctx, task)
	}
	if err != nil {
		return harvest.Result{}, err
	}
	if e.hasher == nil {
		return result, nil
	}

	digest, err := e.checksum(task.DestPath)
	if err != nil {
		// The document is committed; a checksum failure only costs the
		// manifest field.
		e.logger.Warn("checksum failed",
			zap.String("path", task.DestPath),
			zap.Error(err))
		return result, nil
	}
	result.SHA256 = digest
	return result, nil
}

func (e *Executor) checksum(path string) (string, error) {
	f, err := e.store.Filesystem().Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	digest, _, err := e.hasher.HashReader(f)
	if err != nil {
		return "", err
	}
	return digest, nil
}
