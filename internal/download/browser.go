package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

// Fallback step names used in errors and logs.
const (
	stepFetch    = "in-session fetch"
	stepTrigger  = "anchor trigger"
	stepNavigate = "navigation"
)

// Browser acquires documents from WAF-protected sources through the shared
// session, walking an ordered fallback chain until one step lands bytes.
type Browser struct {
	store    *storage.Store
	provider harvest.BrowserProvider
	detector *Detector
	logger   *zap.Logger
}

// NewBrowser builds the strategy.
func NewBrowser(store *storage.Store, provider harvest.BrowserProvider, detector *Detector, logger *zap.Logger) *Browser {
	if detector == nil {
		detector = NewDetector(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{store: store, provider: provider, detector: detector, logger: logger}
}

// Execute tries in-session fetch, then a synthetic anchor click, then full
// navigation. Each step times out inside the session; one step failing falls
// through to the next, and exhausting all three is terminal.
func (b *Browser) Execute(ctx context.Context, task harvest.DownloadTask) (harvest.Result, error) {
	session, err := b.provider.Browser(ctx)
	if err != nil {
		return harvest.Result{}, fmt.Errorf("browser session: %w", err)
	}

	var stepErrs []error
	fail := func(step string, err error) {
		stepErrs = append(stepErrs, fmt.Errorf("%s: %w", step, err))
		b.logger.Debug("fallback step failed",
			zap.String("step", step),
			zap.String("url", task.File.URL),
			zap.Error(err))
	}

	result, err := b.fetchStep(ctx, session, task)
	if err == nil {
		return result, nil
	}
	fail(stepFetch, err)

	result, err = b.downloadStep(ctx, task, session.TriggerDownload)
	if err == nil {
		return result, nil
	}
	fail(stepTrigger, err)

	result, err = b.downloadStep(ctx, task, session.NavigateDownload)
	if err == nil {
		return result, nil
	}
	fail(stepNavigate, err)

	return harvest.Result{}, errors.Join(stepErrs...)
}

func (b *Browser) fetchStep(ctx context.Context, session harvest.BrowserSession, task harvest.DownloadTask) (harvest.Result, error) {
	payload, err := session.FetchInSession(ctx, task.File.URL)
	if err != nil {
		return harvest.Result{}, err
	}
	if b.detector.IsChallenge(payload.ContentType, payload.Body, task.File.Ext) {
		return harvest.Result{}, &harvest.ChallengeError{URL: task.File.URL, Step: stepFetch}
	}
	if len(payload.Body) == 0 {
		return harvest.Result{}, harvest.ErrEmptyBody
	}
	written, err := b.store.WriteAtomic(task.DestPath, bytes.NewReader(payload.Body))
	if err != nil {
		return harvest.Result{}, fmt.Errorf("commit %s: %w", task.DestPath, err)
	}
	return harvest.Result{SizeBytes: written}, nil
}

func (b *Browser) downloadStep(ctx context.Context, task harvest.DownloadTask, run func(context.Context, string) (string, error)) (harvest.Result, error) {
	scratch, err := run(ctx, task.File.URL)
	if err != nil {
		return harvest.Result{}, err
	}
	return b.commitScratch(scratch, task)
}

// commitScratch moves a completed browser download from the session's scratch
// directory into the harvest tree. The scratch directory is always on the OS
// filesystem, whatever backs the store.
func (b *Browser) commitScratch(scratch string, task harvest.DownloadTask) (harvest.Result, error) {
	f, err := os.Open(scratch)
	if err != nil {
		return harvest.Result{}, fmt.Errorf("open browser download %s: %w", scratch, err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(scratch)
	}()

	written, err := b.store.WriteAtomic(task.DestPath, f)
	if err != nil {
		return harvest.Result{}, fmt.Errorf("commit %s: %w", task.DestPath, err)
	}
	if written == 0 {
		_ = b.store.Remove(task.DestPath)
		return harvest.Result{}, harvest.ErrEmptyBody
	}
	return harvest.Result{SizeBytes: written}, nil
}
