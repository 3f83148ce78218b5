package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

// DirectConfig wires the plain-HTTP strategy.
type DirectConfig struct {
	Client *http.Client
	// UserAgent pins every transfer to one identity. Empty rotates
	// realistic browser agents per request.
	UserAgent string
	Detector  *Detector
	Retry     *RetryPolicy
	Logger    *zap.Logger
}

// Direct streams documents from sources that serve them over ordinary HTTP.
type Direct struct {
	store *storage.Store
	cfg   DirectConfig
}

// NewDirect builds the strategy with default detector and retry policy where
// none are supplied.
func NewDirect(store *storage.Store, cfg DirectConfig) *Direct {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Detector == nil {
		cfg.Detector = NewDetector(nil)
	}
	if cfg.Retry == nil {
		cfg.Retry = NewRetryPolicy(DefaultMaxRetries, DefaultRetryDelay)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Direct{store: store, cfg: cfg}
}

// Execute downloads one task, retrying whole attempts under the policy. The
// destination path holds bytes only after a complete transfer.
func (d *Direct) Execute(ctx context.Context, task harvest.DownloadTask) (harvest.Result, error) {
	var lastErr error
	for {
		result, err := d.attempt(ctx, task)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !d.cfg.Retry.ShouldRetry(err, task.Attempt) {
			break
		}
		task.Attempt++
		d.cfg.Logger.Debug("retrying download",
			zap.String("url", task.File.URL),
			zap.Int("attempt", task.Attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return harvest.Result{}, fmt.Errorf("download canceled: %w", ctx.Err())
		case <-time.After(d.cfg.Retry.Delay()):
		}
	}
	return harvest.Result{}, lastErr
}

func (d *Direct) attempt(ctx context.Context, task harvest.DownloadTask) (harvest.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.File.URL, nil)
	if err != nil {
		return harvest.Result{}, fmt.Errorf("build request for %s: %w", task.File.URL, err)
	}
	setRequestHeaders(req, task.File, d.cfg.UserAgent)

	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return harvest.Result{}, fmt.Errorf("get %s: %w", task.File.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Sniff before writing anything: challenge pages arrive with 200 or 403
	// alike, and their bytes must never reach the destination path.
	head := make([]byte, challengeSniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return harvest.Result{}, fmt.Errorf("read %s: %w", task.File.URL, err)
	}
	head = head[:n]

	if d.cfg.Detector.IsChallenge(resp.Header.Get("Content-Type"), head, task.File.Ext) {
		return harvest.Result{}, &harvest.ChallengeError{URL: task.File.URL, Step: "direct"}
	}
	if resp.StatusCode != http.StatusOK {
		return harvest.Result{}, fmt.Errorf("get %s: unexpected status %s", task.File.URL, resp.Status)
	}
	if n == 0 {
		return harvest.Result{}, harvest.ErrEmptyBody
	}

	written, err := d.store.WriteAtomic(task.DestPath, io.MultiReader(bytes.NewReader(head), resp.Body))
	if err != nil {
		return harvest.Result{}, fmt.Errorf("commit %s: %w", task.DestPath, err)
	}
	return harvest.Result{SizeBytes: written}, nil
}
