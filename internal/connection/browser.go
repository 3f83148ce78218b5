package connection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

const (
	defaultNavTimeout      = 45 * time.Second
	defaultDownloadTimeout = 120 * time.Second
	expandClickTimeout     = 2 * time.Second
	renderSettleDelay      = 500 * time.Millisecond
)

type browserConfig struct {
	NavTimeout      time.Duration
	DownloadTimeout time.Duration
	DownloadDir     string
}

// Browser drives one headless Chrome process. All page interactions are
// serialized: portals that fingerprint clients get one coherent session, and
// download completion events stay attributable to a single transfer.
type Browser struct {
	cfg             browserConfig
	logger          *zap.Logger
	allocCancel     context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	downloadDir     string
	ownsDownloadDir bool

	navMu sync.Mutex
}

func newBrowser(cfg browserConfig, logger *zap.Logger) (*Browser, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	downloadDir := cfg.DownloadDir
	owns := false
	if downloadDir == "" {
		dir, err := os.MkdirTemp("", "fiscalharvest-dl-")
		if err != nil {
			return nil, fmt.Errorf("create browser download dir: %w", err)
		}
		downloadDir = dir
		owns = true
	}

	// The session keeps Chrome's own user agent: portals that challenge
	// clients cross-check the header against the JS fingerprint.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		if owns {
			_ = os.RemoveAll(downloadDir)
		}
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		cfg:             cfg,
		logger:          logger,
		allocCancel:     allocCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		downloadDir:     downloadDir,
		ownsDownloadDir: owns,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts and removes
// the managed download dir.
func (b *Browser) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	if b.ownsDownloadDir {
		if err := os.RemoveAll(b.downloadDir); err != nil {
			return fmt.Errorf("remove browser download dir: %w", err)
		}
	}
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// RenderPage navigates to pageURL with JavaScript enabled and returns the
// rendered DOM. When expandSelector is set the element is clicked before the
// snapshot so collapsed year sections reveal their links; a missing selector
// is not an error since portals restyle without notice.
func (b *Browser) RenderPage(ctx context.Context, pageURL, expandSelector string) (string, error) {
	b.navMu.Lock()
	defer b.navMu.Unlock()

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	if err := chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(renderSettleDelay),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}

	if expandSelector != "" {
		clickCtx, cancelClick := context.WithTimeout(taskCtx, expandClickTimeout)
		err := chromedp.Run(clickCtx,
			chromedp.Click(expandSelector, chromedp.ByQuery, chromedp.NodeVisible),
			chromedp.Sleep(renderSettleDelay),
		)
		cancelClick()
		if err != nil {
			b.logger.Debug("expand selector not clickable",
				zap.String("url", pageURL),
				zap.String("selector", expandSelector),
				zap.Error(err))
		}
	}

	var html string
	if err := chromedp.Run(taskCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", pageURL, err)
	}
	return html, nil
}

// fetchScript runs inside the page and returns the file bytes base64-encoded
// together with the response status and content type. Chunked encoding keeps
// String.fromCharCode off the stack-size ceiling for multi-megabyte bodies.
const fetchScript = `(async () => {
	const resp = await fetch(%q, {credentials: 'include'});
	const buf = await resp.arrayBuffer();
	const bytes = new Uint8Array(buf);
	let binary = '';
	const chunk = 0x8000;
	for (let i = 0; i < bytes.length; i += chunk) {
		binary += String.fromCharCode.apply(null, bytes.subarray(i, i + chunk));
	}
	return {status: resp.status, ct: resp.headers.get('content-type') || '', b64: btoa(binary)};
})()`

type fetchScriptResult struct {
	Status      int    `json:"status"`
	ContentType string `json:"ct"`
	B64         string `json:"b64"`
}

// FetchInSession retrieves fileURL with an in-page fetch so the request rides
// the session's cookie jar and fingerprint. The tab is first parked on the
// file's origin, which keeps the fetch same-origin.
func (b *Browser) FetchInSession(ctx context.Context, fileURL string) (harvest.BrowserBytes, error) {
	b.navMu.Lock()
	defer b.navMu.Unlock()

	origin, err := originOf(fileURL)
	if err != nil {
		return harvest.BrowserBytes{}, err
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.cfg.DownloadTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var res fetchScriptResult
	err = chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.Navigate(origin),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(fetchScript, fileURL), &res, awaitPromise),
	)
	if err != nil {
		return harvest.BrowserBytes{}, fmt.Errorf("in-session fetch %s: %w", fileURL, err)
	}
	if res.Status >= 400 {
		return harvest.BrowserBytes{}, fmt.Errorf("in-session fetch %s: status %d", fileURL, res.Status)
	}
	body, err := base64.StdEncoding.DecodeString(res.B64)
	if err != nil {
		return harvest.BrowserBytes{}, fmt.Errorf("decode in-session fetch body: %w", err)
	}
	return harvest.BrowserBytes{Body: body, ContentType: res.ContentType}, nil
}

// anchorClickScript synthesizes a user-gesture download for fileURL.
const anchorClickScript = `(() => {
	const a = document.createElement('a');
	a.href = %q;
	a.download = '';
	document.body.appendChild(a);
	a.click();
	a.remove();
	return true;
})()`

// TriggerDownload parks the tab on the file's origin and clicks a synthetic
// anchor, letting the browser's own download machinery negotiate the
// transfer. Returns the completed file's path under the download dir.
func (b *Browser) TriggerDownload(ctx context.Context, fileURL string) (string, error) {
	origin, err := originOf(fileURL)
	if err != nil {
		return "", err
	}
	var clicked bool
	return b.downloadWith(ctx, fileURL, func(taskCtx context.Context) error {
		return chromedp.Run(taskCtx,
			chromedp.Navigate(origin),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf(anchorClickScript, fileURL), &clicked),
		)
	})
}

// NavigateDownload points the tab directly at the file URL. Chrome converts
// the navigation into a download, which surfaces as net::ERR_ABORTED on the
// navigation itself; that error is expected and ignored.
func (b *Browser) NavigateDownload(ctx context.Context, fileURL string) (string, error) {
	return b.downloadWith(ctx, fileURL, func(taskCtx context.Context) error {
		err := chromedp.Run(taskCtx, chromedp.Navigate(fileURL))
		if err != nil && !strings.Contains(err.Error(), "net::ERR_ABORTED") {
			return err
		}
		return nil
	})
}

// downloadWith wires download progress events on a fresh tab, runs the
// initiating action, and waits for exactly one transfer to finish. The nav
// mutex guarantees the completed GUID belongs to this call.
func (b *Browser) downloadWith(ctx context.Context, fileURL string, initiate func(context.Context) error) (string, error) {
	b.navMu.Lock()
	defer b.navMu.Unlock()

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.cfg.DownloadTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	done := make(chan string, 1)
	failed := make(chan error, 1)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			b.logger.Debug("browser download started",
				zap.String("url", e.URL),
				zap.String("suggested_filename", e.SuggestedFilename))
		case *browser.EventDownloadProgress:
			switch e.State {
			case browser.DownloadProgressStateCompleted:
				select {
				case done <- e.GUID:
				default:
				}
			case browser.DownloadProgressStateCanceled:
				select {
				case failed <- errors.New("browser canceled the download"):
				default:
				}
			}
		}
	})

	if err := chromedp.Run(taskCtx,
		network.Enable(),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(b.downloadDir).
			WithEventsEnabled(true),
	); err != nil {
		return "", fmt.Errorf("prepare download tab: %w", err)
	}

	if err := initiate(taskCtx); err != nil {
		return "", fmt.Errorf("initiate download %s: %w", fileURL, err)
	}

	select {
	case guid := <-done:
		return filepath.Join(b.downloadDir, guid), nil
	case err := <-failed:
		return "", fmt.Errorf("download %s: %w", fileURL, err)
	case <-taskCtx.Done():
		return "", fmt.Errorf("download %s: %w", fileURL, taskCtx.Err())
	}
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %s has no origin", rawURL)
	}
	return u.Scheme + "://" + u.Host + "/", nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
