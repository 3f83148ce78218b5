// Package connection owns the process-wide HTTP transport and the single
// headless browser session shared by discovery and download.
package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// Config controls the shared clients and the browser session.
type Config struct {
	DownloadTimeout        time.Duration
	PrefetchTimeout        time.Duration
	NavTimeout             time.Duration
	BrowserDownloadTimeout time.Duration
	// DownloadDir receives files the browser downloads before they are
	// committed to the harvest tree. Empty means a managed temp dir.
	DownloadDir string
}

// Manager hands out the HTTP clients and the lazily started browser session.
// The browser costs hundreds of megabytes, so it only starts once the first
// browser-mediated source actually needs it, and every such source shares it
// so challenge clearance carries across requests.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	downloadClient *http.Client
	prefetchClient *http.Client

	browserOnce sync.Once
	browser     *Browser
	browserErr  error
}

// NewManager builds a manager with one pooled transport behind both clients.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		downloadClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.DownloadTimeout,
		},
		prefetchClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.PrefetchTimeout,
		},
	}
}

// DownloadClient returns the client used for document GETs. Its timeout
// bounds the whole transfer.
func (m *Manager) DownloadClient() *http.Client {
	return m.downloadClient
}

// PrefetchClient returns the short-deadline client used for existence probes.
func (m *Manager) PrefetchClient() *http.Client {
	return m.prefetchClient
}

// Browser starts the shared headless session on first use and returns it on
// every subsequent call. A failed start is remembered; callers get the same
// error instead of respawn storms.
func (m *Manager) Browser(ctx context.Context) (harvest.BrowserSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser session: %w", err)
	}
	m.browserOnce.Do(func() {
		m.logger.Info("starting headless browser session")
		m.browser, m.browserErr = newBrowser(browserConfig{
			NavTimeout:      m.cfg.NavTimeout,
			DownloadTimeout: m.cfg.BrowserDownloadTimeout,
			DownloadDir:     m.cfg.DownloadDir,
		}, m.logger.Named("browser"))
	})
	if m.browserErr != nil {
		return nil, fmt.Errorf("start browser session: %w", m.browserErr)
	}
	return m.browser, nil
}

// Close shuts the browser session down if one was started and releases idle
// connections.
func (m *Manager) Close(ctx context.Context) error {
	m.downloadClient.CloseIdleConnections()
	if m.browser != nil {
		if err := m.browser.Close(ctx); err != nil {
			return fmt.Errorf("close browser session: %w", err)
		}
	}
	return nil
}
