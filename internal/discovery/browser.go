package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// Browser discovers candidates on sources that assemble their listings with
// JavaScript or sit behind an interception page a plain client cannot clear.
type Browser struct {
	provider harvest.BrowserProvider
	logger   *zap.Logger
}

// NewBrowser wires the shared session provider.
func NewBrowser(provider harvest.BrowserProvider, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{provider: provider, logger: logger}
}

// Discover renders the expanded listing URL in the shared session and
// extracts document anchors from the settled DOM.
func (b *Browser) Discover(ctx context.Context, source harvest.SourceDescriptor, fiscalYear int) ([]harvest.DiscoveredFile, error) {
	pageURL := source.ExpandURL(fiscalYear)

	session, err := b.provider.Browser(ctx)
	if err != nil {
		return nil, err
	}

	html, err := session.RenderPage(ctx, pageURL, source.ExpandSelector)
	if err != nil {
		return nil, fmt.Errorf("render listing %s: %w", pageURL, err)
	}

	files, err := ExtractFromHTML(source, fiscalYear, pageURL, html)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("rendered listing scanned",
		zap.String("source", source.ID),
		zap.Int("fiscal_year", fiscalYear),
		zap.Int("candidates", len(files)))
	return files, nil
}
