package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// DirectConfig controls the plain-HTTP listing fetches.
type DirectConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Direct discovers candidates on sources whose listing pages render
// server-side.
type Direct struct {
	cfg    DirectConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewDirect builds the collector template cloned for each listing fetch.
func NewDirect(cfg DirectConfig, logger *zap.Logger) *Direct {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	return &Direct{cfg: cfg, base: c, logger: logger}
}

// Discover fetches the expanded listing URL and extracts document anchors.
func (d *Direct) Discover(ctx context.Context, source harvest.SourceDescriptor, fiscalYear int) ([]harvest.DiscoveredFile, error) {
	pageURL := source.ExpandURL(fiscalYear)

	collector := d.base.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.SetRequestTimeout(d.cfg.Timeout)

	set := newCandidateSet(source, fiscalYear)
	var fetchErr error

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		set.Add(e.Request.URL, e.Attr("href"))
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := d.runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return nil, err
	}

	d.logger.Debug("listing page scanned",
		zap.String("source", source.ID),
		zap.Int("fiscal_year", fiscalYear),
		zap.Int("candidates", len(set.Files())))
	return set.Files(), nil
}

func (d *Direct) runCollector(ctx context.Context, collector *colly.Collector, pageURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("listing fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", pageURL, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", pageURL, *fetchErr)
		}
		return nil
	}
}
