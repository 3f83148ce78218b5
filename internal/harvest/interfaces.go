package harvest

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// BrowserBytes carries the result of an in-session fetch.
type BrowserBytes struct {
	Body        []byte
	ContentType string
}

// BrowserSession is the shared automation session used against WAF-protected
// sources. Implementations serialize navigations internally; callers may hold
// the session from multiple goroutines but must expect calls to block while
// another navigation is in flight.
type BrowserSession interface {
	// RenderPage navigates to pageURL, optionally clicks expandSelector to
	// reveal collapsed listings, and returns the rendered DOM.
	RenderPage(ctx context.Context, pageURL, expandSelector string) (string, error)
	// FetchInSession retrieves fileURL with the page's authenticated
	// fetch(), reusing cookies and headers transparently.
	FetchInSession(ctx context.Context, fileURL string) (BrowserBytes, error)
	// TriggerDownload injects a synthetic anchor for fileURL, simulates
	// activation, and returns the path of the completed browser download.
	TriggerDownload(ctx context.Context, fileURL string) (string, error)
	// NavigateDownload navigates the page itself to fileURL and captures
	// the resulting download. Slowest fallback, closest to user behavior.
	NavigateDownload(ctx context.Context, fileURL string) (string, error)
}

// BrowserProvider hands out the lazily-started shared session. The first call
// pays the browser startup cost; later calls return the same session.
type BrowserProvider interface {
	Browser(ctx context.Context) (BrowserSession, error)
}
