// Package harvest defines core types shared across the acquisition pipeline.
package harvest

import (
	"strconv"
	"strings"
	"time"
)

// AccessMethod describes how a source must be reached.
type AccessMethod string

// Access methods for configured sources.
const (
	// AccessDirect sources serve plain HTML over ordinary HTTP.
	AccessDirect AccessMethod = "direct"
	// AccessBrowser sources sit behind bot mitigation and require a real
	// browser session for every request.
	AccessBrowser AccessMethod = "browser"
)

// Valid reports whether the access method is a known value.
func (m AccessMethod) Valid() bool {
	return m == AccessDirect || m == AccessBrowser
}

// YearToken is the placeholder replaced by the fiscal year when a source URL
// template is expanded.
const YearToken = "{year}"

// SourceDescriptor is the immutable configuration for one document portal.
// Descriptors are built once at startup and never mutated afterwards.
type SourceDescriptor struct {
	// ID is the short stable identifier used in paths and the manifest.
	ID string `json:"id"`
	// Name is the human-readable portal name used in logs.
	Name string `json:"name"`
	// URLTemplate contains the {year} token expanded per fiscal year.
	URLTemplate string `json:"url_template"`
	// AccessMethod selects the discovery and download strategy.
	AccessMethod AccessMethod `json:"access_method"`
	// MinRequestInterval is the minimum spacing between requests to this
	// source; the pacer sleeps only the positive remainder.
	MinRequestInterval time.Duration `json:"min_request_interval"`
	// StripQuery controls URL de-duplication: when true (the historical
	// behavior) query strings are removed before comparing candidates.
	// Sources that encode document identity in query parameters set false.
	StripQuery bool `json:"strip_query"`
	// ExpandSelector, when set on a browser source, is clicked after page
	// load to reveal collapsed document listings before anchors are read.
	ExpandSelector string `json:"expand_selector,omitempty"`
}

// ExpandURL substitutes the fiscal year into the source's URL template.
func (s SourceDescriptor) ExpandURL(fiscalYear int) string {
	return strings.ReplaceAll(s.URLTemplate, YearToken, strconv.Itoa(fiscalYear))
}

// DiscoveredFile is a downloadable document located during discovery. It is
// consumed once while building the worklist and is not persisted; the
// manifest ledger is the durable record.
type DiscoveredFile struct {
	SourceID   string
	FiscalYear int
	URL        string
	Filename   string
	Ext        string
}

// DownloadTask is one unit of transfer work. A task is owned exclusively by
// the worker executing it; nothing else reads or mutates it in flight.
type DownloadTask struct {
	File         DiscoveredFile
	DestPath     string
	AccessMethod AccessMethod
	Attempt      int
}

// Result reports a completed transfer.
type Result struct {
	SizeBytes int64
	SHA256    string
}

// ExtractionJob asks the extraction worker to unpack a downloaded archive.
// Once enqueued the worker owns the archive file; the producer must not touch
// it again.
type ExtractionJob struct {
	ArchivePath string
	DestDir     string
	SourceID    string
	FiscalYear  int
	EnqueuedAt  time.Time
}
