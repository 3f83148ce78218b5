// Package discovery turns source listing pages into candidate document
// downloads. Direct sources are fetched with a plain collector; browser
// sources go through the shared headless session. Both paths funnel their
// anchors through the same normalization and filtering.
package discovery

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

var skipHrefPrefixes = []string{"javascript:", "mailto:", "tel:", "#"}

// candidateSet accumulates downloadable links for one source and fiscal
// year, de-duplicating by normalized URL while preserving page order.
type candidateSet struct {
	source     harvest.SourceDescriptor
	fiscalYear int
	seen       map[string]struct{}
	files      []harvest.DiscoveredFile
}

func newCandidateSet(source harvest.SourceDescriptor, fiscalYear int) *candidateSet {
	return &candidateSet{
		source:     source,
		fiscalYear: fiscalYear,
		seen:       make(map[string]struct{}),
	}
}

// Add resolves href against base and keeps it when it looks like a document
// this pipeline collects. Anything unparseable is dropped silently; listing
// pages routinely carry junk anchors.
func (s *candidateSet) Add(base *url.URL, href string) {
	href = strings.TrimSpace(href)
	if href == "" {
		return
	}
	lower := strings.ToLower(href)
	for _, prefix := range skipHrefPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return
	}

	normalized, err := harvest.NormalizeURL(resolved.String(), s.source.StripQuery)
	if err != nil {
		return
	}
	target, err := url.Parse(normalized)
	if err != nil {
		return
	}
	ext, ok := harvest.DownloadableExt(target.Path)
	if !ok {
		return
	}
	if harvest.ExcludedHost(target.Hostname()) {
		return
	}
	if _, dup := s.seen[normalized]; dup {
		return
	}
	s.seen[normalized] = struct{}{}

	s.files = append(s.files, harvest.DiscoveredFile{
		SourceID:   s.source.ID,
		FiscalYear: s.fiscalYear,
		URL:        normalized,
		Filename:   harvest.FilenameFromURL(normalized),
		Ext:        ext,
	})
}

// Files returns the candidates in the order they appeared on the page.
func (s *candidateSet) Files() []harvest.DiscoveredFile {
	return s.files
}

// ExtractFromHTML walks every anchor of a rendered page. Malformed markup is
// not an error: goquery parses what it can and the rest yields no anchors,
// which matches how real portals degrade.
func ExtractFromHTML(source harvest.SourceDescriptor, fiscalYear int, pageURL, html string) ([]harvest.DiscoveredFile, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}
	set := newCandidateSet(source, fiscalYear)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		set.Add(base, href)
	})
	return set.Files(), nil
}
