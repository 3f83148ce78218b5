// Package download executes transfer tasks: plain streamed GETs for direct
// sources and an ordered fallback chain through the shared browser session
// for sources behind bot mitigation.
package download

import (
	"bytes"
	"strings"
)

// challengeSniffLen bounds how much of a response body the detector inspects.
// Interstitial pages announce themselves in the first kilobytes.
const challengeSniffLen = 4096

// defaultChallengeMarkers are phrases WAF interstitials embed in their HTML.
var defaultChallengeMarkers = []string{
	"checking your browser",
	"just a moment",
	"attention required",
	"cf-browser-verification",
	"cf-challenge",
	"verify you are human",
	"request unsuccessful",
	"incapsula",
	"captcha",
	"enable javascript and cookies",
}

// Detector flags WAF challenge pages served in place of documents. Challenge
// bytes must never be committed under the target filename.
type Detector struct {
	markers [][]byte
}

// NewDetector builds a detector from marker phrases; empty input selects the
// default marker set.
func NewDetector(markers []string) *Detector {
	if len(markers) == 0 {
		markers = defaultChallengeMarkers
	}
	lowered := make([][]byte, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		lowered = append(lowered, bytes.ToLower([]byte(m)))
	}
	return &Detector{markers: lowered}
}

// IsChallenge reports whether a response claiming to carry a document with
// extension ext is actually an interstitial. HTML served where a binary
// document was expected is treated as a challenge even without markers;
// nothing else on these portals answers a document URL with markup.
func (d *Detector) IsChallenge(contentType string, body []byte, ext string) bool {
	if d == nil {
		return false
	}
	if len(body) > challengeSniffLen {
		body = body[:challengeSniffLen]
	}
	if d.containsMarkers(body) {
		return true
	}
	if htmlDocumentExpected(ext) {
		return false
	}
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	return looksLikeHTML(body)
}

func (d *Detector) containsMarkers(body []byte) bool {
	if len(body) == 0 || len(d.markers) == 0 {
		return false
	}
	lowered := bytes.ToLower(body)
	for _, m := range d.markers {
		if bytes.Contains(lowered, m) {
			return true
		}
	}
	return false
}

func htmlDocumentExpected(ext string) bool {
	switch strings.ToLower(ext) {
	case ".html", ".htm":
		return true
	}
	return false
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
