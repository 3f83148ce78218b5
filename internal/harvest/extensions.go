package harvest

import (
	"path"
	"strings"
)

// downloadableExtensions is the single source of truth for which anchor
// targets count as documents. Both discovery strategies consult it; keeping
// a second copy anywhere is the seed of discovery inconsistencies.
var downloadableExtensions = map[string]struct{}{
	".pdf":  {},
	".xls":  {},
	".xlsx": {},
	".csv":  {},
	".zip":  {},
}

// excludedHosts are CDN and tracker hosts whose links never point at corpus
// documents even when the extension matches.
var excludedHosts = map[string]struct{}{
	"fonts.googleapis.com":     {},
	"www.googletagmanager.com": {},
	"cdnjs.cloudflare.com":     {},
}

// archiveExtensions are the subset handed to the extraction worker.
var archiveExtensions = map[string]struct{}{
	".zip": {},
}

// DownloadableExt returns the lower-cased extension of the URL path when it
// is one the pipeline fetches, and ok=false otherwise.
func DownloadableExt(rawPath string) (string, bool) {
	ext := strings.ToLower(path.Ext(rawPath))
	_, ok := downloadableExtensions[ext]
	return ext, ok
}

// ExcludedHost reports whether the host is on the shared exclusion list.
func ExcludedHost(host string) bool {
	_, ok := excludedHosts[strings.ToLower(host)]
	return ok
}

// IsArchive reports whether a filename refers to an archive the extraction
// worker can unpack.
func IsArchive(filename string) bool {
	_, ok := archiveExtensions[strings.ToLower(path.Ext(filename))]
	return ok
}
