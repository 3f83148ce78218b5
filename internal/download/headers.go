package download

import (
	"math/rand"
	"net/http"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// Some portals front their document hosts with filters that reject anything
// not presenting as a mainstream browser, while still serving listing pages
// to plain clients. Transfers therefore rotate realistic browser identities
// unless a pin is configured.
var browserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

func randomAgent() string {
	return browserAgents[rand.Intn(len(browserAgents))]
}

// setRequestHeaders dresses a transfer request in browser-grade headers. An
// empty pin picks a fresh agent from the pool per request.
func setRequestHeaders(req *http.Request, file harvest.DiscoveredFile, pinned string) {
	agent := pinned
	if agent == "" {
		agent = randomAgent()
	}
	req.Header.Set("User-Agent", agent)
	if harvest.IsArchive(file.Filename) {
		req.Header.Set("Accept", "application/zip,application/octet-stream,*/*")
	} else {
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}
