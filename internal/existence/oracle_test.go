package existence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(afero.NewMemMapFs(), "/harvest")
	require.NoError(t, err)
	return s
}

func seedFile(t *testing.T, s *storage.Store, task harvest.DownloadTask, size int) {
	t.Helper()
	require.NoError(t, s.WriteFileAtomic(task.DestPath, make([]byte, size)))
}

func directTask(t *testing.T, s *storage.Store, url, filename string) harvest.DownloadTask {
	t.Helper()
	dest, err := s.DocumentPath("comptroller", 2024, filename)
	require.NoError(t, err)
	return harvest.DownloadTask{
		File: harvest.DiscoveredFile{
			SourceID:   "comptroller",
			FiscalYear: 2024,
			URL:        url,
			Filename:   filename,
			Ext:        ".pdf",
		},
		DestPath:     dest,
		AccessMethod: harvest.AccessDirect,
	}
}

func browserTask(t *testing.T, s *storage.Store, url, filename string) harvest.DownloadTask {
	t.Helper()
	dest, err := s.DocumentPath("pensions", 2024, filename)
	require.NoError(t, err)
	return harvest.DownloadTask{
		File: harvest.DiscoveredFile{
			SourceID:   "pensions",
			FiscalYear: 2024,
			URL:        url,
			Filename:   filename,
			Ext:        ".pdf",
		},
		DestPath:     dest,
		AccessMethod: harvest.AccessBrowser,
	}
}

// sizeServer serves HEAD responses advertising fixed sizes per path.
func sizeServer(t *testing.T, sizes map[string]int, headCount *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			headCount.Add(1)
		}
		size, ok := sizes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestFilterNoLocalFileAlwaysDownloads(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	o := New(s, Config{Client: http.DefaultClient})

	tasks := []harvest.DownloadTask{
		directTask(t, s, "https://c.example.gov/a.pdf", "a.pdf"),
		browserTask(t, s, "https://p.example.gov/b.pdf", "b.pdf"),
	}

	toDownload, toSkip := o.Filter(context.Background(), tasks, false)
	require.Len(t, toDownload, 2)
	require.Empty(t, toSkip)
}

func TestFilterSkipsOnSizeMatch(t *testing.T) {
	t.Parallel()

	var heads atomic.Int64
	srv := sizeServer(t, map[string]int{"/a.pdf": 100, "/b.pdf": 50}, &heads)
	defer srv.Close()

	s := newTestStore(t)
	o := New(s, Config{Client: srv.Client()})

	matching := directTask(t, s, srv.URL+"/a.pdf", "a.pdf")
	stale := directTask(t, s, srv.URL+"/b.pdf", "b.pdf")
	seedFile(t, s, matching, 100) // equals remote
	seedFile(t, s, stale, 49)     // differs from remote

	toDownload, toSkip := o.Filter(context.Background(), []harvest.DownloadTask{matching, stale}, false)

	require.Len(t, toSkip, 1)
	require.Equal(t, "a.pdf", toSkip[0].Task.File.Filename)
	require.Equal(t, int64(100), toSkip[0].Size)
	require.Len(t, toDownload, 1)
	require.Equal(t, "b.pdf", toDownload[0].File.Filename)
	require.Equal(t, int64(2), heads.Load())
}

func TestFilterTrustsLocalWhenProbeFails(t *testing.T) {
	t.Parallel()

	// Server 404s every HEAD, so no remote size is established.
	var heads atomic.Int64
	srv := sizeServer(t, nil, &heads)
	defer srv.Close()

	s := newTestStore(t)
	o := New(s, Config{Client: srv.Client()})

	a := directTask(t, s, srv.URL+"/a.pdf", "a.pdf")
	b := directTask(t, s, srv.URL+"/b.pdf", "b.pdf")
	seedFile(t, s, a, 10)
	seedFile(t, s, b, 20)

	toDownload, toSkip := o.Filter(context.Background(), []harvest.DownloadTask{a, b}, false)
	require.Empty(t, toDownload)
	require.Len(t, toSkip, 2)
}

func TestFilterBrowserTasksNeverProbed(t *testing.T) {
	t.Parallel()

	var heads atomic.Int64
	srv := sizeServer(t, map[string]int{"/a.pdf": 999}, &heads)
	defer srv.Close()

	s := newTestStore(t)
	o := New(s, Config{Client: srv.Client()})

	a := browserTask(t, s, srv.URL+"/a.pdf", "a.pdf")
	b := browserTask(t, s, srv.URL+"/b.pdf", "b.pdf")
	seedFile(t, s, a, 10) // size mismatch vs remote, but browser trusts local
	seedFile(t, s, b, 20)

	toDownload, toSkip := o.Filter(context.Background(), []harvest.DownloadTask{a, b}, false)
	require.Empty(t, toDownload)
	require.Len(t, toSkip, 2)
	require.Zero(t, heads.Load(), "browser candidates must not be probed")
}

func TestFilterSingleCandidateSkipsBatch(t *testing.T) {
	t.Parallel()

	var heads atomic.Int64
	srv := sizeServer(t, map[string]int{"/a.pdf": 999}, &heads)
	defer srv.Close()

	s := newTestStore(t)
	o := New(s, Config{Client: srv.Client()})

	a := directTask(t, s, srv.URL+"/a.pdf", "a.pdf")
	seedFile(t, s, a, 10)

	toDownload, toSkip := o.Filter(context.Background(), []harvest.DownloadTask{a}, false)
	require.Empty(t, toDownload)
	require.Len(t, toSkip, 1)
	require.Zero(t, heads.Load(), "a lone candidate is not worth a batch")
}

func TestFilterOverwriteDownloadsEverything(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	o := New(s, Config{Client: http.DefaultClient})

	a := directTask(t, s, "https://c.example.gov/a.pdf", "a.pdf")
	seedFile(t, s, a, 10)

	toDownload, toSkip := o.Filter(context.Background(), []harvest.DownloadTask{a}, true)
	require.Len(t, toDownload, 1)
	require.Empty(t, toSkip)
}

func TestFilterEmptyLocalFileDownloads(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	o := New(s, Config{Client: http.DefaultClient})

	a := browserTask(t, s, "https://p.example.gov/a.pdf", "a.pdf")
	seedFile(t, s, a, 0) // zero-byte leftover from a torn run

	toDownload, toSkip := o.Filter(context.Background(), []harvest.DownloadTask{a}, false)
	require.Len(t, toDownload, 1)
	require.Empty(t, toSkip)
}

func TestFilterHonorsProbeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	s := newTestStore(t)
	client := srv.Client()
	client.Timeout = 50 * time.Millisecond
	o := New(s, Config{Client: client})

	a := directTask(t, s, srv.URL+"/a.pdf", "a.pdf")
	b := directTask(t, s, srv.URL+"/b.pdf", "b.pdf")
	seedFile(t, s, a, 10)
	seedFile(t, s, b, 20)

	start := time.Now()
	toDownload, toSkip := o.Filter(context.Background(), []harvest.DownloadTask{a, b}, false)
	require.Less(t, time.Since(start), 5*time.Second)

	// Probes timed out; local files are trusted.
	require.Empty(t, toDownload)
	require.Len(t, toSkip, 2)
}
