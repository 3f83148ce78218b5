package manifest

import (
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

func newTestLedger(t *testing.T) (*Ledger, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := storage.New(fs, "/harvest")
	require.NoError(t, err)
	clock := fixedClock{t: time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)}
	return NewLedger(store, "/harvest/manifest.json", "run-0001", clock, nil), fs
}

func task(url, dest string, access harvest.AccessMethod) harvest.DownloadTask {
	return harvest.DownloadTask{
		File: harvest.DiscoveredFile{
			SourceID:   "comptroller",
			FiscalYear: 2026,
			URL:        url,
			Filename:   "doc.pdf",
			Ext:        ".pdf",
		},
		DestPath:     dest,
		AccessMethod: access,
	}
}

func TestPlanSeedsPendingOnce(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	a := task("https://c.example.gov/a.pdf", "/harvest/comptroller/2026/a.pdf", harvest.AccessDirect)

	l.Plan([]harvest.DownloadTask{a, a})
	entries := l.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, StatusPending, entries[0].Status)
}

func TestRecordUpgradesPendingExactlyOnce(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	a := task("https://c.example.gov/a.pdf", "/harvest/comptroller/2026/a.pdf", harvest.AccessDirect)
	l.Plan([]harvest.DownloadTask{a})

	require.NoError(t, l.Record(a, StatusOK, harvest.Result{SizeBytes: 42, SHA256: "abc"}, ""))

	err := l.Record(a, StatusError, harvest.Result{}, "should not land")
	require.ErrorIs(t, err, ErrDuplicateRecord)

	entries := l.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, StatusOK, entries[0].Status)
	require.Equal(t, int64(42), entries[0].SizeBytes)
	require.Equal(t, "abc", entries[0].SHA256)
}

func TestRecordRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	a := task("https://c.example.gov/a.pdf", "/x/a.pdf", harvest.AccessDirect)
	require.Error(t, l.Record(a, StatusPending, harvest.Result{}, ""))
}

func TestRecordWithoutPlanAppends(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	a := task("https://c.example.gov/a.pdf", "/x/a.pdf", harvest.AccessBrowser)
	l.RecordSkipped(a, 7)

	entries := l.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, StatusSkipped, entries[0].Status)
	require.Equal(t, int64(7), entries[0].SizeBytes)
	require.Equal(t, harvest.AccessBrowser, entries[0].AccessMethod)
}

func TestRecordConcurrentWriters(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)

	tasks := make([]harvest.DownloadTask, 50)
	for i := range tasks {
		tasks[i] = task(
			"https://c.example.gov/doc"+string(rune('A'+i%26))+string(rune('a'+i/26))+".pdf",
			"/harvest/comptroller/2026/doc"+string(rune('A'+i%26))+string(rune('a'+i/26))+".pdf",
			harvest.AccessDirect,
		)
	}
	l.Plan(tasks)

	var wg sync.WaitGroup
	for _, tk := range tasks {
		tk := tk
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordOK(tk, harvest.Result{SizeBytes: 1})
		}()
	}
	wg.Wait()

	s := l.Summary()
	require.Equal(t, 50, s.OK)
	require.Zero(t, s.Pending)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	l, fs := newTestLedger(t)
	a := task("https://c.example.gov/a.pdf", "/harvest/comptroller/2026/a.pdf", harvest.AccessDirect)
	b := task("https://c.example.gov/b.zip", "/harvest/comptroller/2026/b.zip", harvest.AccessDirect)
	l.Plan([]harvest.DownloadTask{a, b})
	l.RecordOK(a, harvest.Result{SizeBytes: 7})
	l.RecordError(b, "connection reset")

	require.NoError(t, l.Finalize())

	doc, err := Load(fs, "/harvest/manifest.json")
	require.NoError(t, err)
	require.Equal(t, "run-0001", doc.RunID)
	require.NotNil(t, doc.FinishedAt)
	require.Len(t, doc.Entries, 2)

	failures := doc.FailuresOnly()
	require.Len(t, failures, 1)
	require.Equal(t, "https://c.example.gov/b.zip", failures[0].URL)

	rebuilt := failures[0].Task()
	require.Equal(t, b.File.URL, rebuilt.File.URL)
	require.Equal(t, b.DestPath, rebuilt.DestPath)
	require.Equal(t, b.AccessMethod, rebuilt.AccessMethod)
}

func TestFlushMidRunKeepsPending(t *testing.T) {
	t.Parallel()

	l, fs := newTestLedger(t)
	a := task("https://c.example.gov/a.pdf", "/harvest/a.pdf", harvest.AccessDirect)
	l.Plan([]harvest.DownloadTask{a})

	require.NoError(t, l.Flush())

	doc, err := Load(fs, "/harvest/manifest.json")
	require.NoError(t, err)
	require.Nil(t, doc.FinishedAt)
	require.Len(t, doc.Entries, 1)
	require.Equal(t, StatusPending, doc.Entries[0].Status)
}

func TestFailuresOnlyExcludesCorrupted(t *testing.T) {
	t.Parallel()

	doc := Document{Entries: []Entry{
		{URL: "u1", Status: StatusError},
		{URL: "u2", Status: StatusCorrupted},
		{URL: "u3", Status: StatusOK},
		{URL: "u4", Status: StatusSkipped},
	}}
	failures := doc.FailuresOnly()
	require.Len(t, failures, 1)
	require.Equal(t, "u1", failures[0].URL)
}

func TestSummaryCounts(t *testing.T) {
	t.Parallel()

	l, _ := newTestLedger(t)
	a := task("https://c.example.gov/a.pdf", "/h/a.pdf", harvest.AccessDirect)
	b := task("https://c.example.gov/b.pdf", "/h/b.pdf", harvest.AccessDirect)
	c := task("https://c.example.gov/c.zip", "/h/c.zip", harvest.AccessDirect)
	d := task("https://c.example.gov/d.pdf", "/h/d.pdf", harvest.AccessBrowser)

	l.Plan([]harvest.DownloadTask{a, b, c, d})
	l.RecordOK(a, harvest.Result{SizeBytes: 1})
	l.RecordSkipped(b, 1)
	l.RecordCorrupted(c, "zero-byte payload")

	s := l.Summary()
	require.Equal(t, 1, s.OK)
	require.Equal(t, 1, s.Skipped)
	require.Equal(t, 1, s.Corrupted)
	require.Equal(t, 1, s.Pending)
	require.Zero(t, s.Errors)
	require.Equal(t, 4, s.Total())
}
