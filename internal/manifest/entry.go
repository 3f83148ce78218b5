// Package manifest keeps the durable record of every file a run attempted
// and its outcome. The flushed document is the pipeline's only persisted
// state: reruns and retry-failures mode both depend on its stability.
package manifest

import (
	"time"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// Status is the lifecycle state of one attempted file.
type Status string

// Entry statuses. Pending exists only between planning and completion;
// a flushed manifest normally carries terminal statuses only.
const (
	StatusPending   Status = "pending"
	StatusSkipped   Status = "skipped"
	StatusOK        Status = "ok"
	StatusCorrupted Status = "corrupted"
	StatusError     Status = "error"
)

// Terminal reports whether the status closes an entry.
func (s Status) Terminal() bool {
	switch s {
	case StatusSkipped, StatusOK, StatusCorrupted, StatusError:
		return true
	default:
		return false
	}
}

// Entry records one attempted (url, destination) pair. It carries enough to
// rebuild a DownloadTask so retry-failures mode can skip discovery entirely.
type Entry struct {
	URL          string               `json:"url"`
	DestPath     string               `json:"destination_path"`
	Filename     string               `json:"filename"`
	SourceID     string               `json:"source_id"`
	FiscalYear   int                  `json:"fiscal_year"`
	AccessMethod harvest.AccessMethod `json:"access_method"`
	Status       Status               `json:"status"`
	SizeBytes    int64                `json:"size_bytes,omitempty"`
	SHA256       string               `json:"sha256,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Task rebuilds the download task this entry recorded.
func (e Entry) Task() harvest.DownloadTask {
	return harvest.DownloadTask{
		File: harvest.DiscoveredFile{
			SourceID:   e.SourceID,
			FiscalYear: e.FiscalYear,
			URL:        e.URL,
			Filename:   e.Filename,
		},
		DestPath:     e.DestPath,
		AccessMethod: e.AccessMethod,
	}
}

// Document is the flushed form of a run: one JSON object per run with the
// full entry list. The format must stay stable across versions because
// retry-failures re-reads it.
type Document struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Entries    []Entry    `json:"entries"`
}

// FailuresOnly returns the entries a retry-failures run should attempt:
// exactly the downloads that ended in Error. Corrupted entries are excluded;
// the server answered but the payload was rejected, and an identical request
// reproduces that.
func (d Document) FailuresOnly() []Entry {
	var out []Entry
	for _, e := range d.Entries {
		if e.Status == StatusError {
			out = append(out, e)
		}
	}
	return out
}

// Summary aggregates a run's terminal outcomes for the exit report.
type Summary struct {
	Pending   int
	Skipped   int
	OK        int
	Corrupted int
	Errors    int
}

// Total counts every planned entry.
func (s Summary) Total() int {
	return s.Pending + s.Skipped + s.OK + s.Corrupted + s.Errors
}
