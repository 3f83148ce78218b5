package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

// ErrDuplicateRecord rejects a second terminal outcome for the same
// (url, destination) pair within one run.
var ErrDuplicateRecord = errors.New("entry already has a terminal status")

// Ledger is the single writer of run outcomes. Every worker appends through
// it; nothing else mutates entries. Appends are safe for concurrent callers.
type Ledger struct {
	store  *storage.Store
	path   string
	runID  string
	clock  harvest.Clock
	logger *zap.Logger

	mu        sync.Mutex
	startedAt time.Time
	finished  *time.Time
	entries   []Entry
	index     map[string]int
}

// NewLedger opens a fresh ledger for one run.
func NewLedger(store *storage.Store, path, runID string, clock harvest.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:     store,
		path:      path,
		runID:     runID,
		clock:     clock,
		logger:    logger,
		startedAt: clock.Now(),
		index:     make(map[string]int),
	}
}

func entryKey(url, destPath string) string {
	return url + "\x00" + destPath
}

// Plan seeds one pending entry per task so an interrupted run still shows
// what it intended to do.
func (l *Ledger) Plan(tasks []harvest.DownloadTask) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, task := range tasks {
		key := entryKey(task.File.URL, task.DestPath)
		if _, ok := l.index[key]; ok {
			continue
		}
		l.entries = append(l.entries, Entry{
			URL:          task.File.URL,
			DestPath:     task.DestPath,
			Filename:     task.File.Filename,
			SourceID:     task.File.SourceID,
			FiscalYear:   task.File.FiscalYear,
			AccessMethod: task.AccessMethod,
			Status:       StatusPending,
			Timestamp:    l.clock.Now(),
		})
		l.index[key] = len(l.entries) - 1
	}
}

// Record closes the entry for a task with a terminal status. A task never
// planned gets appended directly; a task already closed is rejected so one
// attempt yields exactly one terminal record.
func (l *Ledger) Record(task harvest.DownloadTask, status Status, result harvest.Result, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("record %s: status %q is not terminal", task.File.URL, status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := entryKey(task.File.URL, task.DestPath)
	slot, ok := l.index[key]
	if ok && l.entries[slot].Status.Terminal() {
		return fmt.Errorf("record %s: %w", task.File.URL, ErrDuplicateRecord)
	}
	entry := Entry{
		URL:          task.File.URL,
		DestPath:     task.DestPath,
		Filename:     task.File.Filename,
		SourceID:     task.File.SourceID,
		FiscalYear:   task.File.FiscalYear,
		AccessMethod: task.AccessMethod,
		Status:       status,
		SizeBytes:    result.SizeBytes,
		SHA256:       result.SHA256,
		ErrorMessage: errMsg,
		Timestamp:    l.clock.Now(),
	}
	if ok {
		l.entries[slot] = entry
		return nil
	}
	l.entries = append(l.entries, entry)
	l.index[key] = len(l.entries) - 1
	return nil
}

// RecordSkipped closes a task the oracle classified as already complete.
// size is the local file's byte count, recorded so skip entries stay
// auditable.
func (l *Ledger) RecordSkipped(task harvest.DownloadTask, size int64) {
	l.mustRecord(task, StatusSkipped, harvest.Result{SizeBytes: size}, "")
}

// RecordOK closes a task whose bytes were committed.
func (l *Ledger) RecordOK(task harvest.DownloadTask, result harvest.Result) {
	l.mustRecord(task, StatusOK, result, "")
}

// RecordCorrupted closes a task whose payload was rejected before commit.
func (l *Ledger) RecordCorrupted(task harvest.DownloadTask, errMsg string) {
	l.mustRecord(task, StatusCorrupted, harvest.Result{}, errMsg)
}

// RecordError closes a failed task.
func (l *Ledger) RecordError(task harvest.DownloadTask, errMsg string) {
	l.mustRecord(task, StatusError, harvest.Result{}, errMsg)
}

func (l *Ledger) mustRecord(task harvest.DownloadTask, status Status, result harvest.Result, errMsg string) {
	if err := l.Record(task, status, result, errMsg); err != nil {
		l.logger.Warn("manifest record rejected",
			zap.String("url", task.File.URL),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// Entries returns a copy of the current entry list.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Summary tallies the current statuses.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s Summary
	for _, e := range l.entries {
		switch e.Status {
		case StatusPending:
			s.Pending++
		case StatusSkipped:
			s.Skipped++
		case StatusOK:
			s.OK++
		case StatusCorrupted:
			s.Corrupted++
		case StatusError:
			s.Errors++
		}
	}
	return s
}

// Flush persists the current entries atomically. Callable mid-run to bound
// data loss on crash; the partial document is already retry-usable.
func (l *Ledger) Flush() error {
	doc := l.snapshot()
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := l.store.WriteFileAtomic(l.path, payload); err != nil {
		return fmt.Errorf("flush manifest: %w", err)
	}
	return nil
}

// Finalize stamps the finish time and flushes. Always called at normal run
// end.
func (l *Ledger) Finalize() error {
	l.mu.Lock()
	now := l.clock.Now()
	l.finished = &now
	l.mu.Unlock()
	return l.Flush()
}

// Path returns where the manifest is flushed.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) snapshot() Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc := Document{
		RunID:     l.runID,
		StartedAt: l.startedAt,
		Entries:   append([]Entry(nil), l.entries...),
	}
	if l.finished != nil {
		finished := *l.finished
		doc.FinishedAt = &finished
	}
	return doc
}

// Load reads a previously flushed manifest, for retry-failures mode.
func Load(fs afero.Fs, path string) (Document, error) {
	payload, err := afero.ReadFile(fs, path)
	if err != nil {
		return Document{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return doc, nil
}
