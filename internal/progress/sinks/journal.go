package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/progress"
)

// JournalSink appends the event stream to an NDJSON file, one object per
// line. The manifest records final outcomes; the journal keeps the per-stage
// timings behind them for post-run analysis.
type JournalSink struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	file afero.File
}

type journalLine struct {
	RunID      string    `json:"run_id"`
	TS         time.Time `json:"ts"`
	Stage      string    `json:"stage"`
	Source     string    `json:"source,omitempty"`
	FiscalYear int       `json:"fiscal_year,omitempty"`
	URL        string    `json:"url,omitempty"`
	Access     string    `json:"access,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	Files      int64     `json:"files,omitempty"`
	DurMs      int64     `json:"dur_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// NewJournalSink opens the journal at path for appending, creating parent
// directories as needed. Successive runs share one file; the run_id field
// separates them.
func NewJournalSink(fs afero.Fs, path string, logger *zap.Logger) (*JournalSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
		}
	}
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &JournalSink{path: path, logger: logger, file: file}, nil
}

// Consume serializes the batch and appends it with a single write.
func (s *JournalSink) Consume(_ context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, evt := range batch {
		line := journalLine{
			RunID:      evt.RunUUID().String(),
			TS:         evt.TS.UTC(),
			Stage:      string(evt.Stage),
			Source:     evt.Source,
			FiscalYear: evt.FiscalYear,
			URL:        evt.URL,
			Access:     evt.Access,
			Outcome:    string(evt.Outcome),
			Bytes:      evt.Bytes,
			Files:      evt.Files,
			DurMs:      evt.Dur.Milliseconds(),
			Note:       evt.Note,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode journal line: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("journal %s is closed", s.path)
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append journal %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and releases the journal file. Further Consume calls fail.
func (s *JournalSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close journal %s: %w", s.path, err)
	}
	return nil
}
