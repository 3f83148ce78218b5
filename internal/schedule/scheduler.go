// Package schedule drives the filtered worklist to completion: browser tasks
// strictly one at a time, direct tasks on a bounded pool, every outcome
// recorded in the manifest ledger.
package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/progress"
)

// DefaultDirectWorkers bounds the direct download pool.
const DefaultDirectWorkers = 4

// Executor runs one transfer task to a terminal result.
type Executor interface {
	Execute(ctx context.Context, task harvest.DownloadTask) (harvest.Result, error)
}

// Pacer spaces requests to a source.
type Pacer interface {
	Wait(ctx context.Context, sourceID string) error
}

// Ledger receives exactly one terminal record per attempted task.
type Ledger interface {
	RecordOK(task harvest.DownloadTask, result harvest.Result)
	RecordCorrupted(task harvest.DownloadTask, errMsg string)
	RecordError(task harvest.DownloadTask, errMsg string)
}

// ArchiveSink accepts extraction jobs without blocking the caller.
type ArchiveSink interface {
	Enqueue(job harvest.ExtractionJob) error
}

// Config wires a Scheduler.
type Config struct {
	Executor Executor
	Pacer    Pacer
	Ledger   Ledger
	// Extractor is nil when extraction is disabled; archives then stay on
	// disk unexpanded.
	Extractor     ArchiveSink
	DirectWorkers int
	RunID         [16]byte
	Emitter       progress.Emitter
	Clock         harvest.Clock
	Logger        *zap.Logger
}

// Scheduler partitions the worklist by access method and runs both branches
// concurrently. Individual task failures never halt the plan; a source that
// is down degrades to error records for its tasks.
type Scheduler struct {
	cfg Config
}

// NewScheduler validates defaults and returns a ready scheduler.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.DirectWorkers <= 0 {
		cfg.DirectWorkers = DefaultDirectWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg}
}

// Run executes every task to a recorded outcome. Tasks never attempted
// because the context ended stay pending in the ledger.
func (s *Scheduler) Run(ctx context.Context, tasks []harvest.DownloadTask) {
	var browserTasks, directTasks []harvest.DownloadTask
	for _, task := range tasks {
		if task.AccessMethod == harvest.AccessBrowser {
			browserTasks = append(browserTasks, task)
		} else {
			directTasks = append(directTasks, task)
		}
	}

	var wg sync.WaitGroup
	if len(directTasks) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runDirect(ctx, directTasks)
		}()
	}
	s.runBrowser(ctx, browserTasks)
	wg.Wait()
}

// runBrowser walks its tasks strictly in worklist order, one transfer at a
// time. WAF safety is prioritized over throughput here; this is deliberate.
func (s *Scheduler) runBrowser(ctx context.Context, tasks []harvest.DownloadTask) {
	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, task)
	}
}

func (s *Scheduler) runDirect(ctx context.Context, tasks []harvest.DownloadTask) {
	// A lone task skips the pool machinery entirely.
	if len(tasks) == 1 {
		s.execute(ctx, tasks[0])
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.DirectWorkers)
	for _, task := range tasks {
		task := task
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.execute(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) execute(ctx context.Context, task harvest.DownloadTask) {
	if err := s.cfg.Pacer.Wait(ctx, task.File.SourceID); err != nil {
		s.cfg.Ledger.RecordError(task, err.Error())
		s.emitDone(task, progress.OutcomeError, 0, 0)
		return
	}

	s.emit(progress.Event{
		RunID:      s.cfg.RunID,
		TS:         s.now(),
		Stage:      progress.StageFetchStart,
		Source:     task.File.SourceID,
		FiscalYear: task.File.FiscalYear,
		URL:        task.File.URL,
		Access:     string(task.AccessMethod),
	})

	start := s.now()
	result, err := s.cfg.Executor.Execute(ctx, task)
	dur := s.now().Sub(start)

	switch {
	case err == nil:
		s.cfg.Ledger.RecordOK(task, result)
		s.emitDone(task, progress.OutcomeOK, result.SizeBytes, dur)
		s.maybeEnqueueExtraction(task)
	case errors.Is(err, harvest.ErrEmptyBody):
		s.cfg.Ledger.RecordCorrupted(task, err.Error())
		s.emitDone(task, progress.OutcomeCorrupted, 0, dur)
		s.warnTask(task, "empty document body", err)
	case errors.Is(err, harvest.ErrChallengeDetected):
		s.cfg.Ledger.RecordError(task, err.Error())
		s.emitDone(task, progress.OutcomeChallenge, 0, dur)
		s.warnTask(task, "challenge page blocked download", err)
	default:
		s.cfg.Ledger.RecordError(task, err.Error())
		s.emitDone(task, progress.OutcomeError, 0, dur)
		s.warnTask(task, "download failed", err)
	}
}

// maybeEnqueueExtraction hands a committed archive to the extraction worker.
// Members land in a directory named after the archive so two archives in one
// fiscal year cannot clobber each other's files.
func (s *Scheduler) maybeEnqueueExtraction(task harvest.DownloadTask) {
	if s.cfg.Extractor == nil {
		return
	}
	if !harvest.IsArchive(task.File.Filename) {
		return
	}
	stem := strings.TrimSuffix(filepath.Base(task.DestPath), filepath.Ext(task.DestPath))
	job := harvest.ExtractionJob{
		ArchivePath: task.DestPath,
		DestDir:     filepath.Join(filepath.Dir(task.DestPath), stem),
		SourceID:    task.File.SourceID,
		FiscalYear:  task.File.FiscalYear,
		EnqueuedAt:  s.now(),
	}
	if err := s.cfg.Extractor.Enqueue(job); err != nil {
		s.cfg.Logger.Warn("archive not queued for extraction",
			zap.String("archive", task.DestPath),
			zap.Error(err))
	}
}

func (s *Scheduler) warnTask(task harvest.DownloadTask, msg string, err error) {
	s.cfg.Logger.Warn(msg,
		zap.String("source", task.File.SourceID),
		zap.Int("fiscal_year", task.File.FiscalYear),
		zap.String("url", task.File.URL),
		zap.Error(err))
}

func (s *Scheduler) emitDone(task harvest.DownloadTask, outcome progress.Outcome, bytes int64, dur time.Duration) {
	s.emit(progress.Event{
		RunID:      s.cfg.RunID,
		TS:         s.now(),
		Stage:      progress.StageFetchDone,
		Source:     task.File.SourceID,
		FiscalYear: task.File.FiscalYear,
		URL:        task.File.URL,
		Access:     string(task.AccessMethod),
		Outcome:    outcome,
		Bytes:      bytes,
		Dur:        dur,
	})
}

func (s *Scheduler) emit(evt progress.Event) {
	if s.cfg.Emitter == nil {
		return
	}
	s.cfg.Emitter.Emit(evt)
}

func (s *Scheduler) now() time.Time {
	if s.cfg.Clock != nil {
		return s.cfg.Clock.Now()
	}
	return time.Now().UTC()
}
