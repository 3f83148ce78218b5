// Package extract unpacks downloaded archives on a single background
// consumer so disk-heavy extraction never contends with download I/O.
package extract

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/progress"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

// State tracks the worker lifecycle.
type State string

// Lifecycle states. The worker only moves forward: Idle -> Draining -> Stopped.
const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

const (
	// DefaultQueueCapacity bounds how many archives may wait for extraction.
	DefaultQueueCapacity = 64
	// DefaultDrainTimeout bounds how long Shutdown waits for queued jobs.
	DefaultDrainTimeout = 5 * time.Second
)

// Enqueue errors. Both are non-fatal to the producer: a full queue or a
// stopped worker means the archive stays on disk unexpanded.
var (
	ErrQueueFull     = errors.New("extraction queue full")
	ErrWorkerStopped = errors.New("extraction worker is not accepting jobs")
)

// Config wires a Worker.
type Config struct {
	QueueCapacity int
	DrainTimeout  time.Duration
	RunID         [16]byte
	Emitter       progress.Emitter
	Clock         harvest.Clock
	Logger        *zap.Logger
}

// Stats summarizes a worker's lifetime for the run report.
type Stats struct {
	// Extracted counts archives fully unpacked.
	Extracted int
	// Failed counts archives that errored (corrupt or interrupted).
	Failed int
	// Files counts individual documents committed to disk.
	Files int
	// NotExtracted counts jobs still queued when the drain timed out.
	NotExtracted int
}

// Worker consumes extraction jobs one at a time. Concurrency is fixed at one:
// parallel unpacking would fight the download pool for disk bandwidth.
type Worker struct {
	store *storage.Store
	cfg   Config

	jobs     chan harvest.ExtractionJob
	loopDone chan struct{}

	drainCtx    context.Context
	drainCancel context.CancelFunc

	mu       sync.Mutex
	state    State
	stats    Stats
	leftover []harvest.ExtractionJob
}

// NewWorker starts the consumer goroutine and returns a worker ready to
// accept jobs.
func NewWorker(store *storage.Store, cfg Config) *Worker {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	drainCtx, drainCancel := context.WithCancel(context.Background())
	w := &Worker{
		store:       store,
		cfg:         cfg,
		jobs:        make(chan harvest.ExtractionJob, cfg.QueueCapacity),
		loopDone:    make(chan struct{}),
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		state:       StateIdle,
	}
	go w.consume()
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Enqueue hands an archive to the worker without blocking the caller. A full
// queue returns ErrQueueFull; the producer records it and moves on.
func (w *Worker) Enqueue(job harvest.ExtractionJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateIdle {
		return ErrWorkerStopped
	}
	select {
	case w.jobs <- job:
	default:
		return ErrQueueFull
	}
	w.emit(progress.Event{
		RunID:      w.cfg.RunID,
		TS:         w.now(),
		Stage:      progress.StageExtractQueued,
		Source:     job.SourceID,
		FiscalYear: job.FiscalYear,
		Note:       job.ArchivePath,
	})
	return nil
}

// Shutdown stops intake, waits up to the drain timeout for queued jobs, and
// returns the jobs that were still queued when the wait expired. Callers must
// surface those jobs; they were never extracted.
func (w *Worker) Shutdown(ctx context.Context) []harvest.ExtractionJob {
	w.mu.Lock()
	if w.state == StateIdle {
		w.state = StateDraining
		close(w.jobs)
	}
	w.mu.Unlock()

	timer := time.NewTimer(w.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-w.loopDone:
	case <-timer.C:
		w.drainCancel()
		<-w.loopDone
	case <-ctx.Done():
		w.drainCancel()
		<-w.loopDone
	}

	w.mu.Lock()
	w.state = StateStopped
	left := append([]harvest.ExtractionJob(nil), w.leftover...)
	w.mu.Unlock()

	for _, job := range left {
		w.cfg.Logger.Warn("archive not extracted before shutdown",
			zap.String("archive", job.ArchivePath),
			zap.String("source", job.SourceID),
			zap.Int("fiscal_year", job.FiscalYear))
	}
	return left
}

func (w *Worker) consume() {
	defer close(w.loopDone)
	for job := range w.jobs {
		if w.drainCtx.Err() != nil {
			w.mu.Lock()
			w.leftover = append(w.leftover, job)
			w.stats.NotExtracted++
			w.mu.Unlock()
			continue
		}
		w.process(job)
	}
}

func (w *Worker) process(job harvest.ExtractionJob) {
	start := w.now()
	files, err := unpackArchive(w.drainCtx, w.store, job.ArchivePath, job.DestDir)

	outcome := progress.OutcomeOK
	if err != nil {
		outcome = progress.OutcomeError
		extErr := &harvest.ExtractionError{ArchivePath: job.ArchivePath, Cause: err}
		w.cfg.Logger.Warn("archive extraction failed",
			zap.String("source", job.SourceID),
			zap.Int("fiscal_year", job.FiscalYear),
			zap.Int("files_extracted", files),
			zap.Error(extErr))
	} else {
		w.cfg.Logger.Debug("archive extracted",
			zap.String("archive", job.ArchivePath),
			zap.Int("files", files))
	}

	w.mu.Lock()
	if err != nil {
		w.stats.Failed++
	} else {
		w.stats.Extracted++
	}
	w.stats.Files += files
	w.mu.Unlock()

	w.emit(progress.Event{
		RunID:      w.cfg.RunID,
		TS:         w.now(),
		Stage:      progress.StageExtractDone,
		Source:     job.SourceID,
		FiscalYear: job.FiscalYear,
		Outcome:    outcome,
		Files:      int64(files),
		Dur:        w.now().Sub(start),
		Note:       job.ArchivePath,
	})
}

func (w *Worker) emit(evt progress.Event) {
	if w.cfg.Emitter == nil {
		return
	}
	w.cfg.Emitter.Emit(evt)
}

func (w *Worker) now() time.Time {
	if w.cfg.Clock != nil {
		return w.cfg.Clock.Now()
	}
	return time.Now().UTC()
}
