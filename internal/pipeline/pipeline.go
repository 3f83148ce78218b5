// Package pipeline wires the acquisition stages into complete runs. Run
// performs a full harvest: discovery, existence filtering, scheduled
// transfer, extraction drain, manifest finalization. RetryFailures replays
// only the failed downloads of a prior manifest, bypassing discovery and the
// oracle entirely.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdata/fiscalharvest/internal/existence"
	"github.com/civicdata/fiscalharvest/internal/extract"
	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/manifest"
	"github.com/civicdata/fiscalharvest/internal/progress"
	"github.com/civicdata/fiscalharvest/internal/storage"
)

// Discoverer produces the candidate files for the selected sources and years.
type Discoverer interface {
	Run(ctx context.Context, sources []harvest.SourceDescriptor, fiscalYears []int) ([]harvest.DiscoveredFile, []error)
}

// Oracle splits the worklist into downloads and skips.
type Oracle interface {
	Filter(ctx context.Context, tasks []harvest.DownloadTask, overwrite bool) (toDownload []harvest.DownloadTask, toSkip []existence.Skip)
}

// Scheduler drives every task to a recorded outcome.
type Scheduler interface {
	Run(ctx context.Context, tasks []harvest.DownloadTask)
}

// Extractor is drained once the scheduler returns; its stats feed the run
// summary.
type Extractor interface {
	Shutdown(ctx context.Context) []harvest.ExtractionJob
	Stats() extract.Stats
}

// Config assembles one run. Run requires every field; RetryFailures leaves
// Discoverer and Oracle nil.
type Config struct {
	Sources     []harvest.SourceDescriptor
	FiscalYears []int
	Overwrite   bool

	Discoverer Discoverer
	Oracle     Oracle
	Scheduler  Scheduler
	// Extractor is nil when extraction is disabled.
	Extractor Extractor
	Ledger    *manifest.Ledger
	Store     *storage.Store

	RunID   [16]byte
	Emitter progress.Emitter
	Clock   harvest.Clock
	Logger  *zap.Logger
}

// Summary is the exit report of one run. A run that recorded failures still
// produces a Summary and a nil error; only process-level problems (an
// unwritable manifest) surface as errors.
type Summary struct {
	RunID        string
	ManifestPath string
	Counts       manifest.Summary
	// Bytes totals the committed sizes of ok entries.
	Bytes    int64
	Duration time.Duration
	// DiscoveryFailures counts (source, fiscal year) units that produced no
	// candidates.
	DiscoveryFailures int
	Extraction        extract.Stats
}

func (s Summary) String() string {
	out := fmt.Sprintf("%d ok, %d skipped, %d corrupted, %d errors, %d pending (%d bytes in %s); manifest %s",
		s.Counts.OK, s.Counts.Skipped, s.Counts.Corrupted, s.Counts.Errors, s.Counts.Pending,
		s.Bytes, s.Duration.Round(time.Millisecond), s.ManifestPath)
	ex := s.Extraction
	if ex.Extracted+ex.Failed+ex.NotExtracted > 0 {
		out += fmt.Sprintf("; %d archives extracted (%d files), %d failed, %d left queued",
			ex.Extracted, ex.Files, ex.Failed, ex.NotExtracted)
	}
	return out
}

// Pipeline executes runs over an assembled Config.
type Pipeline struct {
	cfg Config
}

// New returns a pipeline ready to run.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg}
}

// Run performs a full harvest. Per-file and per-unit failures are recorded
// and never abort the run; the returned Summary reflects them.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := p.now()
	p.emit(progress.Event{RunID: p.cfg.RunID, TS: start, Stage: progress.StageRunStart})
	p.cfg.Logger.Info("harvest run starting",
		zap.String("run_id", uuid.UUID(p.cfg.RunID).String()),
		zap.Int("sources", len(p.cfg.Sources)),
		zap.Ints("fiscal_years", p.cfg.FiscalYears))

	files, discErrs := p.cfg.Discoverer.Run(ctx, p.cfg.Sources, p.cfg.FiscalYears)
	if len(discErrs) > 0 {
		p.cfg.Logger.Warn("discovery finished with failed units",
			zap.Int("failed_units", len(discErrs)))
	}

	tasks := p.buildTasks(files)
	toDownload, toSkip := p.cfg.Oracle.Filter(ctx, tasks, p.cfg.Overwrite)

	p.cfg.Ledger.Plan(toDownload)
	for _, skip := range toSkip {
		p.cfg.Ledger.RecordSkipped(skip.Task, skip.Size)
	}
	// Flush the plan before any transfer so a crash mid-run still leaves a
	// readable document behind.
	if err := p.cfg.Ledger.Flush(); err != nil {
		return Summary{}, fmt.Errorf("flush planned manifest: %w", err)
	}
	p.cfg.Logger.Info("worklist ready",
		zap.Int("candidates", len(tasks)),
		zap.Int("to_download", len(toDownload)),
		zap.Int("skipped", len(toSkip)))

	p.cfg.Scheduler.Run(ctx, toDownload)
	return p.finish(start, len(discErrs))
}

// RetryFailures loads a flushed manifest and reissues exactly its failed
// downloads.
func (p *Pipeline) RetryFailures(ctx context.Context, manifestPath string) (Summary, error) {
	doc, err := manifest.Load(p.cfg.Store.Filesystem(), manifestPath)
	if err != nil {
		return Summary{}, err
	}

	failures := doc.FailuresOnly()
	if len(failures) == 0 {
		// Nothing to reissue; leave the source document untouched.
		p.cfg.Logger.Info("no failed downloads to retry", zap.String("from_run", doc.RunID))
		return Summary{
			RunID:        uuid.UUID(p.cfg.RunID).String(),
			ManifestPath: manifestPath,
		}, nil
	}
	tasks := make([]harvest.DownloadTask, 0, len(failures))
	for _, entry := range failures {
		tasks = append(tasks, entry.Task())
	}

	start := p.now()
	p.emit(progress.Event{RunID: p.cfg.RunID, TS: start, Stage: progress.StageRunStart})
	p.cfg.Logger.Info("retrying failed downloads",
		zap.String("run_id", uuid.UUID(p.cfg.RunID).String()),
		zap.String("from_run", doc.RunID),
		zap.Int("failures", len(tasks)))

	p.cfg.Ledger.Plan(tasks)
	p.cfg.Scheduler.Run(ctx, tasks)
	return p.finish(start, 0)
}

// buildTasks resolves destination paths for the discovered candidates. A
// filename the store rejects drops its candidate with a warning; discovery
// sanitizes names, so this guards against a misbehaving strategy only.
func (p *Pipeline) buildTasks(files []harvest.DiscoveredFile) []harvest.DownloadTask {
	methods := make(map[string]harvest.AccessMethod, len(p.cfg.Sources))
	for _, desc := range p.cfg.Sources {
		methods[desc.ID] = desc.AccessMethod
	}

	tasks := make([]harvest.DownloadTask, 0, len(files))
	for _, file := range files {
		dest, err := p.cfg.Store.DocumentPath(file.SourceID, file.FiscalYear, file.Filename)
		if err != nil {
			p.cfg.Logger.Warn("dropping candidate with unusable filename",
				zap.String("url", file.URL),
				zap.String("filename", file.Filename),
				zap.Error(err))
			continue
		}
		tasks = append(tasks, harvest.DownloadTask{
			File:         file,
			DestPath:     dest,
			AccessMethod: methods[file.SourceID],
		})
	}
	return tasks
}

func (p *Pipeline) finish(start time.Time, discoveryFailures int) (Summary, error) {
	var stats extract.Stats
	if p.cfg.Extractor != nil {
		// The run context may already be over (stop signal); the drain gets
		// its own bounded window regardless.
		leftover := p.cfg.Extractor.Shutdown(context.Background())
		stats = p.cfg.Extractor.Stats()
		if len(leftover) > 0 {
			p.cfg.Logger.Warn("archives left unextracted at shutdown",
				zap.Int("count", len(leftover)))
		}
	}

	var bytes int64
	for _, entry := range p.cfg.Ledger.Entries() {
		if entry.Status == manifest.StatusOK {
			bytes += entry.SizeBytes
		}
	}

	summary := Summary{
		RunID:             uuid.UUID(p.cfg.RunID).String(),
		ManifestPath:      p.cfg.Ledger.Path(),
		Counts:            p.cfg.Ledger.Summary(),
		Bytes:             bytes,
		Duration:          p.now().Sub(start),
		DiscoveryFailures: discoveryFailures,
		Extraction:        stats,
	}

	if err := p.cfg.Ledger.Finalize(); err != nil {
		return summary, fmt.Errorf("finalize manifest: %w", err)
	}

	p.emit(progress.Event{
		RunID: p.cfg.RunID,
		TS:    p.now(),
		Stage: progress.StageRunDone,
		Dur:   summary.Duration,
	})
	fields := []zap.Field{
		zap.Int("ok", summary.Counts.OK),
		zap.Int("skipped", summary.Counts.Skipped),
		zap.Int("corrupted", summary.Counts.Corrupted),
		zap.Int("errors", summary.Counts.Errors),
		zap.Int("pending", summary.Counts.Pending),
		zap.Int64("bytes", summary.Bytes),
		zap.Duration("duration", summary.Duration),
		zap.Int("discovery_failures", summary.DiscoveryFailures),
		zap.String("manifest", summary.ManifestPath),
	}
	if p.cfg.Extractor != nil {
		fields = append(fields,
			zap.Int("archives_extracted", stats.Extracted),
			zap.Int("extraction_failures", stats.Failed),
			zap.Int("archives_not_extracted", stats.NotExtracted))
	}
	p.cfg.Logger.Info("run complete", fields...)
	return summary, nil
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.cfg.Emitter == nil {
		return
	}
	p.cfg.Emitter.Emit(evt)
}

func (p *Pipeline) now() time.Time {
	if p.cfg.Clock != nil {
		return p.cfg.Clock.Now()
	}
	return time.Now().UTC()
}
