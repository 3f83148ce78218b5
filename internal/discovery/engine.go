package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/fiscalharvest/internal/harvest"
	"github.com/civicdata/fiscalharvest/internal/progress"
)

// DefaultWorkers bounds concurrent listing fetches across sources.
const DefaultWorkers = 4

// Discoverer produces the candidate files one source lists for one fiscal
// year.
type Discoverer interface {
	Discover(ctx context.Context, source harvest.SourceDescriptor, fiscalYear int) ([]harvest.DiscoveredFile, error)
}

// Pacer spaces requests to a source.
type Pacer interface {
	Wait(ctx context.Context, sourceID string) error
}

// Config wires an Engine.
type Config struct {
	Direct  Discoverer
	Browser Discoverer
	Pacer   Pacer
	Workers int
	RunID   [16]byte
	Emitter progress.Emitter
	Clock   harvest.Clock
	Logger  *zap.Logger
}

// Engine fans discovery out over sources and fiscal years. Direct sources
// parallelize per year; each browser source walks its years in order on the
// shared session. A failed (source, year) pair is recorded and the rest of
// the run proceeds.
type Engine struct {
	cfg Config
}

// NewEngine validates defaults and returns a ready engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{cfg: cfg}
}

type unit struct {
	source harvest.SourceDescriptor
	year   int
	slot   int
}

// Run discovers candidates for every (source, fiscal year) pair and returns
// them in worklist order: sources in catalog order, years in the order given.
// The error slice carries one DiscoveryError per failed pair.
func (e *Engine) Run(ctx context.Context, sources []harvest.SourceDescriptor, fiscalYears []int) ([]harvest.DiscoveredFile, []error) {
	var (
		direct      []unit
		browserRuns = make(map[string][]unit)
		browserIDs  []string
		slots       int
	)
	for _, source := range sources {
		for _, year := range fiscalYears {
			u := unit{source: source, year: year, slot: slots}
			slots++
			if source.AccessMethod == harvest.AccessBrowser {
				if _, ok := browserRuns[source.ID]; !ok {
					browserIDs = append(browserIDs, source.ID)
				}
				browserRuns[source.ID] = append(browserRuns[source.ID], u)
			} else {
				direct = append(direct, u)
			}
		}
	}

	results := make([][]harvest.DiscoveredFile, slots)
	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(u unit, files []harvest.DiscoveredFile, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, &harvest.DiscoveryError{
				SourceID:   u.source.ID,
				FiscalYear: u.year,
				Cause:      err,
			})
			return
		}
		results[u.slot] = files
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)

	for _, u := range direct {
		u := u
		g.Go(func() error {
			e.discoverOne(ctx, e.cfg.Direct, u, record)
			return nil
		})
	}
	// One unit per browser source keeps that source's years ordered and the
	// session free of interleaved navigations from its own worklist.
	for _, id := range browserIDs {
		units := browserRuns[id]
		g.Go(func() error {
			for _, u := range units {
				if ctx.Err() != nil {
					return nil
				}
				e.discoverOne(ctx, e.cfg.Browser, u, record)
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []harvest.DiscoveredFile
	for _, files := range results {
		out = append(out, files...)
	}
	return out, errs
}

func (e *Engine) discoverOne(ctx context.Context, disc Discoverer, u unit, record func(unit, []harvest.DiscoveredFile, error)) {
	// Browser listings are already serialized by the session; pacing applies
	// to repeated plain requests against the same host only.
	if u.source.AccessMethod == harvest.AccessDirect {
		if err := e.cfg.Pacer.Wait(ctx, u.source.ID); err != nil {
			record(u, nil, err)
			return
		}
	}

	start := e.now()
	files, err := disc.Discover(ctx, u.source, u.year)
	if err != nil {
		e.cfg.Logger.Warn("discovery failed",
			zap.String("source", u.source.ID),
			zap.Int("fiscal_year", u.year),
			zap.Error(err))
		record(u, nil, err)
		return
	}
	record(u, files, nil)

	e.emit(progress.Event{
		RunID:      e.cfg.RunID,
		TS:         e.now(),
		Stage:      progress.StageDiscoverDone,
		Source:     u.source.ID,
		FiscalYear: u.year,
		Files:      int64(len(files)),
		Dur:        e.now().Sub(start),
	})
}

func (e *Engine) emit(evt progress.Event) {
	if e.cfg.Emitter == nil {
		return
	}
	e.cfg.Emitter.Emit(evt)
}

func (e *Engine) now() time.Time {
	if e.cfg.Clock != nil {
		return e.cfg.Clock.Now()
	}
	return time.Now().UTC()
}
