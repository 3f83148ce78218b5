package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/civicdata/fiscalharvest/internal/app"
	"github.com/civicdata/fiscalharvest/internal/clock/system"
	"github.com/civicdata/fiscalharvest/internal/config"
	"github.com/civicdata/fiscalharvest/internal/discovery"
	"github.com/civicdata/fiscalharvest/internal/download"
	"github.com/civicdata/fiscalharvest/internal/existence"
	"github.com/civicdata/fiscalharvest/internal/extract"
	"github.com/civicdata/fiscalharvest/internal/id/uuid"
	"github.com/civicdata/fiscalharvest/internal/manifest"
	"github.com/civicdata/fiscalharvest/internal/pipeline"
	"github.com/civicdata/fiscalharvest/internal/policy/pacing"
	"github.com/civicdata/fiscalharvest/internal/progress"
	"github.com/civicdata/fiscalharvest/internal/schedule"
)

const shutdownTimeout = 10 * time.Second

// fetchOptions holds flag values until they are merged over the loaded
// configuration. Only flags the user actually set take effect.
type fetchOptions struct {
	sources     []string
	fiscalYears []int
	outputDir   string
	manifest    string
	overwrite   bool
	extract     bool
	checksum    bool
	delayMs     map[string]int
}

func newFetchCmd() *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Runs a full harvest across the selected sources and fiscal years",
		Long: `Discovers candidate documents on every selected source, skips what the
local corpus already holds, downloads the rest, and writes the run manifest.
Zip archives are unpacked in the background unless --extract=false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveFetchConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			return runFetch(cmd, cfg)
		},
	}

	registerFetchFlags(cmd.Flags(), opts)
	return cmd
}

func registerFetchFlags(flags *pflag.FlagSet, opts *fetchOptions) {
	flags.StringSliceVar(&opts.sources, "sources", nil, "source IDs to harvest (default all catalog sources)")
	flags.IntSliceVar(&opts.fiscalYears, "fiscal-years", nil, "fiscal years to harvest (default the current year)")
	flags.StringVar(&opts.outputDir, "output-dir", "corpus", "root directory of the harvest tree")
	flags.StringVar(&opts.manifest, "manifest", "", "manifest path (default <output-dir>/manifest.json)")
	flags.BoolVar(&opts.overwrite, "overwrite", false, "re-download documents that already exist locally")
	flags.BoolVar(&opts.extract, "extract", true, "unpack downloaded zip archives in the background")
	flags.BoolVar(&opts.checksum, "checksum", false, "record SHA-256 digests in the manifest")
	flags.StringToIntVar(&opts.delayMs, "delay-ms", nil, "per-source pacing overrides in milliseconds, e.g. comptroller=2500")
}

func resolveFetchConfig(flags *pflag.FlagSet, opts *fetchOptions) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("sources") {
		cfg.Run.Sources = opts.sources
	}
	if flags.Changed("fiscal-years") {
		cfg.Run.FiscalYears = opts.fiscalYears
	}
	if flags.Changed("output-dir") {
		cfg.Run.OutputDir = opts.outputDir
	}
	if flags.Changed("manifest") {
		cfg.Run.ManifestPath = opts.manifest
	}
	if flags.Changed("overwrite") {
		cfg.Run.Overwrite = opts.overwrite
	}
	if flags.Changed("extract") {
		cfg.Run.Extract = opts.extract
	}
	if flags.Changed("checksum") {
		cfg.Run.Checksum = opts.checksum
	}
	if flags.Changed("delay-ms") {
		cfg.Run.DelayOverridesMs = opts.delayMs
	}
	if len(cfg.Run.FiscalYears) == 0 {
		cfg.Run.FiscalYears = []int{time.Now().Year()}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runFetch(cmd *cobra.Command, cfg config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer shutdownApp(a)

	p, err := buildPipeline(a)
	if err != nil {
		return err
	}

	summary, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

// shutdownApp tears the services down on a fresh deadline; the run context
// is usually already canceled when a signal ended the run.
func shutdownApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Close(ctx)
}

// manifestPath resolves the configured manifest location, defaulting to a
// manifest.json sibling of the harvest tree.
func manifestPath(cfg config.Config) string {
	if cfg.Run.ManifestPath != "" {
		return cfg.Run.ManifestPath
	}
	return filepath.Join(cfg.Run.OutputDir, "manifest.json")
}

// buildPipeline assembles the run pipeline from the app's services. The same
// assembly serves fetch and retry; retry simply never invokes the discovery
// and oracle stages.
func buildPipeline(a *app.App) (*pipeline.Pipeline, error) {
	cfg := a.Config

	rawID, err := uuid.New().NewRawID()
	if err != nil {
		return nil, fmt.Errorf("mint run ID: %w", err)
	}
	runID := progress.UUIDToBytes(rawID)
	clock := system.New()

	sources, err := a.Catalog.Select(cfg.Run.Sources)
	if err != nil {
		return nil, err
	}
	pacer := pacing.New(sources)

	ledger := manifest.NewLedger(a.Store, manifestPath(cfg), rawID.String(), clock, a.Logger.Named("manifest"))

	engine := discovery.NewEngine(discovery.Config{
		Direct:  discovery.NewDirect(discovery.DirectConfig{UserAgent: cfg.HTTP.UserAgent}, a.Logger.Named("discovery")),
		Browser: discovery.NewBrowser(a.Conns, a.Logger.Named("discovery")),
		Pacer:   pacer,
		Workers: cfg.Pools.Discovery,
		RunID:   runID,
		Emitter: a.Hub,
		Clock:   clock,
		Logger:  a.Logger.Named("discovery"),
	})

	oracle := existence.New(a.Store, existence.Config{
		Client:    a.Conns.PrefetchClient(),
		UserAgent: cfg.HTTP.UserAgent,
		Workers:   cfg.Pools.Prefetch,
		Logger:    a.Logger.Named("existence"),
	})

	detector := download.NewDetector(nil)
	direct := download.NewDirect(a.Store, download.DirectConfig{
		Client:   a.Conns.DownloadClient(),
		Detector: detector,
		Retry:    download.NewRetryPolicy(cfg.HTTP.MaxRetries, cfg.RetryDelay()),
		Logger:   a.Logger.Named("download"),
	})
	browser := download.NewBrowser(a.Store, a.Conns, detector, a.Logger.Named("download"))
	executor := download.NewExecutor(a.Store, direct, browser, cfg.Run.Checksum, a.Logger.Named("download"))

	var (
		archiveSink schedule.ArchiveSink
		extractor   pipeline.Extractor
	)
	if cfg.Run.Extract {
		worker := extract.NewWorker(a.Store, extract.Config{
			QueueCapacity: cfg.Pools.ExtractQueueDepth,
			DrainTimeout:  cfg.ExtractDrainTimeout(),
			RunID:         runID,
			Emitter:       a.Hub,
			Clock:         clock,
			Logger:        a.Logger.Named("extract"),
		})
		archiveSink = worker
		extractor = worker
	}

	scheduler := schedule.NewScheduler(schedule.Config{
		Executor:      executor,
		Pacer:         pacer,
		Ledger:        ledger,
		Extractor:     archiveSink,
		DirectWorkers: cfg.Pools.Download,
		RunID:         runID,
		Emitter:       a.Hub,
		Clock:         clock,
		Logger:        a.Logger.Named("schedule"),
	})

	return pipeline.New(pipeline.Config{
		Sources:     sources,
		FiscalYears: cfg.Run.FiscalYears,
		Overwrite:   cfg.Run.Overwrite,
		Discoverer:  engine,
		Oracle:      oracle,
		Scheduler:   scheduler,
		Extractor:   extractor,
		Ledger:      ledger,
		Store:       a.Store,
		RunID:       runID,
		Emitter:     a.Hub,
		Clock:       clock,
		Logger:      a.Logger.Named("pipeline"),
	}), nil
}
