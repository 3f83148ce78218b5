package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/civicdata/fiscalharvest/internal/app"
	"github.com/civicdata/fiscalharvest/internal/config"
)

type retryOptions struct {
	from      string
	manifest  string
	outputDir string
}

func newRetryCmd() *cobra.Command {
	opts := &retryOptions{}
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-attempts the failed downloads recorded in a prior manifest",
		Long: `Reads a manifest written by an earlier run, rebuilds a download task for
every entry that ended in an error, and runs exactly those transfers.
Discovery and the existence check are bypassed; the retry run writes its own
manifest.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveRetryConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			return runRetry(cmd, cfg)
		},
	}

	registerRetryFlags(cmd.Flags(), opts)
	return cmd
}

func registerRetryFlags(flags *pflag.FlagSet, opts *retryOptions) {
	flags.StringVar(&opts.from, "from", "", "manifest to read failures from (default the configured manifest path)")
	flags.StringVar(&opts.manifest, "manifest", "", "where the retry run writes its manifest (default <output-dir>/manifest.json)")
	flags.StringVar(&opts.outputDir, "output-dir", "corpus", "root directory of the harvest tree")
}

func resolveRetryConfig(flags *pflag.FlagSet, opts *retryOptions) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("from") {
		cfg.Run.RetryFrom = opts.from
	}
	if flags.Changed("manifest") {
		cfg.Run.ManifestPath = opts.manifest
	}
	if flags.Changed("output-dir") {
		cfg.Run.OutputDir = opts.outputDir
	}
	if cfg.Run.RetryFrom == "" {
		cfg.Run.RetryFrom = manifestPath(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runRetry(cmd *cobra.Command, cfg config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer shutdownApp(a)

	p, err := buildPipeline(a)
	if err != nil {
		return err
	}

	summary, err := p.RetryFailures(cmd.Context(), cfg.Run.RetryFrom)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}
