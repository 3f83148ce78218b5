// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Browser BrowserConfig `mapstructure:"browser"`
	Pools   PoolsConfig   `mapstructure:"pools"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RunConfig selects what a run covers and where its artifacts land.
type RunConfig struct {
	Sources      []string `mapstructure:"sources"`
	FiscalYears  []int    `mapstructure:"fiscal_years"`
	OutputDir    string   `mapstructure:"output_dir"`
	ManifestPath string   `mapstructure:"manifest_path"`
	Overwrite    bool     `mapstructure:"overwrite"`
	Extract      bool     `mapstructure:"extract"`
	Checksum     bool     `mapstructure:"checksum"`
	RetryFrom    string   `mapstructure:"retry_from"`
	// DelayOverridesMs replaces a source's built-in request interval.
	DelayOverridesMs map[string]int `mapstructure:"delay_overrides_ms"`
	// URLOverrides replaces a source's listing URL template. Replacements
	// must keep the {year} token.
	URLOverrides map[string]string `mapstructure:"url_overrides"`
	// EventJournalPath appends progress events as NDJSON when non-empty.
	EventJournalPath string `mapstructure:"event_journal_path"`
}

// HTTPConfig governs the pooled clients and direct-download retry behavior.
type HTTPConfig struct {
	// UserAgent identifies the harvester on plain listing fetches and
	// existence probes. Document transfers send rotated browser identities,
	// and the browser session keeps Chrome's own.
	UserAgent              string `mapstructure:"user_agent"`
	DownloadTimeoutSeconds int    `mapstructure:"download_timeout_seconds"`
	PrefetchTimeoutSeconds int    `mapstructure:"prefetch_timeout_seconds"`
	MaxRetries             int    `mapstructure:"max_retries"`
	RetryDelaySeconds      int    `mapstructure:"retry_delay_seconds"`
}

// BrowserConfig configures the shared automation session.
type BrowserConfig struct {
	NavTimeoutSeconds      int    `mapstructure:"nav_timeout_seconds"`
	DownloadTimeoutSeconds int    `mapstructure:"download_timeout_seconds"`
	DownloadDir            string `mapstructure:"download_dir"`
}

// PoolsConfig sizes the bounded worker pools.
type PoolsConfig struct {
	Discovery           int `mapstructure:"discovery"`
	Download            int `mapstructure:"download"`
	Prefetch            int `mapstructure:"prefetch"`
	ExtractQueueDepth   int `mapstructure:"extract_queue_depth"`
	ExtractDrainSeconds int `mapstructure:"extract_drain_seconds"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when non-empty, e.g. ":9090". Long harvests
	// are scraped; short ones usually leave this off.
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. When path is empty the default
// search locations are consulted; a missing file there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FISCALHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("fiscalharvest")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fiscalharvest")
		v.AddConfigPath("$HOME/.fiscalharvest")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.output_dir", "corpus")
	v.SetDefault("run.manifest_path", "")
	v.SetDefault("run.overwrite", false)
	v.SetDefault("run.extract", true)
	v.SetDefault("run.checksum", false)
	v.SetDefault("run.event_journal_path", "")
	v.SetDefault("http.user_agent", "fiscalharvest/1.0 (civic data mirror)")
	v.SetDefault("http.download_timeout_seconds", 120)
	v.SetDefault("http.prefetch_timeout_seconds", 3)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.retry_delay_seconds", 2)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.download_timeout_seconds", 120)
	v.SetDefault("pools.discovery", 4)
	v.SetDefault("pools.download", 4)
	v.SetDefault("pools.prefetch", 8)
	v.SetDefault("pools.extract_queue_depth", 64)
	v.SetDefault("pools.extract_drain_seconds", 5)
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Run.OutputDir) == "" {
		return fmt.Errorf("run.output_dir must be set")
	}
	for _, fy := range c.Run.FiscalYears {
		if fy < 1990 || fy > 2100 {
			return fmt.Errorf("run.fiscal_years contains implausible year %d", fy)
		}
	}
	for source, ms := range c.Run.DelayOverridesMs {
		if ms < 0 {
			return fmt.Errorf("run.delay_overrides_ms[%s] must be >= 0", source)
		}
	}
	for source, tpl := range c.Run.URLOverrides {
		if strings.TrimSpace(tpl) == "" {
			return fmt.Errorf("run.url_overrides[%s] must not be blank", source)
		}
	}
	if c.HTTP.DownloadTimeoutSeconds <= 0 {
		return fmt.Errorf("http.download_timeout_seconds must be > 0")
	}
	if c.HTTP.PrefetchTimeoutSeconds <= 0 {
		return fmt.Errorf("http.prefetch_timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Pools.Discovery <= 0 || c.Pools.Download <= 0 || c.Pools.Prefetch <= 0 {
		return fmt.Errorf("pool sizes must be > 0")
	}
	if c.Pools.ExtractQueueDepth <= 0 {
		return fmt.Errorf("pools.extract_queue_depth must be > 0")
	}
	return nil
}

// DownloadTimeout returns the direct transfer timeout as a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.HTTP.DownloadTimeoutSeconds) * time.Second
}

// PrefetchTimeout returns the existence prefetch timeout as a duration.
func (c Config) PrefetchTimeout() time.Duration {
	return time.Duration(c.HTTP.PrefetchTimeoutSeconds) * time.Second
}

// RetryDelay returns the fixed delay between direct download attempts.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.HTTP.RetryDelaySeconds) * time.Second
}

// NavTimeout returns the browser page-load timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// BrowserDownloadTimeout bounds each browser fallback step.
func (c Config) BrowserDownloadTimeout() time.Duration {
	return time.Duration(c.Browser.DownloadTimeoutSeconds) * time.Second
}

// ExtractDrainTimeout bounds the extraction worker shutdown drain.
func (c Config) ExtractDrainTimeout() time.Duration {
	return time.Duration(c.Pools.ExtractDrainSeconds) * time.Second
}

// DelayOverrides converts the millisecond override map to durations.
func (c Config) DelayOverrides() map[string]time.Duration {
	if len(c.Run.DelayOverridesMs) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(c.Run.DelayOverridesMs))
	for source, ms := range c.Run.DelayOverridesMs {
		out[source] = time.Duration(ms) * time.Millisecond
	}
	return out
}
