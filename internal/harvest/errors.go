package harvest

import (
	"errors"
	"fmt"
)

// Sentinel errors used across the pipeline.
var (
	// ErrChallengeDetected marks a response that was a WAF interstitial
	// rather than the requested document. Challenge bytes are never
	// persisted under the target filename.
	ErrChallengeDetected = errors.New("waf challenge detected")
	// ErrEmptyBody marks a transfer that completed with zero bytes; the
	// manifest records it as corrupted, not ok.
	ErrEmptyBody = errors.New("empty response body")
)

// DiscoveryError wraps a failed discovery unit. It is non-fatal: the run
// continues with degraded coverage for that source and year.
type DiscoveryError struct {
	SourceID   string
	FiscalYear int
	Cause      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s fy%d: %v", e.SourceID, e.FiscalYear, e.Cause)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// ChallengeError records which fallback step hit the interstitial.
type ChallengeError struct {
	URL  string
	Step string
}

func (e *ChallengeError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("challenge page served for %s", e.URL)
	}
	return fmt.Sprintf("challenge page served for %s (step %s)", e.URL, e.Step)
}

// Is lets errors.Is match against ErrChallengeDetected.
func (e *ChallengeError) Is(target error) bool {
	return target == ErrChallengeDetected
}

// ExtractionError wraps a failed archive unpack. The extraction worker logs
// it and moves on; a corrupt archive never stops the run.
type ExtractionError struct {
	ArchivePath string
	Cause       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.ArchivePath, e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// ConfigError marks an invalid source descriptor or run configuration. It is
// fatal at startup and never produced at runtime.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}
