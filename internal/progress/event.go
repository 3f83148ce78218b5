// Package progress defines the event structures emitted by the harvest
// pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageDiscoverDone  Stage = "DISCOVER_DONE"
	StageFetchStart    Stage = "FETCH_START"
	StageFetchDone     Stage = "FETCH_DONE"
	StageExtractQueued Stage = "EXTRACT_QUEUED"
	StageExtractDone   Stage = "EXTRACT_DONE"
)

// Outcome classifies how a document fetch or extraction ended.
type Outcome string

// Supported outcomes for fetch and extract completions.
const (
	OutcomeOK        Outcome = "ok"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCorrupted Outcome = "corrupted"
	OutcomeError     Outcome = "error"
	OutcomeChallenge Outcome = "challenge"
)

// Event captures a single milestone of harvest progress.
type Event struct {
	// RunID uniquely identifies a harvest run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, fetch, or extract milestone occurred.
	Stage Stage
	// Source scopes the event to one catalog source ID.
	Source string
	// FiscalYear scopes fetch and extract events to one year of the worklist.
	FiscalYear int
	// URL is the optional document URL; it should not contain credentials.
	URL string
	// Access labels fetch events with the transport used (direct or browser).
	Access string
	// Outcome records how a fetch or extraction ended.
	Outcome Outcome
	// Bytes carries the committed size for completed fetches.
	Bytes int64
	// Files carries the candidate count for discovery completions.
	Files int64
	// Dur captures execution latency for fetches, extractions, and run ends.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageDiscoverDone:
		if e.Source == "" {
			return errors.New("discover done requires source")
		}
	case StageFetchStart:
		if e.Source == "" {
			return errors.New("fetch start requires source")
		}
	case StageFetchDone:
		if e.Source == "" {
			return errors.New("fetch done requires source")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	case StageExtractQueued, StageExtractDone:
		if e.Source == "" {
			return errors.New("extract events require source")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for display.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
