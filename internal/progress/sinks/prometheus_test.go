package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/fiscalharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{
			RunID:  runID,
			TS:     time.Now().Add(time.Second),
			Stage:  progress.StageFetchStart,
			Source: "treasury",
		},
		{
			RunID:   runID,
			TS:      time.Now().Add(10 * time.Second),
			Stage:   progress.StageFetchDone,
			Source:  "treasury",
			Access:  "direct",
			Bytes:   1024,
			Outcome: progress.OutcomeOK,
			Dur:     200 * time.Millisecond,
		},
		{RunID: runID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageRunDone, Outcome: progress.OutcomeOK, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("ok")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.downloadsInflight))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.filesTotal.WithLabelValues("treasury", string(progress.OutcomeOK))),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.bytesTotal.WithLabelValues("treasury")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "harvest_fetch_duration_seconds"))
}

// TestPrometheusSinkTracksExtractBacklog checks the queue gauge rises and falls.
func TestPrometheusSinkTracksExtractBacklog(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	queued := progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageExtractQueued, Source: "procurement"}
	done := progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageExtractDone, Source: "procurement"}

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{queued, queued}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.extractQueueDepth))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.extractQueueDepth))
}
