package sinks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/civicdata/fiscalharvest/internal/progress"
)

var journalRunID = progress.UUIDToBytes(uuid.MustParse("018f4e6c-7d1a-7b3e-9c4d-2a6f8e1b0c9d"))

func journalEvent(stage progress.Stage, source string) progress.Event {
	return progress.Event{
		RunID:  journalRunID,
		TS:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Stage:  stage,
		Source: source,
	}
}

func readJournalLines(t *testing.T, fs afero.Fs, path string) []journalLine {
	t.Helper()
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	var lines []journalLine
	for _, row := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var line journalLine
		require.NoError(t, json.Unmarshal([]byte(row), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestJournalSinkAppendsBatches(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	sink, err := NewJournalSink(fs, "/corpus/events.ndjson", nil)
	require.NoError(t, err)

	fetch := journalEvent(progress.StageFetchDone, "comptroller")
	fetch.FiscalYear = 2026
	fetch.URL = "https://comptroller.example.gov/2026/report.pdf"
	fetch.Access = "direct"
	fetch.Outcome = progress.OutcomeOK
	fetch.Bytes = 2048
	fetch.Dur = 1500 * time.Millisecond

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		journalEvent(progress.StageRunStart, ""),
	}))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{fetch}))
	require.NoError(t, sink.Close(context.Background()))

	lines := readJournalLines(t, fs, "/corpus/events.ndjson")
	require.Len(t, lines, 2)
	require.Equal(t, "RUN_START", lines[0].Stage)
	require.Equal(t, "018f4e6c-7d1a-7b3e-9c4d-2a6f8e1b0c9d", lines[0].RunID)
	require.Equal(t, "FETCH_DONE", lines[1].Stage)
	require.Equal(t, "comptroller", lines[1].Source)
	require.Equal(t, 2026, lines[1].FiscalYear)
	require.Equal(t, "ok", lines[1].Outcome)
	require.Equal(t, int64(2048), lines[1].Bytes)
	require.Equal(t, int64(1500), lines[1].DurMs)
}

func TestJournalSinkAppendsAcrossRuns(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	for i := 0; i < 2; i++ {
		sink, err := NewJournalSink(fs, "/corpus/events.ndjson", nil)
		require.NoError(t, err)
		require.NoError(t, sink.Consume(context.Background(), []progress.Event{
			journalEvent(progress.StageRunStart, ""),
		}))
		require.NoError(t, sink.Close(context.Background()))
	}

	lines := readJournalLines(t, fs, "/corpus/events.ndjson")
	require.Len(t, lines, 2)
}

func TestJournalSinkCreatesParentDirectories(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	sink, err := NewJournalSink(fs, "/var/log/fiscalharvest/events.ndjson", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	exists, err := afero.DirExists(fs, "/var/log/fiscalharvest")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestJournalSinkRejectsWritesAfterClose(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	sink, err := NewJournalSink(fs, "/corpus/events.ndjson", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))

	err = sink.Consume(context.Background(), []progress.Event{journalEvent(progress.StageRunStart, "")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "closed")
}
