package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/civicdata/fiscalharvest/internal/progress"
)

// PrometheusSink exports harvest progress metrics via Prometheus. It owns all
// collectors for run lifecycle, per-source document counters, and the
// extraction backlog.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	filesTotal    *prometheus.CounterVec
	bytesTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	downloadsInflight prometheus.Gauge
	extractQueueDepth prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Total harvest runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Total harvest runs completed partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_files_total",
			Help: "Fetch completions partitioned by source and outcome.",
		}, []string{"source", "outcome"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_bytes_total",
			Help: "Bytes committed to disk per source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by source and access method.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"source", "access"}),
		downloadsInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_downloads_inflight",
			Help: "Downloads currently in flight.",
		}),
		extractQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_extract_queue_depth",
			Help: "Archives queued for extraction and not yet finished.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.filesTotal,
		s.bytesTotal,
		s.fetchDuration,
		s.downloadsInflight,
		s.extractQueueDepth,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.handleRunDone(evt)
	case progress.StageFetchStart:
		s.downloadsInflight.Inc()
	case progress.StageFetchDone:
		s.downloadsInflight.Dec()
		s.handleFetchDone(evt)
	case progress.StageExtractQueued:
		s.extractQueueDepth.Inc()
	case progress.StageExtractDone:
		s.extractQueueDepth.Dec()
	}
}

func (s *PrometheusSink) handleRunDone(evt progress.Event) {
	result := "ok"
	if evt.Outcome == progress.OutcomeError {
		result = "error"
	}
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchDone(evt progress.Event) {
	source := evt.Source
	if source == "" {
		source = "unknown"
	}
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = string(progress.OutcomeError)
	}
	s.filesTotal.WithLabelValues(source, outcome).Inc()
	if evt.Bytes > 0 {
		s.bytesTotal.WithLabelValues(source).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		access := evt.Access
		if access == "" {
			access = "direct"
		}
		s.fetchDuration.WithLabelValues(source, access).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
