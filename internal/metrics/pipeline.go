// Package metrics provides Prometheus metrics for the report pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Analysis outcomes used as the "outcome" label.
const (
	OutcomeDetected    = "detected"
	OutcomeNotDetected = "not_detected"
	OutcomeFailed      = "failed"
	OutcomePanic       = "panic"
)

// PipelineMetrics covers ingestion, AI analysis, dispatch and notifications.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	ReportsSubmitted  *prometheus.CounterVec
	AnalysisTotal     *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram
	MaskFetchFailures prometheus.Counter
	StatusWriteErrors prometheus.Counter
	JobsInFlight      prometheus.Gauge
	OverlappingJobs   prometheus.Counter
	PushSent          *prometheus.CounterVec
}

// NewPipelineMetrics creates the metrics and registers them with registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.ReportsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reports_submitted_total",
		Help: "Report submissions by result (ok or failure kind)",
	}, []string{"result"})

	m.AnalysisTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_analysis_total",
		Help: "Finished AI analysis tasks by outcome",
	}, []string{"outcome"})

	m.AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ai_analysis_duration_seconds",
		Help:    "Wall time of an AI analysis task",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	m.MaskFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_mask_fetch_failures_total",
		Help: "Mask artifacts that could not be fetched or stored",
	})

	m.StatusWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_status_write_errors_total",
		Help: "Failed writes of ai_status or AI result columns",
	})

	m.JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ai_jobs_in_flight",
		Help: "AI jobs currently queued or running",
	})

	m.OverlappingJobs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_overlapping_jobs_total",
		Help: "AI jobs dispatched while another job for the same report was in flight",
	})

	m.PushSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_notifications_total",
		Help: "Push notification requests by result",
	}, []string{"result"})
}

func (m *PipelineMetrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.ReportsSubmitted.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) RecordAnalysis(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(outcome).Inc()
	m.AnalysisDuration.Observe(d.Seconds())
}

func (m *PipelineMetrics) IncMaskFetchFailures() {
	if m == nil {
		return
	}
	m.MaskFetchFailures.Inc()
}

func (m *PipelineMetrics) IncStatusWriteErrors() {
	if m == nil {
		return
	}
	m.StatusWriteErrors.Inc()
}

func (m *PipelineMetrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

func (m *PipelineMetrics) JobFinished() {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
}

func (m *PipelineMetrics) IncOverlappingJobs() {
	if m == nil {
		return
	}
	m.OverlappingJobs.Inc()
}

func (m *PipelineMetrics) RecordPush(result string) {
	if m == nil {
		return
	}
	m.PushSent.WithLabelValues(result).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ReportsSubmitted.Collect(ch)
	m.AnalysisTotal.Collect(ch)
	ch <- m.AnalysisDuration
	ch <- m.MaskFetchFailures
	ch <- m.StatusWriteErrors
	ch <- m.JobsInFlight
	ch <- m.OverlappingJobs
	m.PushSent.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ReportsSubmitted.Describe(ch)
	m.AnalysisTotal.Describe(ch)
	ch <- m.AnalysisDuration.Desc()
	ch <- m.MaskFetchFailures.Desc()
	ch <- m.StatusWriteErrors.Desc()
	ch <- m.JobsInFlight.Desc()
	ch <- m.OverlappingJobs.Desc()
	m.PushSent.Describe(ch)
}
