package metrics_test

import (
	"testing"
	"time"

	"citysnap-backend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	m.RecordSubmission("ok")
	m.RecordSubmission("ok")
	m.RecordSubmission("validation")
	m.RecordAnalysis(metrics.OutcomeDetected, 2*time.Second)
	m.JobStarted()
	m.JobStarted()
	m.JobFinished()
	m.IncOverlappingJobs()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReportsSubmitted.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsSubmitted.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisTotal.WithLabelValues(metrics.OutcomeDetected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OverlappingJobs))

	count, err := testutil.GatherAndCount(registry, "ai_analysis_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipelineMetrics_DoubleRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	_, err = metrics.NewPipelineMetrics(registry)
	assert.Error(t, err)
}

func TestPipelineMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.PipelineMetrics
	assert.NotPanics(t, func() {
		m.RecordSubmission("ok")
		m.RecordAnalysis(metrics.OutcomeFailed, time.Second)
		m.JobStarted()
		m.JobFinished()
		m.IncOverlappingJobs()
		m.IncMaskFetchFailures()
		m.IncStatusWriteErrors()
		m.RecordPush("ok")
	})
}
