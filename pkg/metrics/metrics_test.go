package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestJobMetricsNilRegistererIsNoop(t *testing.T) {
	m := NewJobMetrics(nil)
	m.ObserveDuration("sweep", time.Second)
	m.IncSuccess("sweep")
	m.IncFailure("sweep")
}

func TestPipelineMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.IncFallback("translating")
	m.IncFallback("translating")
	m.IncOutcome("sent")

	fallback := testutil.ToFloat64(m.stageFallback.WithLabelValues("translating"))
	if fallback != 2 {
		t.Fatalf("expected 2 fallbacks, got %v", fallback)
	}
	outcome := testutil.ToFloat64(m.sendOutcome.WithLabelValues("sent"))
	if outcome != 1 {
		t.Fatalf("expected 1 sent outcome, got %v", outcome)
	}
}

func TestSchedulerMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg)

	m.IncRegistered()
	m.IncRegistered()
	m.IncFired()
	m.IncOverdue()

	if got := testutil.ToFloat64(m.registered); got != 2 {
		t.Fatalf("expected 2 registered, got %v", got)
	}
	if got := testutil.ToFloat64(m.fired); got != 1 {
		t.Fatalf("expected 1 fired, got %v", got)
	}
}

func TestNormalizeLabel(t *testing.T) {
	if normalizeLabel("") != "unknown" {
		t.Fatal("expected empty label to normalize")
	}
}
