package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records outcomes for periodic background jobs.
type JobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewJobMetrics registers the background job metrics on the provided registerer.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of background jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_success",
		Help: "Successful background job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_failure",
		Help: "Failed background job executions.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure)
	return &JobMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

// ObserveDuration records the duration for the named job.
func (j *JobMetrics) ObserveDuration(job string, duration time.Duration) {
	if j == nil || j.duration == nil {
		return
	}
	j.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (j *JobMetrics) IncSuccess(job string) {
	if j == nil || j.success == nil {
		return
	}
	j.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (j *JobMetrics) IncFailure(job string) {
	if j == nil || j.failure == nil {
		return
	}
	j.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// PipelineMetrics records per-stage timings and terminal send outcomes.
type PipelineMetrics struct {
	stageDuration *prometheus.HistogramVec
	stageFallback *prometheus.CounterVec
	sendOutcome   *prometheus.CounterVec
}

// NewPipelineMetrics registers pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Duration of delivery pipeline stages in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	stageFallback := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_fallback",
		Help: "Non-fatal stage failures recovered by falling back to the original content.",
	}, []string{"stage"})
	sendOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_send_outcome",
		Help: "Terminal pipeline outcomes per postcard send.",
	}, []string{"outcome"})
	reg.MustRegister(stageDuration, stageFallback, sendOutcome)
	return &PipelineMetrics{
		stageDuration: stageDuration,
		stageFallback: stageFallback,
		sendOutcome:   sendOutcome,
	}
}

// ObserveStage records the duration of a pipeline stage.
func (p *PipelineMetrics) ObserveStage(stage string, duration time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(normalizeLabel(stage)).Observe(duration.Seconds())
}

// IncFallback counts a recovered non-fatal stage failure.
func (p *PipelineMetrics) IncFallback(stage string) {
	if p == nil || p.stageFallback == nil {
		return
	}
	p.stageFallback.WithLabelValues(normalizeLabel(stage)).Inc()
}

// IncOutcome counts a terminal pipeline outcome ("sent" or "failed").
func (p *PipelineMetrics) IncOutcome(outcome string) {
	if p == nil || p.sendOutcome == nil {
		return
	}
	p.sendOutcome.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SchedulerMetrics records timer registrations and firings.
type SchedulerMetrics struct {
	registered prometheus.Counter
	cancelled  prometheus.Counter
	fired      prometheus.Counter
	overdue    prometheus.Counter
}

// NewSchedulerMetrics registers scheduler metrics on the provided registerer.
func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	registered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_registered",
		Help: "Timers registered, including upsert replacements.",
	})
	cancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_cancelled",
		Help: "Timers removed before firing.",
	})
	fired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_fired",
		Help: "Timers that reached their fire time.",
	})
	overdue := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_jobs_overdue",
		Help: "Jobs recovered past their fire time at startup.",
	})
	reg.MustRegister(registered, cancelled, fired, overdue)
	return &SchedulerMetrics{
		registered: registered,
		cancelled:  cancelled,
		fired:      fired,
		overdue:    overdue,
	}
}

func (s *SchedulerMetrics) IncRegistered() {
	if s == nil || s.registered == nil {
		return
	}
	s.registered.Inc()
}

func (s *SchedulerMetrics) IncCancelled() {
	if s == nil || s.cancelled == nil {
		return
	}
	s.cancelled.Inc()
}

func (s *SchedulerMetrics) IncFired() {
	if s == nil || s.fired == nil {
		return
	}
	s.fired.Inc()
}

func (s *SchedulerMetrics) IncOverdue() {
	if s == nil || s.overdue == nil {
		return
	}
	s.overdue.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
