package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission outcomes recorded by the attempt pipeline
const (
	OutcomeAccepted      = "accepted"
	OutcomeDuplicate     = "duplicate"
	OutcomeLate          = "late"
	OutcomeRejected      = "rejected"
	OutcomeGradingFailed = "grading_failed"
)

// Metrics holds every Prometheus collector the engine reports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Submissions        *prometheus.CounterVec
	BroadcastFailures  prometheus.Counter
	OutboxEvents       *prometheus.CounterVec
	FollowUpsDropped   prometheus.Counter
	GradingDuration    prometheus.Histogram
	LeaderboardRebuild *prometheus.HistogramVec
	ActiveClocks       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polegion_submissions_total",
			Help: "Submissions handled by the attempt pipeline, by outcome.",
		}, []string{"outcome"}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polegion_broadcast_failures_total",
			Help: "Messages that could not be published to the bus.",
		}),
		OutboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polegion_outbox_events_total",
			Help: "Outbox events relayed to the bus, by event type and result.",
		}, []string{"event_type", "result"}),
		FollowUpsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polegion_followups_dropped_total",
			Help: "Leaderboard follow-ups dropped because the queue was full.",
		}),
		GradingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polegion_grading_duration_seconds",
			Help:    "Time spent grading one solution.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		LeaderboardRebuild: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polegion_leaderboard_rebuild_seconds",
			Help:    "Time spent rebuilding a leaderboard view, by scope.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),
		ActiveClocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polegion_active_clocks",
			Help: "Clock authorities currently held in memory.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Submissions,
			m.BroadcastFailures,
			m.OutboxEvents,
			m.FollowUpsDropped,
			m.GradingDuration,
			m.LeaderboardRebuild,
			m.ActiveClocks,
		)
	}
	return m
}

func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordBroadcastFailure() {
	if m == nil {
		return
	}
	m.BroadcastFailures.Inc()
}

func (m *Metrics) RecordOutboxEvent(eventType string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.OutboxEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) RecordFollowUpDropped() {
	if m == nil {
		return
	}
	m.FollowUpsDropped.Inc()
}

func (m *Metrics) ObserveGrading(d time.Duration) {
	if m == nil {
		return
	}
	m.GradingDuration.Observe(d.Seconds())
}
