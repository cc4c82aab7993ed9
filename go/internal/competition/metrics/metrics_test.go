package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSubmission(OutcomeAccepted)
	m.RecordSubmission(OutcomeAccepted)
	m.RecordSubmission(OutcomeDuplicate)
	m.RecordBroadcastFailure()
	m.RecordOutboxEvent("competition_status", true)
	m.RecordOutboxEvent("competition_status", false)
	m.RecordFollowUpDropped()
	m.ObserveGrading(2 * time.Millisecond)
	m.LeaderboardRebuild.WithLabelValues("room").Observe(0.01)
	m.ActiveClocks.Set(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Submissions.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Submissions.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BroadcastFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxEvents.WithLabelValues("competition_status", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FollowUpsDropped))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveClocks))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"polegion_submissions_total",
		"polegion_broadcast_failures_total",
		"polegion_outbox_events_total",
		"polegion_followups_dropped_total",
		"polegion_grading_duration_seconds",
		"polegion_leaderboard_rebuild_seconds",
		"polegion_active_clocks",
	} {
		assert.True(t, names[want], want)
	}
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmission(OutcomeLate)
		m.RecordBroadcastFailure()
		m.RecordOutboxEvent("x", true)
		m.RecordFollowUpDropped()
		m.ObserveGrading(time.Second)
	})
}
