// Package metrics exposes the coordination layer's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "screentime"

// Metrics holds the coordination counters.
type Metrics struct {
	PermissionChecks  *prometheus.CounterVec
	ConflictsDetected *prometheus.CounterVec
	ConflictOutcomes  *prometheus.CounterVec
	ActivitiesLogged  *prometheus.CounterVec
	ActivityDrops     prometheus.Counter
	AuditRetryQueue   prometheus.Gauge
	BackgroundFetches *prometheus.CounterVec
	FeedNotifications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PermissionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_checks_total",
			Help:      "Permission checks by action and result.",
		}, []string{"action", "result"}),
		ConflictsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Concurrent writes detected inside the conflict window.",
		}, []string{"record_type"}),
		ConflictOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_outcomes_total",
			Help:      "Conflict resolution outcomes.",
		}, []string{"outcome"}),
		ActivitiesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_logged_total",
			Help:      "Parent activities persisted by type.",
		}, []string{"activity_type"}),
		ActivityDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_dropped_total",
			Help:      "Activity events dropped because a subscriber was not keeping up.",
		}),
		AuditRetryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activity_retry_queue_length",
			Help:      "Activities waiting to be written after a failed audit write.",
		}),
		BackgroundFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_fetches_total",
			Help:      "Background activity fetches by result.",
		}, []string{"result"}),
		FeedNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changefeed_notifications_total",
			Help:      "Change feed notifications by direction.",
		}, []string{"direction"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PermissionChecks,
			m.ConflictsDetected,
			m.ConflictOutcomes,
			m.ActivitiesLogged,
			m.ActivityDrops,
			m.AuditRetryQueue,
			m.BackgroundFetches,
			m.FeedNotifications,
		)
	}
	return m
}

func (m *Metrics) RecordPermissionCheck(action string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecks.WithLabelValues(action, result).Inc()
}

func (m *Metrics) RecordConflictDetected(recordType string) {
	if m == nil {
		return
	}
	m.ConflictsDetected.WithLabelValues(recordType).Inc()
}

func (m *Metrics) RecordConflictOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ConflictOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordActivityLogged(activityType string) {
	if m == nil {
		return
	}
	m.ActivitiesLogged.WithLabelValues(activityType).Inc()
}

func (m *Metrics) RecordActivityDropped() {
	if m == nil {
		return
	}
	m.ActivityDrops.Inc()
}

func (m *Metrics) SetAuditRetryQueue(n int) {
	if m == nil {
		return
	}
	m.AuditRetryQueue.Set(float64(n))
}

func (m *Metrics) RecordBackgroundFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BackgroundFetches.WithLabelValues(result).Inc()
}

// RecordFeedNotification counts a change feed message; direction is
// "published", "received" or "dropped".
func (m *Metrics) RecordFeedNotification(direction string) {
	if m == nil {
		return
	}
	m.FeedNotifications.WithLabelValues(direction).Inc()
}
