// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts submit outcomes by entity kind and outcome.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsync_submissions_total",
		Help: "Submission outcomes by entity kind",
	}, []string{"kind", "outcome"})

	// SubmissionDuration observes transport round trips.
	SubmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventsync_submission_duration_seconds",
		Help:    "Duration of submission round trips",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"kind", "action"})

	// Merges counts applied merges by origin (admin or peer).
	Merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsync_merges_total",
		Help: "Remote aggregate merges by origin",
	}, []string{"origin"})

	// MergeSkips counts sub-steps skipped because of incomplete snapshots.
	MergeSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsync_merge_skips_total",
		Help: "Merge steps skipped on structurally incomplete snapshots",
	}, []string{"step"})

	// PresenceMarks counts best-effort presence marks by state and result.
	PresenceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventsync_presence_marks_total",
		Help: "Presence marks by state and result",
	}, []string{"state", "result"})

	// Notifications counts notifications published by the authority.
	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventsync_notifications_published_total",
		Help: "Aggregate snapshots published to subscribers",
	})
)
