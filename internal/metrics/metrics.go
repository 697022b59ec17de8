// Package metrics provides Prometheus metrics for the vKYC desk.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoomsCreated tracks the total number of rooms created.
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vkyc_rooms_created_total",
			Help: "Total number of verification rooms created",
		},
	)

	// RoomsDeleted tracks the total number of rooms deleted.
	RoomsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vkyc_rooms_deleted_total",
			Help: "Total number of verification rooms deleted",
		},
	)

	// StatusTransitions tracks room status changes.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vkyc_room_status_transitions_total",
			Help: "Total number of room status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	// RecordingsStarted tracks recording segments opened.
	RecordingsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vkyc_recordings_started_total",
			Help: "Total number of recording segments started",
		},
	)

	// RecordingsStopped tracks recording segments closed, by cause.
	RecordingsStopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vkyc_recordings_stopped_total",
			Help: "Total number of recording segments stopped",
		},
		[]string{"reason"},
	)

	// InvitesGenerated tracks invitation tokens issued.
	InvitesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vkyc_invites_generated_total",
			Help: "Total number of invitation tokens issued",
		},
	)

	// PresenceConnections tracks open customer websocket connections.
	PresenceConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vkyc_presence_connections",
			Help: "Number of currently open customer presence connections",
		},
	)

	// EventSubscribers tracks open server-sent event streams.
	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vkyc_event_subscribers",
			Help: "Number of currently open room event streams",
		},
	)
)

// RecordStateTransition records a room status change.
func RecordStateTransition(from, to string) {
	StatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordRecordingStopped records a closed recording segment.
func RecordRecordingStopped(reason string) {
	RecordingsStopped.WithLabelValues(reason).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
