// Package metrics holds the Prometheus collectors shared by the player and
// the reference backend. Labels stay low-cardinality: no video or user IDs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProgressSyncTotal counts synchronizer decisions by trigger and result.
	ProgressSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplayer_progress_sync_total",
		Help: "Progress sync attempts, by trigger (tick/flush) and result (sent/failed/skipped).",
	}, []string{"trigger", "result"})

	// SeekClampedTotal counts forward seeks held at the high-water mark.
	SeekClampedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonplayer_seek_clamped_total",
		Help: "Seek requests clamped to the watched high-water mark, by source.",
	}, []string{"source"})

	// PlaybackErrorsTotal counts media failures surfaced to the viewer.
	PlaybackErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lessonplayer_playback_errors_total",
		Help: "Media load or playback errors that put a session into the error state.",
	})

	// StreamRequestsTotal counts backend stream requests by outcome.
	StreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lessonbackend_stream_requests_total",
		Help: "Stream endpoint requests, by outcome (served/bad_request/forbidden/not_found).",
	}, []string{"outcome"})
)
