package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_operations_total",
			Help: "Session manager operations by outcome",
		},
		[]string{"operation", "result"},
	)

	SessionRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_refresh_duration_seconds",
			Help:    "Duration of token refresh round trips",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	SessionAuthenticated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_authenticated",
			Help: "1 when a session is installed, 0 otherwise",
		},
	)

	StorageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_storage_failures_total",
			Help: "Persistent store failures tolerated by the session manager",
		},
		[]string{"operation"},
	)

	ChannelConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connected",
			Help: "1 while the real-time channel socket is open",
		},
	)

	ChannelReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_reconnect_attempts_total",
			Help: "Scheduled reconnect attempts by attempt number",
		},
		[]string{"attempt"},
	)

	ChannelFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_frames_total",
			Help: "Inbound frames by type and handling result",
		},
		[]string{"type", "result"},
	)

	ChannelBufferSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_buffer_entries",
			Help: "Entries held in the in-memory event buffers",
		},
		[]string{"buffer"},
	)

	AlertsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_alerts_total",
			Help: "Platform alerts by outcome",
		},
		[]string{"result"},
	)
)

func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
