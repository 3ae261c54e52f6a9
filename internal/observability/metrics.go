package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spot_finder"

var (
	SpotsReported     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "spots_reported_total", Help: "Total number of reported spots"})
	SpotVerifications = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "spot_verifications_total", Help: "Total number of spot verifications"})
	SpotsExpired      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "spots_swept_total", Help: "Spots expired by the sweeper"})
	SessionsStarted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sessions_started_total", Help: "Total parking sessions started"})
	SessionsEnded     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sessions_ended_total", Help: "Total parking sessions ended"})
	RemindersSent     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "session_reminders_sent_total", Help: "Parking expiry reminders fired"})
	PointsGranted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "points_granted_total", Help: "Sum of positive point deltas"})

	NearbyQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "nearby_query_seconds", Help: "Nearby spot query latency"})
	NearbyCandidates    = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "nearby_candidates",
		Help:      "Candidates returned by the nearby prefilter",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	// BestEffortFailures counts side effects that failed without failing the request.
	BestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "best_effort_failures_total", Help: "Failed best-effort side effects"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
