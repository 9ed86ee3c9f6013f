package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors. HTTP traffic is instrumented separately by
// middleware.Metrics; these count what happens inside a request or a live
// session.
var (
	// SessionsFinished counts sessions reaching Finished, by outcome:
	// "succeeded", "failed", "no_feedback" or "start_failed".
	SessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_sessions_finished_total",
			Help: "Interview sessions that reached the finished phase, by outcome.",
		},
		[]string{"outcome"},
	)

	// SessionsActive gauges live sessions (registered and not yet finished).
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "interview_sessions_active",
			Help: "Interview sessions currently running.",
		},
	)

	// ChannelErrors counts non-benign voice channel errors.
	ChannelErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interview_channel_errors_total",
			Help: "Voice channel errors reported during sessions, excluding normal meeting end.",
		},
	)

	// FeedbackResults counts createFeedback calls by result ("created", "failed").
	FeedbackResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_feedback_total",
			Help: "Feedback derivation attempts, by result.",
		},
		[]string{"result"},
	)

	// GenerationResults counts generateInterview calls by result.
	GenerationResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_generations_total",
			Help: "Interview generation attempts, by result.",
		},
		[]string{"result"},
	)

	// ModelLatency observes generative model round trips by operation
	// ("text", "object").
	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Latency of generative model calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsFinished,
		SessionsActive,
		ChannelErrors,
		FeedbackResults,
		GenerationResults,
		ModelLatency,
	)
}
