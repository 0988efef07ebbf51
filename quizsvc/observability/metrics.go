// Package observability implements the Observability Hooks: Prometheus
// metrics for the engine's hot paths, and anti-cheat/fencing-failure
// incident capture for later review.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_attempts_admitted_total",
		Help: "Total admission requests, by outcome",
	}, []string{"date", "outcome"})

	AnswersIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_answers_ingested_total",
		Help: "Total answer submissions, by outcome",
	}, []string{"date", "outcome"})

	AntiCheatFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_anti_cheat_flags_total",
		Help: "Total anti-cheat signals raised, by kind",
	}, []string{"date", "kind"})

	FencingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_fencing_failures_total",
		Help: "Total fenced operations that lost their lease to a newer epoch",
	}, []string{"date", "purpose"})

	QuestionAdvanceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiz_question_advance_latency_seconds",
		Help:    "Delay between the scheduled advance instant and the coordinator write landing",
		Buckets: prometheus.DefBuckets,
	})

	FinalizerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiz_finalizer_duration_seconds",
		Help:    "Wall-clock duration of one finalize pass",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	QuizLifecycleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiz_lifecycle_state",
		Help: "1 if the quiz for this date is currently in this state, else 0",
	}, []string{"date", "state"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_ws_connections",
		Help: "Current number of open push-channel websocket connections",
	})
)
