package copilot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	questionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbank",
			Subsystem: "copilot",
			Name:      "questions_total",
			Help:      "Questions answered, by outcome",
		},
		[]string{"status"},
	)

	questionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dbank",
			Subsystem: "copilot",
			Name:      "question_duration_seconds",
			Help:      "End to end time to answer a question",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		},
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbank",
			Subsystem: "copilot",
			Name:      "llm_calls_total",
			Help:      "LLM completions issued, by outcome",
		},
		[]string{"status"},
	)
)

func observeQuestion(status string, elapsed time.Duration) {
	questionsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		questionDuration.Observe(elapsed.Seconds())
	}
}

// RegisterConversationGauge exports the live conversation count. Call it
// once per process; promauto panics on duplicate registration.
func RegisterConversationGauge(m *Manager) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "dbank",
			Subsystem: "copilot",
			Name:      "conversations_active",
			Help:      "Conversations currently held in memory",
		},
		func() float64 { return float64(m.Count()) },
	)
}
