package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the quiz engine.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	PollsPosted      prometheus.Counter
	AnswersRecorded  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
}

// New registers the engine collectors on reg. Tests pass a fresh registry
// to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "quizplay",
			Subsystem: "engine",
			Name:      "active_sessions",
			Help:      "Number of quiz sessions currently live",
		}),
		PollsPosted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quizplay",
			Subsystem: "engine",
			Name:      "polls_posted_total",
			Help:      "Question polls posted to chats",
		}),
		AnswersRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quizplay",
			Subsystem: "engine",
			Name:      "answers_total",
			Help:      "Poll answers accepted and recorded",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quizplay",
			Subsystem: "engine",
			Name:      "sessions_finished_total",
			Help:      "Sessions reaching a terminal state",
		}, []string{"reason"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quizplay",
			Subsystem: "engine",
			Name:      "delivery_failures_total",
			Help:      "Poll posts abandoned after bounded retries",
		}),
	}
}
