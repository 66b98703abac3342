// Package metrics holds the Prometheus instruments of the bot.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dskvich/gemini-telegram-bot/pkg/dispatcher"
	"github.com/dskvich/gemini-telegram-bot/pkg/domain"
)

const namespace = "gemini_bot"

type Metrics struct {
	DispatchOutcomes *prometheus.CounterVec
	Retries          *prometheus.CounterVec
	BackendLatency   *prometheus.HistogramVec
	TrimmedTurns     prometheus.Counter
	ReplyWarnings    *prometheus.CounterVec
	BusyRejections   prometheus.Counter
	ActiveSessions   prometheus.Gauge
	RejectedContent  *prometheus.CounterVec
}

// New registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DispatchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Terminal dispatch outcomes by state.",
		}, []string{"state"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_retries_total",
			Help:      "Backend retries by error kind.",
		}, []string{"kind"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Latency of single backend calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"status"}),
		TrimmedTurns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trimmed_turns_total",
			Help:      "Turns evicted to fit the token budget.",
		}),
		ReplyWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_resolution_warnings_total",
			Help:      "Replies stored as plain turns, by reason.",
		}, []string{"reason"}),
		BusyRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_busy_rejections_total",
			Help:      "Events rejected because the session queue was full.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions created since start.",
		}),
		RejectedContent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_content_total",
			Help:      "Inbound events rejected by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveAttempt(latency time.Duration, err error) {
	m.BackendLatency.WithLabelValues(attemptStatus(err)).Observe(latency.Seconds())
}

func (m *Metrics) ObserveRetry(kind domain.BackendErrorKind) {
	m.Retries.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ObserveOutcome(state dispatcher.State) {
	m.DispatchOutcomes.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) ObserveActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveBusy() {
	m.BusyRejections.Inc()
}

func (m *Metrics) ObserveTrimmed(turns int) {
	m.TrimmedTurns.Add(float64(turns))
}

func (m *Metrics) ObserveReplyWarning(err error) {
	reason := "not_found"
	if errors.Is(err, domain.ErrReplyToAudio) {
		reason = "audio_target"
	}
	m.ReplyWarnings.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRejected(kind domain.EventKind) {
	m.RejectedContent.WithLabelValues(string(kind)).Inc()
}

func attemptStatus(err error) string {
	if err == nil {
		return "ok"
	}
	var be *domain.BackendError
	if errors.As(err, &be) && be.StatusCode != 0 {
		return strconv.Itoa(be.StatusCode)
	}
	return "error"
}
