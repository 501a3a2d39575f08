package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/temcen/podrex/pkg/models"
)

// EventSink receives structured events from the ranking pipeline and the
// session orchestrator. The production sink logs and counts; tests substitute
// a capturing implementation.
type EventSink interface {
	Event(name string, fields logrus.Fields)
}

// Nop discards events. Used where a computation is re-run for its value and
// its events already fired elsewhere.
type Nop struct{}

func (Nop) Event(string, logrus.Fields) {}

// Telemetry bundles the prometheus instruments and the structured event sink.
type Telemetry struct {
	logger *logrus.Logger

	sessionsCreated   prometheus.Counter
	sessionsColdStart prometheus.Counter
	sessionOps        *prometheus.CounterVec
	pipelineDuration  prometheus.Histogram
	queueLength       prometheus.Histogram
	events            *prometheus.CounterVec
	providerCalls     *prometheus.HistogramVec
	providerErrors    *prometheus.CounterVec
	engagementWrites  *prometheus.CounterVec
	queryFastPath     *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New wires the instruments against the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(logger *logrus.Logger, reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		logger: logger,

		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "podrex_sessions_created_total",
			Help: "Total number of recommendation sessions created",
		}),

		sessionsColdStart: factory.NewCounter(prometheus.CounterOpts{
			Name: "podrex_sessions_cold_start_total",
			Help: "Sessions created without an effective user vector",
		}),

		sessionOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "podrex_session_operations_total",
			Help: "Session operations by type and outcome",
		}, []string{"operation", "outcome"}),

		pipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "podrex_ranking_pipeline_seconds",
			Help:    "Ranking pipeline execution time in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		queueLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "podrex_session_queue_length",
			Help:    "Length of ranked queues at session creation",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "podrex_pipeline_events_total",
			Help: "Structured pipeline and orchestrator events by name",
		}, []string{"event"}),

		providerCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podrex_provider_call_seconds",
			Help:    "Provider call latency by provider and operation",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"provider", "operation"}),

		providerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "podrex_provider_errors_total",
			Help: "Provider call failures by provider, operation and error kind",
		}, []string{"provider", "operation", "kind"}),

		engagementWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "podrex_engagement_writes_total",
			Help: "Asynchronous engagement write-backs by outcome",
		}, []string{"outcome"}),

		queryFastPath: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "podrex_vector_query_path_total",
			Help: "Vector-store query fast path outcomes",
		}, []string{"outcome"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "podrex_http_request_seconds",
			Help:    "HTTP request latency by route, method and status",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}, []string{"route", "method", "status"}),
	}
}

// Event counts the named event and writes one structured log line.
func (t *Telemetry) Event(name string, fields logrus.Fields) {
	if t == nil {
		return
	}
	t.events.WithLabelValues(name).Inc()
	if t.logger != nil {
		t.logger.WithFields(fields).Info(name)
	}
}

// The instrument methods tolerate a nil receiver so callers can run with
// metrics disabled.

func (t *Telemetry) SessionCreated(coldStart bool, queueLen int, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.sessionsCreated.Inc()
	if coldStart {
		t.sessionsColdStart.Inc()
	}
	t.queueLength.Observe(float64(queueLen))
	t.pipelineDuration.Observe(elapsed.Seconds())
}

func (t *Telemetry) SessionOp(operation, outcome string) {
	if t == nil {
		return
	}
	t.sessionOps.WithLabelValues(operation, outcome).Inc()
}

func (t *Telemetry) ProviderCall(provider, operation string, elapsed time.Duration, err error) {
	if t == nil {
		return
	}
	t.providerCalls.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
	if err != nil {
		t.providerErrors.WithLabelValues(provider, operation, errorKindLabel(err)).Inc()
	}
}

func (t *Telemetry) EngagementWrite(outcome string) {
	if t == nil {
		return
	}
	t.engagementWrites.WithLabelValues(outcome).Inc()
}

func (t *Telemetry) QueryPath(outcome string) {
	if t == nil {
		return
	}
	t.queryFastPath.WithLabelValues(outcome).Inc()
}

func (t *Telemetry) HTTPRequest(route, method, status string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.httpDuration.WithLabelValues(route, method, status).Observe(elapsed.Seconds())
}

func errorKindLabel(err error) string {
	if kind, ok := models.KindOf(err); ok {
		return string(kind)
	}
	return "internal"
}
