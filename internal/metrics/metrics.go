// Package metrics exposes Prometheus collectors for the live channel,
// terminals, code runs and AI completions. All methods are safe on a nil
// *Metrics, so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codelive"

type Metrics struct {
	reg *prometheus.Registry

	connections prometheus.Gauge
	rooms       prometheus.Gauge
	terminals   prometheus.Gauge
	activeRuns  prometheus.Gauge

	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runsPreempted prometheus.Counter
	aiAttempts    *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
}

// New builds a Metrics instance on its own registry, with Go and process
// collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		reg: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open live channel connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		terminals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "terminal_sessions",
			Help: "Running terminal sessions.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_runs",
			Help: "Code runs currently executing.",
		}),
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_started_total",
			Help: "Code runs started, by language.",
		}, []string{"language"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_finished_total",
			Help: "Code runs finished, by language and result.",
		}, []string{"language", "result"}),
		runsPreempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_preempted_total",
			Help: "Code runs terminated because a newer run for the same project started.",
		}),
		aiAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ai_attempts_total",
			Help: "Completion attempts, by provider, model and result.",
		}, []string{"provider", "model", "result"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_dropped_total",
			Help: "Inbound or outbound events dropped, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.connections, m.rooms, m.terminals, m.activeRuns,
		m.runsStarted, m.runsFinished, m.runsPreempted, m.aiAttempts, m.eventsDropped)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) SetTerminals(n int) {
	if m != nil {
		m.terminals.Set(float64(n))
	}
}

func (m *Metrics) RunStarted(language string) {
	if m != nil {
		m.runsStarted.WithLabelValues(language).Inc()
		m.activeRuns.Inc()
	}
}

func (m *Metrics) RunFinished(language, result string) {
	if m != nil {
		m.runsFinished.WithLabelValues(language, result).Inc()
		m.activeRuns.Dec()
	}
}

func (m *Metrics) RunPreempted() {
	if m != nil {
		m.runsPreempted.Inc()
	}
}

func (m *Metrics) AIAttempt(provider, model string, ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.aiAttempts.WithLabelValues(provider, model, result).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(reason).Inc()
	}
}
