package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sofadb/sofa/server/internal/config"
	"github.com/sofadb/sofa/server/internal/dbswitch"
	"github.com/sofadb/sofa/server/internal/listener"
	"github.com/sofadb/sofa/server/internal/logtail"
)

const namespace = "sofa"

// Metrics holds the reconfiguration collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	bindFailures *prometheus.CounterVec
	swaps        *prometheus.CounterVec
	backendMode  *prometheus.GaugeVec
	tailRestarts *prometheus.CounterVec
	tailActive   prometheus.Gauge
	configWrites *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_transitions_total",
			Help:      "Listener state transitions.",
		}, []string{"from", "to"}),

		bindFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_bind_failures_total",
			Help:      "Failed socket binds by kind (addr_in_use, other).",
		}, []string{"kind"}),

		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_swaps_total",
			Help:      "Backend swap attempts by target mode and result.",
		}, []string{"mode", "result"}),

		backendMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_active",
			Help:      "1 for the mode of the active backend.",
		}, []string{"mode"}),

		tailRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logtail_restarts_total",
			Help:      "Log tail restarts by result.",
		}, []string{"result"}),

		tailActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "logtail_active",
			Help:      "1 while the log file is mirrored to the console.",
		}),

		configWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_writes_total",
			Help:      "Writes to recognized option paths.",
		}, []string{"path"}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.bindFailures,
		m.swaps,
		m.backendMode,
		m.tailRestarts,
		m.tailActive,
		m.configWrites,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ListenerTransition(from, to listener.State) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) BindFailure(err *listener.BindError) {
	kind := "other"
	if err.AddrInUse() {
		kind = "addr_in_use"
	}
	m.bindFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) BackendSwap(spec dbswitch.Spec, err error) {
	if err != nil {
		m.swaps.WithLabelValues(string(spec.Mode), "error").Inc()
		return
	}
	m.swaps.WithLabelValues(string(spec.Mode), "ok").Inc()
	m.backendMode.Reset()
	m.backendMode.WithLabelValues(string(spec.Mode)).Set(1)
}

func (m *Metrics) TailRestart(st logtail.Status, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tailRestarts.WithLabelValues(result).Inc()
	if st.Active {
		m.tailActive.Set(1)
	} else {
		m.tailActive.Set(0)
	}
}

func (m *Metrics) ConfigWrite(p config.Path) {
	m.configWrites.WithLabelValues(string(p)).Inc()
}

// Observe subscribes the collectors to the components. Config writes are
// counted for every option registered on reg.
func (m *Metrics) Observe(l *listener.Listener, sw *dbswitch.Switcher, tail *logtail.Supervisor, reg *config.Registry, st *config.Store) {
	l.OnTransition(m.ListenerTransition)
	l.OnBindError(m.BindFailure)
	sw.OnSwap(m.BackendSwap)
	tail.OnRestart(m.TailRestart)
	for _, opt := range reg.Options() {
		p := opt.Path
		st.On(p, func(any) { m.ConfigWrite(p) })
	}
}
