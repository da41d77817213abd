package state

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc"
)

// ============================================================================
// Prometheus Metrics for callback channels
// ============================================================================

// Metrics provides Prometheus metrics for the callback path.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// calls counts callback compounds submitted, by operation and minor version.
	calls *prometheus.CounterVec

	// failures counts aborted calls by client status.
	failures *prometheus.CounterVec

	// duration observes the round trip of completed calls.
	duration prometheus.Histogram

	// refreshes counts auth refresh-and-retry attempts.
	refreshes prometheus.Counter

	// slotWaits counts back-channel slot reservations that had to wait.
	slotWaits prometheus.Counter

	// selectorRestarts counts selector walks restarted after a failed session.
	selectorRestarts prometheus.Counter

	// channels counts channel creations and destructions by kind.
	channels *prometheus.CounterVec

	// probes counts CB_NULL probes by client status.
	probes *prometheus.CounterVec
}

// NewMetrics creates and registers callback metrics with the given
// Prometheus registerer. If reg is nil, metrics are created but not
// registered (useful for testing).
//
// On re-registration, existing collectors from the registry are reused so
// that metrics continue to be exported correctly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "calls_total",
			Help:      "Total number of callback compounds submitted",
		}, []string{"op", "minor_version"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "call_failures_total",
			Help:      "Total number of aborted callback compounds by RPC client status",
		}, []string{"clnt_stat"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "call_duration_seconds",
			Help:      "Duration of callback round-trips in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3, 5},
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "auth_refreshes_total",
			Help:      "Total number of credential refreshes after an authentication error",
		}),
		slotWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "slot_waits_total",
			Help:      "Total number of back-channel slot reservations that waited",
		}),
		selectorRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "selector_restarts_total",
			Help:      "Total number of back-channel selector restarts",
		}),
		channels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "channel_events_total",
			Help:      "Callback channel creations and destructions",
		}, []string{"kind", "event"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscb",
			Subsystem: "callback",
			Name:      "probes_total",
			Help:      "CB_NULL probes by RPC client status",
		}, []string{"clnt_stat"}),
	}

	if reg != nil {
		m.calls = registerOrReuse(reg, m.calls).(*prometheus.CounterVec)
		m.failures = registerOrReuse(reg, m.failures).(*prometheus.CounterVec)
		m.duration = registerOrReuse(reg, m.duration).(prometheus.Histogram)
		m.refreshes = registerOrReuse(reg, m.refreshes).(prometheus.Counter)
		m.slotWaits = registerOrReuse(reg, m.slotWaits).(prometheus.Counter)
		m.selectorRestarts = registerOrReuse(reg, m.selectorRestarts).(prometheus.Counter)
		m.channels = registerOrReuse(reg, m.channels).(*prometheus.CounterVec)
		m.probes = registerOrReuse(reg, m.probes).(*prometheus.CounterVec)
	}

	return m
}

// registerOrReuse registers a collector with the given registerer.
// If the collector is already registered, it returns the existing one.
// Panics on non-AlreadyRegisteredError failures.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// RecordCall counts a submitted compound.
func (m *Metrics) RecordCall(op string, minor uint32) {
	if m == nil {
		return
	}
	if minor == 0 {
		m.calls.WithLabelValues(op, "0").Inc()
	} else {
		m.calls.WithLabelValues(op, "1").Inc()
	}
}

// RecordFailure counts an aborted call.
func (m *Metrics) RecordFailure(stat rpc.ClntStat) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stat.String()).Inc()
}

// ObserveDuration observes a callback round-trip duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

// RecordRefresh counts an auth refresh-and-retry.
func (m *Metrics) RecordRefresh() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

// RecordSlotWait counts a slot reservation that had to wait.
func (m *Metrics) RecordSlotWait() {
	if m == nil {
		return
	}
	m.slotWaits.Inc()
}

// RecordSelectorRestart counts a restarted selector walk.
func (m *Metrics) RecordSelectorRestart() {
	if m == nil {
		return
	}
	m.selectorRestarts.Inc()
}

// RecordChannelCreate counts a channel creation.
func (m *Metrics) RecordChannelCreate(kind ChannelKind) {
	if m == nil {
		return
	}
	m.channels.WithLabelValues(kind.String(), "create").Inc()
}

// RecordChannelDestroy counts a channel destruction.
func (m *Metrics) RecordChannelDestroy(kind ChannelKind) {
	if m == nil {
		return
	}
	m.channels.WithLabelValues(kind.String(), "destroy").Inc()
}

// RecordProbe counts a CB_NULL probe.
func (m *Metrics) RecordProbe(stat rpc.ClntStat) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(stat.String()).Inc()
}
