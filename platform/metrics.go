package platform

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values shared by the bridge packages.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	DirectionIn  = "in"
	DirectionOut = "out"

	PoolStateIdle   = "idle"
	PoolStateLeased = "leased"
)

// Metrics holds the bridge collectors. A nil *Metrics is valid and records
// nothing, which is what a runtime with metrics disabled hands out.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionSetups  *prometheus.CounterVec
	streamsActive     prometheus.Gauge
	streamsCompleted  *prometheus.CounterVec
	bodyBytes         *prometheus.CounterVec
	signings          *prometheus.CounterVec
	signingDuration   *prometheus.HistogramVec
	poolConnections   *prometheus.GaugeVec
	poolAcquireWait   prometheus.Histogram
}

// NewMetrics registers the bridge collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connections_active",
			Help:      "Number of connections that completed setup and have not shut down",
		}),
		connectionSetups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "connection_setups_total",
			Help:      "Connection setup attempts by result",
		}, []string{"result"}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "streams_active",
			Help:      "Number of activated streams that have not completed",
		}),
		streamsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "streams_completed_total",
			Help:      "Completed streams by result",
		}, []string{"result"}),
		bodyBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "body_bytes_total",
			Help:      "Body bytes moved by direction",
		}, []string{"direction"}),
		signings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "signings_total",
			Help:      "Signing operations by signable kind and result",
		}, []string{"kind", "result"}),
		signingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "signing_duration_seconds",
			Help:      "Time from sign submission to completion",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"kind"}),
		poolConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http_pool",
			Name:      "connections",
			Help:      "Pooled connections by state",
		}, []string{"state"}),
		poolAcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a pooled connection",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.connectionsActive,
		m.connectionSetups,
		m.streamsActive,
		m.streamsCompleted,
		m.bodyBytes,
		m.signings,
		m.signingDuration,
		m.poolConnections,
		m.poolAcquireWait,
	)

	return m
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}

	return ResultSuccess
}

// ConnectionSetup records a setup outcome.
func (m *Metrics) ConnectionSetup(err error) {
	if m == nil {
		return
	}

	m.connectionSetups.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.connectionsActive.Inc()
	}
}

// ConnectionShutdown records the end of a connection that set up successfully.
func (m *Metrics) ConnectionShutdown() {
	if m == nil {
		return
	}

	m.connectionsActive.Dec()
}

// StreamStarted records an activated stream.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}

	m.streamsActive.Inc()
}

// StreamCompleted records a stream completion. started tells whether the
// stream was counted by StreamStarted.
func (m *Metrics) StreamCompleted(started bool, err error) {
	if m == nil {
		return
	}

	if started {
		m.streamsActive.Dec()
	}
	m.streamsCompleted.WithLabelValues(result(err)).Inc()
}

// BodyBytes adds n bytes moved in direction.
func (m *Metrics) BodyBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}

	m.bodyBytes.WithLabelValues(direction).Add(float64(n))
}

// Signing records one signing completion.
func (m *Metrics) Signing(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}

	m.signings.WithLabelValues(kind, result(err)).Inc()
	m.signingDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// PoolConnections sets the gauge for pooled connections in state.
func (m *Metrics) PoolConnections(state string, n int) {
	if m == nil {
		return
	}

	m.poolConnections.WithLabelValues(state).Set(float64(n))
}

// PoolAcquireWait records time spent waiting to acquire a connection.
func (m *Metrics) PoolAcquireWait(d time.Duration) {
	if m == nil {
		return
	}

	m.poolAcquireWait.Observe(d.Seconds())
}
