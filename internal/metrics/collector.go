// Package nat64metrics exposes the nat64 core's lifecycle counters as
// Prometheus metrics.
package nat64metrics

import (
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nat64d/nat64d/internal/nat64"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "nat64d"
	subsystem = "core"
)

// Label names for nat64 metrics.
const (
	labelProto = "proto"
	labelAddr  = "addr"
)

// -------------------------------------------------------------------------
// Collector — Prometheus nat64 Core Metrics
// -------------------------------------------------------------------------

// Collector holds all nat64 core Prometheus metrics and implements
// nat64.MetricsReporter. Every method is safe to call while the core's
// lock is held: each one only touches in-memory Prometheus vectors, no I/O.
type Collector struct {
	// PoolFree tracks the number of free (addr, protocol) transport
	// identifiers remaining in the address pool.
	PoolFree *prometheus.GaugeVec

	// BindingsCreated/BindingsDestroyed count BIB entry lifecycle events
	// per protocol.
	BindingsCreated   *prometheus.CounterVec
	BindingsDestroyed *prometheus.CounterVec

	// SessionsCreated/SessionsExpired count session lifecycle events per
	// protocol.
	SessionsCreated *prometheus.CounterVec
	SessionsExpired *prometheus.CounterVec

	// PoolExhausted counts binding-acquisition attempts that failed
	// because no free identifier was available, per protocol.
	PoolExhausted *prometheus.CounterVec
}

// NewCollector creates a Collector with all nat64 metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PoolFree,
		c.BindingsCreated,
		c.BindingsDestroyed,
		c.SessionsCreated,
		c.SessionsExpired,
		c.PoolExhausted,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	protoLabels := []string{labelProto}
	poolLabels := []string{labelProto, labelAddr}

	return &Collector{
		PoolFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_free",
			Help:      "Free IPv4 transport identifiers remaining for a (protocol, address) pair.",
		}, poolLabels),

		BindingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bindings_created_total",
			Help:      "Total BIB entries created.",
		}, protoLabels),

		BindingsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bindings_destroyed_total",
			Help:      "Total BIB entries destroyed.",
		}, protoLabels),

		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_created_total",
			Help:      "Total sessions created.",
		}, protoLabels),

		SessionsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_expired_total",
			Help:      "Total sessions reaped by the expirer.",
		}, protoLabels),

		PoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_exhausted_total",
			Help:      "Total binding-acquisition attempts that failed due to pool exhaustion.",
		}, protoLabels),
	}
}

// -------------------------------------------------------------------------
// nat64.MetricsReporter implementation
// -------------------------------------------------------------------------

// SetPoolFree records the number of free identifiers for (proto, addr).
func (c *Collector) SetPoolFree(proto nat64.Protocol, addr netip.Addr, free int) {
	c.PoolFree.WithLabelValues(proto.String(), addr.String()).Set(float64(free))
}

// IncBindingsCreated increments the bindings-created counter for proto.
func (c *Collector) IncBindingsCreated(proto nat64.Protocol) {
	c.BindingsCreated.WithLabelValues(proto.String()).Inc()
}

// IncBindingsDestroyed increments the bindings-destroyed counter for proto.
func (c *Collector) IncBindingsDestroyed(proto nat64.Protocol) {
	c.BindingsDestroyed.WithLabelValues(proto.String()).Inc()
}

// IncSessionsCreated increments the sessions-created counter for proto.
func (c *Collector) IncSessionsCreated(proto nat64.Protocol) {
	c.SessionsCreated.WithLabelValues(proto.String()).Inc()
}

// IncSessionsExpired increments the sessions-expired counter for proto.
func (c *Collector) IncSessionsExpired(proto nat64.Protocol) {
	c.SessionsExpired.WithLabelValues(proto.String()).Inc()
}

// IncPoolExhausted increments the pool-exhausted counter for proto.
func (c *Collector) IncPoolExhausted(proto nat64.Protocol) {
	c.PoolExhausted.WithLabelValues(proto.String()).Inc()
}

var _ nat64.MetricsReporter = (*Collector)(nil)
