package nat64metrics_test

import (
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	nat64metrics "github.com/nat64d/nat64d/internal/metrics"
	"github.com/nat64d/nat64d/internal/nat64"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	if c.PoolFree == nil {
		t.Error("PoolFree is nil")
	}
	if c.BindingsCreated == nil {
		t.Error("BindingsCreated is nil")
	}
	if c.BindingsDestroyed == nil {
		t.Error("BindingsDestroyed is nil")
	}
	if c.SessionsCreated == nil {
		t.Error("SessionsCreated is nil")
	}
	if c.SessionsExpired == nil {
		t.Error("SessionsExpired is nil")
	}
	if c.PoolExhausted == nil {
		t.Error("PoolExhausted is nil")
	}

	// Verify all metrics are registered by gathering them.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSetPoolFree(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)
	addr := netip.MustParseAddr("203.0.113.5")

	c.SetPoolFree(nat64.ProtoUDP, addr, 32256)
	val := gaugeValue(t, c.PoolFree, "udp", "203.0.113.5")
	if val != 32256 {
		t.Errorf("PoolFree = %v, want 32256", val)
	}

	c.SetPoolFree(nat64.ProtoUDP, addr, 32255)
	val = gaugeValue(t, c.PoolFree, "udp", "203.0.113.5")
	if val != 32255 {
		t.Errorf("PoolFree after update = %v, want 32255", val)
	}
}

func TestBindingCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	c.IncBindingsCreated(nat64.ProtoTCP)
	c.IncBindingsCreated(nat64.ProtoTCP)
	c.IncBindingsDestroyed(nat64.ProtoTCP)

	if got := counterValue(t, c.BindingsCreated, "tcp"); got != 2 {
		t.Errorf("BindingsCreated = %v, want 2", got)
	}
	if got := counterValue(t, c.BindingsDestroyed, "tcp"); got != 1 {
		t.Errorf("BindingsDestroyed = %v, want 1", got)
	}
}

func TestSessionCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	c.IncSessionsCreated(nat64.ProtoUDP)
	c.IncSessionsCreated(nat64.ProtoUDP)
	c.IncSessionsCreated(nat64.ProtoUDP)
	c.IncSessionsExpired(nat64.ProtoUDP)

	if got := counterValue(t, c.SessionsCreated, "udp"); got != 3 {
		t.Errorf("SessionsCreated = %v, want 3", got)
	}
	if got := counterValue(t, c.SessionsExpired, "udp"); got != 1 {
		t.Errorf("SessionsExpired = %v, want 1", got)
	}
}

func TestPoolExhaustedCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nat64metrics.NewCollector(reg)

	c.IncPoolExhausted(nat64.ProtoICMP)

	if got := counterValue(t, c.PoolExhausted, "icmp"); got != 1 {
		t.Errorf("PoolExhausted = %v, want 1", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
