package harness_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/nat64d/nat64d/internal/harness"
	"github.com/nat64d/nat64d/internal/nat64"
)

func TestLoopbackOutboundAndInboundRoundTrip(t *testing.T) {
	t.Parallel()

	core := nat64.NewCore()
	if err := core.PoolAdd(mustParseAddr(t, "203.0.113.5")); err != nil {
		t.Fatalf("PoolAdd: %v", err)
	}
	lb := harness.New(core)

	v4, err := lb.SendV6(nat64.ProtoUDP, "2001:db8::1", 40001, "64:ff9b::c000:0201", 53, nat64.TCPFlags{})
	if err != nil {
		t.Fatalf("SendV6: %v", err)
	}
	if v4.Remote.Port != 53 {
		t.Errorf("Remote.Port = %d, want 53", v4.Remote.Port)
	}

	v6, err := lb.SendV4(nat64.ProtoUDP, "192.0.2.1", 53, v4.Local.Addr.String(), v4.Local.Port, nat64.TCPFlags{})
	if err != nil {
		t.Fatalf("SendV4: %v", err)
	}
	if v6.Local.Port != 40001 {
		t.Errorf("Local.Port = %d, want 40001", v6.Local.Port)
	}
}

func TestLoopbackInboundUnmatchedIsNoBinding(t *testing.T) {
	t.Parallel()

	core := nat64.NewCore()
	if err := core.PoolAdd(mustParseAddr(t, "203.0.113.5")); err != nil {
		t.Fatalf("PoolAdd: %v", err)
	}
	lb := harness.New(core)

	_, err := lb.SendV4(nat64.ProtoUDP, "198.51.100.9", 1000, "203.0.113.5", 9999, nat64.TCPFlags{})
	if !errors.Is(err, nat64.ErrNoBinding) {
		t.Fatalf("err = %v, want ErrNoBinding", err)
	}
}

func TestLoopbackRejectsMalformedAddress(t *testing.T) {
	t.Parallel()

	core := nat64.NewCore()
	lb := harness.New(core)

	_, err := lb.SendV6(nat64.ProtoUDP, "not-an-address", 1, "64:ff9b::c000:0201", 53, nat64.TCPFlags{})
	if err == nil {
		t.Fatal("expected error for malformed source address")
	}
}

func mustParseAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return a
}
