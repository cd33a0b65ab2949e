// Package harness provides a loopback packet-source collaborator standing
// in for the kernel-hook/NFQUEUE collaborator that would normally drive
// *nat64.Core.HandleOutboundV6/HandleInboundV4 in production. It exists
// only so integration tests can exercise the translation core end-to-end
// with synthetic tuples, standing in for a real network path.
package harness

import (
	"fmt"
	"net/netip"

	"github.com/nat64d/nat64d/internal/nat64"
)

// Loopback drives a *nat64.Core with string-addressed synthetic packets,
// translating CLI/test-friendly string tuples into the typed V6Tuple/V4Tuple
// the packet-path API expects.
type Loopback struct {
	core *nat64.Core
}

// New wraps core for synthetic packet injection.
func New(core *nat64.Core) *Loopback {
	return &Loopback{core: core}
}

// SendV6 simulates an IPv6-side packet arriving at the translator: srcAddr
// is the IPv6 host, dstAddr is the IPv4-embedded IPv6 representation of the
// destination, and ports are the transport identifiers (or ICMP Echo
// identifiers for ProtoICMP).
func (l *Loopback) SendV6(proto nat64.Protocol, srcAddr string, srcPort uint16, dstAddr string, dstPort uint16, flags nat64.TCPFlags) (nat64.V4Pair, error) {
	src, err := netip.ParseAddr(srcAddr)
	if err != nil {
		return nat64.V4Pair{}, fmt.Errorf("parse src addr %q: %w", srcAddr, err)
	}
	dst, err := netip.ParseAddr(dstAddr)
	if err != nil {
		return nat64.V4Pair{}, fmt.Errorf("parse dst addr %q: %w", dstAddr, err)
	}

	tuple := nat64.V6Tuple{
		Proto: proto,
		Src:   nat64.V6Transport{Addr: src, Port: srcPort},
		Dst:   nat64.V6Transport{Addr: dst, Port: dstPort},
	}
	return l.core.HandleOutboundV6(tuple, flags)
}

// SendV4 simulates an IPv4-side packet arriving at the translator: srcAddr
// is the external IPv4 host, dstAddr is the translator's pool address that
// was reached, and ports are the transport identifiers.
func (l *Loopback) SendV4(proto nat64.Protocol, srcAddr string, srcPort uint16, dstAddr string, dstPort uint16, flags nat64.TCPFlags) (nat64.V6Pair, error) {
	src, err := netip.ParseAddr(srcAddr)
	if err != nil {
		return nat64.V6Pair{}, fmt.Errorf("parse src addr %q: %w", srcAddr, err)
	}
	dst, err := netip.ParseAddr(dstAddr)
	if err != nil {
		return nat64.V6Pair{}, fmt.Errorf("parse dst addr %q: %w", dstAddr, err)
	}

	tuple := nat64.V4Tuple{
		Proto: proto,
		Src:   nat64.V4Transport{Addr: src, Port: srcPort},
		Dst:   nat64.V4Transport{Addr: dst, Port: dstPort},
	}
	return l.core.HandleInboundV4(tuple, flags)
}
