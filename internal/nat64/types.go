package nat64

import "net/netip"

// Protocol tags the three disjoint translation tables (RFC 6146 Section 3.5:
// the BIB and session table are partitioned per protocol). ICMPv4 and
// ICMPv6 share ProtoICMP -- they use the same table, just as the original
// Jool source dispatches both through a single bib_icmp table.
type Protocol uint8

const (
	ProtoUDP Protocol = iota
	ProtoTCP
	ProtoICMP

	numProtocols = 3
)

// String returns the human-readable protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtoUDP:
		return "udp"
	case ProtoTCP:
		return "tcp"
	case ProtoICMP:
		return "icmp"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the three handled protocol tags.
func (p Protocol) Valid() bool {
	return p == ProtoUDP || p == ProtoTCP || p == ProtoICMP
}

// V6Transport is an (IPv6 address, 16-bit identifier) pair. The identifier
// is a UDP/TCP port or an ICMP Echo identifier.
type V6Transport struct {
	Addr netip.Addr
	Port uint16
}

// V4Transport is an (IPv4 address, 16-bit identifier) pair.
type V4Transport struct {
	Addr netip.Addr
	Port uint16
}

// V6Pair is the (local, remote) transport address pair on the IPv6 side
// of a session.
type V6Pair struct {
	Local  V6Transport
	Remote V6Transport
}

// V4Pair is the (local, remote) transport address pair on the IPv4 side
// of a session.
type V4Pair struct {
	Local  V4Transport
	Remote V4Transport
}

// V6Tuple is a direction-tagged 5-tuple produced by the collaborator from
// a parsed IPv6 packet travelling toward the IPv4 domain.
type V6Tuple struct {
	Proto Protocol
	Src   V6Transport
	Dst   V6Transport
}

// V4Tuple is a direction-tagged 5-tuple produced by the collaborator from
// a parsed IPv4 packet travelling toward the IPv6 domain.
type V4Tuple struct {
	Proto Protocol
	Src   V4Transport
	Dst   V4Transport
}

// TCPFlags carries the subset of TCP control bits the state machine cares
// about. Unset (all-false) represents a plain data/ACK segment, which
// renews the session timer without driving a state transition.
type TCPFlags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
}

// TCPState is a session's position in the per-connection state machine
// (RFC 6146 Section 3.5.2).
type TCPState uint8

const (
	TCPStateV6Init TCPState = iota
	TCPStateV4Init
	TCPStateEstablished
	TCPStateV4FinRcv
	TCPStateV6FinRcv
	TCPStateV4FinV6FinRcv
	TCPStateTrans
)

// String returns the human-readable state name.
func (s TCPState) String() string {
	switch s {
	case TCPStateV6Init:
		return "V6_INIT"
	case TCPStateV4Init:
		return "V4_INIT"
	case TCPStateEstablished:
		return "ESTABLISHED"
	case TCPStateV4FinRcv:
		return "V4_FIN_RCV"
	case TCPStateV6FinRcv:
		return "V6_FIN_RCV"
	case TCPStateV4FinV6FinRcv:
		return "V4_FIN_V6_FIN_RCV"
	case TCPStateTrans:
		return "TRANS"
	default:
		return "UNKNOWN"
	}
}
