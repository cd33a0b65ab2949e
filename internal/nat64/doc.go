// Package nat64 implements the stateful core of a NAT64 translator
// (RFC 6146): the IPv4 address pool, the Binding Information Base, and
// the per-protocol session tables with the TCP state machine.
//
// The core does not parse packets or touch raw bytes. It is driven by
// already-decoded tuples and answers with the transport addresses a
// caller should rewrite a packet to. Packet capture, checksum fixup,
// and ICMP error generation are the responsibility of a collaborator
// outside this package.
package nat64
