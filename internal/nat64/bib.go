package nat64

import (
	"fmt"
	"net/netip"
)

// bibEntry is one Binding Information Base entry: the bidirectional
// mapping between an IPv6 transport address and a borrowed or
// operator-supplied IPv4 transport address.
type bibEntry struct {
	v6       V6Transport
	v4       V4Transport
	proto    Protocol
	static   bool
	sessions map[*sessionEntry]struct{}
}

// bibTable is the dual-indexed BIB for a single protocol tag.
//
// byV6 and byV4 are exact-match indices; byV6Addr additionally indexes by
// IPv6 address alone so getByV6AddrOnly does not degrade to a full-table
// scan. describes this as a single hash table whose
// hash function must not mix in the 16-bit identifier; this is the Go-native
// restatement of the same requirement (see _examples/original_source's
// ipv6_tuple_addr_hashcode, which achieves it by simply never hashing
// l4_id) -- a second map keyed by address alone, rather than a custom hash
// function, gives the same O(1) addr-only lookup.
type bibTable struct {
	byV6     map[V6Transport]*bibEntry
	byV4     map[V4Transport]*bibEntry
	byV6Addr map[netip.Addr]map[V6Transport]*bibEntry
}

func newBIBTable() *bibTable {
	return &bibTable{
		byV6:     make(map[V6Transport]*bibEntry),
		byV4:     make(map[V4Transport]*bibEntry),
		byV6Addr: make(map[netip.Addr]map[V6Transport]*bibEntry),
	}
}

// add inserts e into both indices. Fails if either side collides with an
// existing entry.
func (t *bibTable) add(e *bibEntry) error {
	if _, exists := t.byV6[e.v6]; exists {
		return fmt.Errorf("bib add: v6 %+v: %w", e.v6, ErrBindingExists)
	}
	if _, exists := t.byV4[e.v4]; exists {
		return fmt.Errorf("bib add: v4 %+v: %w", e.v4, ErrBindingExists)
	}

	t.byV6[e.v6] = e
	t.byV4[e.v4] = e

	byAddr, ok := t.byV6Addr[e.v6.Addr]
	if !ok {
		byAddr = make(map[V6Transport]*bibEntry)
		t.byV6Addr[e.v6.Addr] = byAddr
	}
	byAddr[e.v6] = e

	return nil
}

// remove detaches e from both indices and reports which sides were found.
// Both should always be true for an entry obtained from this table;
// v6Removed != v4Removed signals the cross-index invariant violation
// classifies as INTERNAL.
func (t *bibTable) remove(e *bibEntry) (v6Removed, v4Removed bool) {
	if cur, ok := t.byV6[e.v6]; ok && cur == e {
		delete(t.byV6, e.v6)
		v6Removed = true
	}
	if cur, ok := t.byV4[e.v4]; ok && cur == e {
		delete(t.byV4, e.v4)
		v4Removed = true
	}
	if byAddr, ok := t.byV6Addr[e.v6.Addr]; ok {
		delete(byAddr, e.v6)
		if len(byAddr) == 0 {
			delete(t.byV6Addr, e.v6.Addr)
		}
	}
	return v6Removed, v4Removed
}

func (t *bibTable) getByV6(v6 V6Transport) (*bibEntry, bool) {
	e, ok := t.byV6[v6]
	return e, ok
}

func (t *bibTable) getByV4(v4 V4Transport) (*bibEntry, bool) {
	e, ok := t.byV4[v4]
	return e, ok
}

// getByV6AddrOnly returns any one binding whose v6 address equals addr,
// ignoring the 16-bit identifier. Used to implement endpoint-independent
// mapping: if this internal host already has a
// binding under any port, new flows should reuse its IPv4 address.
func (t *bibTable) getByV6AddrOnly(addr netip.Addr) (*bibEntry, bool) {
	byAddr, ok := t.byV6Addr[addr]
	if !ok {
		return nil, false
	}
	for _, e := range byAddr {
		return e, true
	}
	return nil, false
}

// forEach iterates every entry exactly once.
func (t *bibTable) forEach(fn func(*bibEntry)) {
	for _, e := range t.byV6 {
		fn(e)
	}
}
