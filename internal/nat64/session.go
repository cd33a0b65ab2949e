package nat64

import "time"

// sessionEntry is one active flow pinned to a BIB entry.
type sessionEntry struct {
	v6       V6Pair
	v4       V4Pair
	proto    Protocol
	expires  time.Time
	tcpState TCPState // meaningful only when proto == ProtoTCP
	bib      *bibEntry
}

// sessionTable is the triple-indexed session table for a single protocol
// tag: exact lookup by each pair, plus a local-address-only index used by
// the address-dependent-filtering check.
type sessionTable struct {
	byV6 map[V6Pair]*sessionEntry
	byV4 map[V4Pair]*sessionEntry

	// byV4LocalOnly answers "does any session already exist for this
	// local v4 transport address, regardless of remote" -- the index
	// Allow needs. Grounded on the same technique the BIB's byV6Addr
	// index uses, in turn grounded on
	// _examples/original_source/mod/types.c's ipv4_pair_hashcode, which
	// hashes only on the local address/port and explicitly ignores
	// remote.l4_id "to support session_allow() ... ignoring the port".
	byV4LocalOnly map[V4Transport]map[V4Pair]*sessionEntry
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byV6:          make(map[V6Pair]*sessionEntry),
		byV4:          make(map[V4Pair]*sessionEntry),
		byV4LocalOnly: make(map[V4Transport]map[V4Pair]*sessionEntry),
	}
}

// add inserts sess into all indices. Callers are responsible for ensuring
// sess.v6/sess.v4 do not already collide with an existing session -- both
// HandleOutboundV6 and HandleInboundV4 look up the table before creating a
// session, so no collision is possible in practice.
func (t *sessionTable) add(sess *sessionEntry) {
	t.byV6[sess.v6] = sess
	t.byV4[sess.v4] = sess

	byLocal, ok := t.byV4LocalOnly[sess.v4.Local]
	if !ok {
		byLocal = make(map[V4Pair]*sessionEntry)
		t.byV4LocalOnly[sess.v4.Local] = byLocal
	}
	byLocal[sess.v4] = sess
}

func (t *sessionTable) remove(sess *sessionEntry) {
	delete(t.byV6, sess.v6)
	delete(t.byV4, sess.v4)
	if byLocal, ok := t.byV4LocalOnly[sess.v4.Local]; ok {
		delete(byLocal, sess.v4)
		if len(byLocal) == 0 {
			delete(t.byV4LocalOnly, sess.v4.Local)
		}
	}
}

func (t *sessionTable) lookupByV6(pair V6Pair) (*sessionEntry, bool) {
	s, ok := t.byV6[pair]
	return s, ok
}

func (t *sessionTable) lookupByV4(pair V4Pair) (*sessionEntry, bool) {
	s, ok := t.byV4[pair]
	return s, ok
}

// allow implements the address-dependent-filtering check: for a
// v4-initiated TCP SYN, admission is granted iff a
// session already exists anchored to this local v4 transport address,
// regardless of which remote peer it talks to.
func (t *sessionTable) allow(local V4Transport) bool {
	byLocal, ok := t.byV4LocalOnly[local]
	return ok && len(byLocal) > 0
}

func (t *sessionTable) forEach(fn func(*sessionEntry)) {
	for _, s := range t.byV6 {
		fn(s)
	}
}

func (t *sessionTable) len() int { return len(t.byV6) }
