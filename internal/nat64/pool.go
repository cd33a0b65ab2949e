package nat64

import (
	"container/list"
	"fmt"
	"net/netip"
)

// Port range serviced by the pool. Ports 0-1023 are reserved and never
// allocated.
const (
	minPort = 1024
	maxPort = 65535
)

// ReserveResult is the outcome of Pool.GetSpecific.
type ReserveResult uint8

const (
	ReserveOK ReserveResult = iota
	ReserveTaken
	ReserveNotOwned
)

// protocolPorts is the per-(address, protocol) identifier space: two
// parity-partitioned free sets plus the in-use set. Partitioning by parity
// gives O(1) expected allocation of "any free identifier of the requested
// parity" -- the per-parity free list calls for.
type protocolPorts struct {
	freeEven map[uint16]struct{}
	freeOdd  map[uint16]struct{}
	inUse    map[uint16]struct{}
}

func newProtocolPorts() *protocolPorts {
	pp := &protocolPorts{
		freeEven: make(map[uint16]struct{}, (maxPort-minPort+1)/2),
		freeOdd:  make(map[uint16]struct{}, (maxPort-minPort+1)/2),
		inUse:    make(map[uint16]struct{}),
	}
	for p := minPort; p <= maxPort; p++ {
		if p%2 == 0 {
			pp.freeEven[uint16(p)] = struct{}{}
		} else {
			pp.freeOdd[uint16(p)] = struct{}{}
		}
	}
	return pp
}

// popAny removes and returns an arbitrary element of set.
func popAny(set map[uint16]struct{}) (uint16, bool) {
	for p := range set {
		delete(set, p)
		return p, true
	}
	return 0, false
}

// allocate draws a free identifier compatible with hint (RFC 6146
// Section 3.5.1.1): same parity as hint when hint is nonzero, any parity
// when hint is zero or proto is ICMP (ICMP identifiers have no parity rule).
func (pp *protocolPorts) allocate(proto Protocol, hint uint16) (uint16, bool) {
	if proto == ProtoICMP || hint == 0 {
		if p, ok := popAny(pp.freeEven); ok {
			pp.inUse[p] = struct{}{}
			return p, true
		}
		if p, ok := popAny(pp.freeOdd); ok {
			pp.inUse[p] = struct{}{}
			return p, true
		}
		return 0, false
	}

	set := pp.freeEven
	if hint%2 == 1 {
		set = pp.freeOdd
	}
	p, ok := popAny(set)
	if !ok {
		return 0, false
	}
	pp.inUse[p] = struct{}{}
	return p, true
}

// reserve claims a specific identifier (used for static bindings).
func (pp *protocolPorts) reserve(port uint16) bool {
	if _, taken := pp.inUse[port]; taken {
		return false
	}
	if port%2 == 0 {
		delete(pp.freeEven, port)
	} else {
		delete(pp.freeOdd, port)
	}
	pp.inUse[port] = struct{}{}
	return true
}

// release returns port to the free set. Releasing a port that is not
// currently in use is a no-op, making Pool.Put idempotent.
func (pp *protocolPorts) release(port uint16) {
	if _, ok := pp.inUse[port]; !ok {
		return
	}
	delete(pp.inUse, port)
	if port%2 == 0 {
		pp.freeEven[port] = struct{}{}
	} else {
		pp.freeOdd[port] = struct{}{}
	}
}

func (pp *protocolPorts) totalInUse() int { return len(pp.inUse) }

// poolAddress is one registered IPv4 address and its per-protocol
// identifier spaces.
type poolAddress struct {
	addr           netip.Addr
	removalPending bool
	ports          [numProtocols]*protocolPorts
	elem           *list.Element
}

func newPoolAddress(addr netip.Addr) *poolAddress {
	pa := &poolAddress{addr: addr}
	for i := range pa.ports {
		pa.ports[i] = newProtocolPorts()
	}
	return pa
}

func (pa *poolAddress) totalInUse() int {
	n := 0
	for _, pp := range pa.ports {
		n += pp.totalInUse()
	}
	return n
}

// Pool owns a set of IPv4 addresses and, for each, tracks which
// identifiers are lent out per protocol tag.
//
// Pool carries no internal lock: the single Core.mu reader-writer mutex
// governs Pool, BIB, and the session tables as one logical unit
//. Pool methods are not safe for independent
// concurrent use -- the tests in this package call them single-threaded,
// exactly as Core does under its lock.
type Pool struct {
	addresses map[netip.Addr]*poolAddress
	lru       *list.List // front = least-recently used
}

// NewPool returns an empty address pool.
func NewPool() *Pool {
	return &Pool{
		addresses: make(map[netip.Addr]*poolAddress),
		lru:       list.New(),
	}
}

// Register adds addr to the pool. Fails if addr is already present.
func (p *Pool) Register(addr netip.Addr) error {
	if _, exists := p.addresses[addr]; exists {
		return fmt.Errorf("pool register %s: %w", addr, ErrAddressExists)
	}
	pa := newPoolAddress(addr)
	pa.elem = p.lru.PushBack(addr)
	p.addresses[addr] = pa
	return nil
}

// Remove drops addr immediately if nothing is lent out, otherwise marks it
// removal-pending: no further allocations draw from it, and it is forgotten
// once its last identifier returns via Put.
func (p *Pool) Remove(addr netip.Addr) error {
	pa, ok := p.addresses[addr]
	if !ok {
		return fmt.Errorf("pool remove %s: %w", addr, ErrAddressNotFound)
	}
	if pa.totalInUse() == 0 {
		p.lru.Remove(pa.elem)
		delete(p.addresses, addr)
		return nil
	}
	pa.removalPending = true
	return nil
}

// Contains reports whether addr is currently registered (removal-pending
// addresses still count as registered until their last identifier returns).
func (p *Pool) Contains(addr netip.Addr) bool {
	_, ok := p.addresses[addr]
	return ok
}

// ForEach calls fn for every registered address, in least-recently-used
// order.
func (p *Pool) ForEach(fn func(addr netip.Addr, removalPending bool, inUse [numProtocols]int)) {
	for e := p.lru.Front(); e != nil; e = e.Next() {
		addr := e.Value.(netip.Addr) //nolint:forcetypeassert // lru only ever holds netip.Addr
		pa := p.addresses[addr]
		var inUse [numProtocols]int
		for i, pp := range pa.ports {
			inUse[i] = pp.totalInUse()
		}
		fn(addr, pa.removalPending, inUse)
	}
}

// touch moves pa to the back of the LRU list, marking it most-recently used.
func (p *Pool) touch(pa *poolAddress) {
	p.lru.MoveToBack(pa.elem)
}

// GetAny returns any free identifier compatible with hint from any
// registered, non-removal-pending address, preferring the
// least-recently-used address to balance load.
func (p *Pool) GetAny(proto Protocol, hint uint16) (V4Transport, bool) {
	for e := p.lru.Front(); e != nil; e = e.Next() {
		addr := e.Value.(netip.Addr) //nolint:forcetypeassert // lru only ever holds netip.Addr
		pa := p.addresses[addr]
		if pa.removalPending {
			continue
		}
		if port, ok := pa.ports[proto].allocate(proto, hint); ok {
			p.touch(pa)
			return V4Transport{Addr: addr, Port: port}, true
		}
	}
	return V4Transport{}, false
}

// GetSimilar is like GetAny but restricted to a single address, used to
// honour endpoint-independent mapping.
func (p *Pool) GetSimilar(proto Protocol, addr netip.Addr, hint uint16) (V4Transport, bool) {
	pa, ok := p.addresses[addr]
	if !ok || pa.removalPending {
		return V4Transport{}, false
	}
	port, ok := pa.ports[proto].allocate(proto, hint)
	if !ok {
		return V4Transport{}, false
	}
	p.touch(pa)
	return V4Transport{Addr: addr, Port: port}, true
}

// GetSpecific reserves an exact (addr, port) pair, used for static bindings.
func (p *Pool) GetSpecific(proto Protocol, t V4Transport) ReserveResult {
	pa, ok := p.addresses[t.Addr]
	if !ok || pa.removalPending {
		return ReserveNotOwned
	}
	if !pa.ports[proto].reserve(t.Port) {
		return ReserveTaken
	}
	p.touch(pa)
	return ReserveOK
}

// Put returns a lent identifier to the pool. Idempotent: returning an
// identifier for an address that has since been fully removed, or that is
// not currently lent, is a silent no-op and Section 9).
func (p *Pool) Put(proto Protocol, t V4Transport) {
	pa, ok := p.addresses[t.Addr]
	if !ok {
		return
	}
	pa.ports[proto].release(t.Port)
	if pa.removalPending && pa.totalInUse() == 0 {
		p.lru.Remove(pa.elem)
		delete(p.addresses, t.Addr)
	}
}
