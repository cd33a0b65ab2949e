package nat64

import (
	"fmt"
	"net/netip"
)

// This file implements the control API of: the
// operator-facing operations for provisioning the pool and static
// bindings, and for read-only introspection. Every method takes the
// single Core lock for its whole body, same as the packet path.

// PoolAddressInfo is a read-only snapshot of one registered pool address.
type PoolAddressInfo struct {
	Addr           netip.Addr
	RemovalPending bool
	InUse          [numProtocols]int
}

// PoolAdd registers addr with the pool.
func (c *Core) PoolAdd(addr netip.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Register(addr)
}

// PoolDel removes addr from the pool (or marks it removal-pending).
func (c *Core) PoolDel(addr netip.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Remove(addr)
}

// PoolList returns a snapshot of every registered pool address.
func (c *Core) PoolList() []PoolAddressInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []PoolAddressInfo
	c.pool.ForEach(func(addr netip.Addr, removalPending bool, inUse [numProtocols]int) {
		out = append(out, PoolAddressInfo{Addr: addr, RemovalPending: removalPending, InUse: inUse})
	})
	return out
}

// BIBEntryInfo is a read-only snapshot of one BIB entry.
type BIBEntryInfo struct {
	Proto    Protocol
	V6       V6Transport
	V4       V4Transport
	Static   bool
	Sessions int
}

// BIBAddStatic installs an operator-provisioned binding: it reserves v4
// from the pool before inserting, and rolls the reservation back if the
// BIB insert collides -- the same reserve-then-insert-then-rollback shape
// specifies for the dynamic path, applied to the
// static one, grounded on _examples/original_source/mod/bib.c's bib_add.
func (c *Core) BIBAddStatic(proto Protocol, v6 V6Transport, v4 V4Transport) error {
	if !proto.Valid() {
		return fmt.Errorf("bib add static: %w", ErrUnsupportedProto)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.bib[proto].getByV6(v6); exists {
		return fmt.Errorf("bib add static %+v: %w", v6, ErrBindingExists)
	}

	switch c.pool.GetSpecific(proto, v4) {
	case ReserveTaken:
		return fmt.Errorf("bib add static %+v: %w", v4, ErrIdentifierTaken)
	case ReserveNotOwned:
		return fmt.Errorf("bib add static %+v: address not registered: %w", v4, ErrAddressNotFound)
	case ReserveOK:
	}

	entry := &bibEntry{v6: v6, v4: v4, proto: proto, static: true, sessions: make(map[*sessionEntry]struct{})}
	if err := c.bib[proto].add(entry); err != nil {
		c.pool.Put(proto, v4)
		return err
	}

	c.metrics.IncBindingsCreated(proto)
	return nil
}

// BIBDelStatic removes an operator-provisioned binding, detaching any
// sessions still anchored to it and returning its IPv4 transport address
// to the pool.
func (c *Core) BIBDelStatic(proto Protocol, v6 V6Transport) error {
	if !proto.Valid() {
		return fmt.Errorf("bib del static: %w", ErrUnsupportedProto)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.bib[proto].getByV6(v6)
	if !ok {
		return fmt.Errorf("bib del static %+v: %w", v6, ErrBindingNotFound)
	}
	if !entry.static {
		return fmt.Errorf("bib del static %+v: %w", v6, ErrBindingNotStatic)
	}

	for sess := range entry.sessions {
		c.sessions[proto].remove(sess)
	}
	c.bib[proto].remove(entry)
	c.pool.Put(proto, entry.v4)
	c.metrics.IncBindingsDestroyed(proto)

	return nil
}

// BIBList returns a snapshot of every BIB entry for proto.
func (c *Core) BIBList(proto Protocol) ([]BIBEntryInfo, error) {
	if !proto.Valid() {
		return nil, fmt.Errorf("bib list: %w", ErrUnsupportedProto)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []BIBEntryInfo
	c.bib[proto].forEach(func(e *bibEntry) {
		out = append(out, BIBEntryInfo{
			Proto:    e.proto,
			V6:       e.v6,
			V4:       e.v4,
			Static:   e.static,
			Sessions: len(e.sessions),
		})
	})
	return out, nil
}

// SessionInfo is a read-only snapshot of one session.
type SessionInfo struct {
	Proto    Protocol
	V6       V6Pair
	V4       V4Pair
	TCPState TCPState
	ExpireIn string
}

// SessionList returns a read-only snapshot of every session for proto.
func (c *Core) SessionList(proto Protocol) ([]SessionInfo, error) {
	if !proto.Valid() {
		return nil, fmt.Errorf("session list: %w", ErrUnsupportedProto)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	var out []SessionInfo
	c.sessions[proto].forEach(func(s *sessionEntry) {
		out = append(out, SessionInfo{
			Proto:    s.proto,
			V6:       s.v6,
			V4:       s.v4,
			TCPState: s.tcpState,
			ExpireIn: s.expires.Sub(now).String(),
		})
	})
	return out, nil
}
