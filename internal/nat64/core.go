package nat64

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// Timer defaults (RFC 6146 Section 4).
const (
	DefaultUDPTimeout       = 5 * time.Minute
	DefaultICMPTimeout      = 60 * time.Second
	DefaultTCPEstTimeout    = 2*time.Hour + 4*time.Minute
	DefaultTCPTransTimeout  = 4 * time.Minute
	DefaultExpirerInterval  = 1 * time.Second
	DefaultExpirerBatchSize = 1024
)

// wellKnownPrefix is the RFC 6052 Well-Known Prefix (64:ff9b::/96) used to
// synthesize and strip IPv4-embedded IPv6 addresses when the operator has
// not configured a network-specific prefix.
var wellKnownPrefix = netip.MustParsePrefix("64:ff9b::/96")

// Timeouts holds the runtime-configurable session lifetimes.
type Timeouts struct {
	UDP      time.Duration
	ICMP     time.Duration
	TCPEst   time.Duration
	TCPTrans time.Duration
}

// DefaultTimeouts returns the RFC 6146 Section 4 default lifetimes.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		UDP:      DefaultUDPTimeout,
		ICMP:     DefaultICMPTimeout,
		TCPEst:   DefaultTCPEstTimeout,
		TCPTrans: DefaultTCPTransTimeout,
	}
}

// MetricsReporter receives lifecycle counters from the core. Implementations
// must be safe to call while Core.mu is held (no I/O, no blocking).
type MetricsReporter interface {
	SetPoolFree(proto Protocol, addr netip.Addr, free int)
	IncBindingsCreated(proto Protocol)
	IncBindingsDestroyed(proto Protocol)
	IncSessionsCreated(proto Protocol)
	IncSessionsExpired(proto Protocol)
	IncPoolExhausted(proto Protocol)
}

// noopMetrics discards every report. It is the default MetricsReporter
// for optional collaborators.
type noopMetrics struct{}

func (noopMetrics) SetPoolFree(Protocol, netip.Addr, int) {}
func (noopMetrics) IncBindingsCreated(Protocol)           {}
func (noopMetrics) IncBindingsDestroyed(Protocol)         {}
func (noopMetrics) IncSessionsCreated(Protocol)           {}
func (noopMetrics) IncSessionsExpired(Protocol)           {}
func (noopMetrics) IncPoolExhausted(Protocol)             {}

// Core is the single facade over the Address Pool, the BIB, and the
// session tables. One sync.RWMutex protects all three as a single logical
// unit: the packet path takes the write lock for the
// compound lookup-or-create operation, and the only way to observe a
// binding, session, or pool reservation is through a method that holds
// the lock for its whole body.
type Core struct {
	mu sync.RWMutex

	pool     *Pool
	bib      [numProtocols]*bibTable
	sessions [numProtocols]*sessionTable

	timeouts Timeouts
	adf      bool
	prefix   netip.Prefix

	logger  *slog.Logger
	metrics MetricsReporter

	now func() time.Time
}

// CoreOption configures a Core at construction time.
type CoreOption func(*Core)

// WithLogger sets the logger used for daemon-level diagnostics (invariant
// violations, expirer summaries). The packet path itself never logs.
func WithLogger(logger *slog.Logger) CoreOption {
	return func(c *Core) { c.logger = logger }
}

// WithMetrics wires a Prometheus (or any other) metrics reporter.
func WithMetrics(m MetricsReporter) CoreOption {
	return func(c *Core) { c.metrics = m }
}

// WithTimeouts overrides the default session lifetimes.
func WithTimeouts(t Timeouts) CoreOption {
	return func(c *Core) { c.timeouts = t }
}

// WithAddressDependentFiltering enables or disables ADF enforcement on
// v4-initiated TCP SYNs, off by default).
func WithAddressDependentFiltering(enabled bool) CoreOption {
	return func(c *Core) { c.adf = enabled }
}

// WithNAT64Prefix overrides the RFC 6052 prefix used to synthesize and
// strip IPv4-embedded IPv6 addresses. Defaults to the Well-Known Prefix
// 64:ff9b::/96.
func WithNAT64Prefix(prefix netip.Prefix) CoreOption {
	return func(c *Core) { c.prefix = prefix }
}

// withClock overrides the time source; test-only.
func withClock(fn func() time.Time) CoreOption {
	return func(c *Core) { c.now = fn }
}

// NewCore constructs an empty Core ready to serve the packet-path and
// control APIs.
func NewCore(opts ...CoreOption) *Core {
	c := &Core{
		pool:     NewPool(),
		timeouts: DefaultTimeouts(),
		prefix:   wellKnownPrefix,
		logger:   slog.New(slog.DiscardHandler),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for i := range c.bib {
		c.bib[i] = newBIBTable()
		c.sessions[i] = newSessionTable()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Core) timeoutFor(proto Protocol, tcpState TCPState) time.Duration {
	switch proto {
	case ProtoUDP:
		return c.timeouts.UDP
	case ProtoICMP:
		return c.timeouts.ICMP
	case ProtoTCP:
		if tcpState == TCPStateEstablished {
			return c.timeouts.TCPEst
		}
		return c.timeouts.TCPTrans
	default:
		return c.timeouts.UDP
	}
}

func (c *Core) renew(sess *sessionEntry) {
	sess.expires = c.now().Add(c.timeoutFor(sess.proto, sess.tcpState))
}

// logInternal records an INTERNAL-class invariant violation. Production
// code logs and continues rather than panicking. Binding creation also
// returns ErrInternal to its caller; the expirer only logs.
func (c *Core) logInternal(msg string, attrs ...slog.Attr) {
	c.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// synthesizeV6 embeds v4 under prefix (RFC 6052).
func synthesizeV6(prefix netip.Prefix, v4 netip.Addr) netip.Addr {
	base := prefix.Addr().As16()
	v4b := v4.As4()
	copy(base[12:], v4b[:])
	return netip.AddrFrom16(base)
}

// extractV4 strips prefix from a v6 address, returning the embedded IPv4
// address. Fails if v6 is not within prefix.
func extractV4(prefix netip.Prefix, v6 netip.Addr) (netip.Addr, bool) {
	if !prefix.Contains(v6) {
		return netip.Addr{}, false
	}
	b := v6.As16()
	return netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), true
}

// -----------------------------------------------------------------------
// Packet-path API
// -----------------------------------------------------------------------

// HandleOutboundV6 is the packet-path entry point for a v6->v4 packet: it
// returns the (local, remote) IPv4 transport addresses the caller should
// rewrite the packet to, creating a binding and/or session as needed.
func (c *Core) HandleOutboundV6(tuple V6Tuple, flags TCPFlags) (V4Pair, error) {
	if !tuple.Proto.Valid() {
		return V4Pair{}, fmt.Errorf("handle outbound v6: proto %v: %w", tuple.Proto, ErrUnsupportedProto)
	}
	if !tuple.Src.Addr.Is6() || !tuple.Dst.Addr.Is6() {
		return V4Pair{}, fmt.Errorf("handle outbound v6: addresses must be IPv6: %w", ErrBadArg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	proto := tuple.Proto
	tbl := c.sessions[proto]
	v6Pair := V6Pair{Local: tuple.Src, Remote: tuple.Dst}

	if sess, ok := tbl.lookupByV6(v6Pair); ok {
		if proto == ProtoTCP {
			if event, has := classifyTCPEvent(true, flags); has {
				if next, changed := applyTCPEvent(sess.tcpState, event); changed {
					sess.tcpState = next
				}
			}
		}
		c.renew(sess)
		return sess.v4, nil
	}

	v4Remote, ok := extractV4(c.prefix, tuple.Dst.Addr)
	if !ok {
		return V4Pair{}, fmt.Errorf("handle outbound v6: dst %s outside NAT64 prefix %s: %w", tuple.Dst.Addr, c.prefix, ErrBadArg)
	}

	entry, err := c.acquireBinding(proto, tuple.Src)
	if err != nil {
		return V4Pair{}, err
	}

	v4Pair := V4Pair{
		Local:  entry.v4,
		Remote: V4Transport{Addr: v4Remote, Port: tuple.Dst.Port},
	}

	sess := &sessionEntry{v6: v6Pair, v4: v4Pair, proto: proto, bib: entry}
	if proto == ProtoTCP {
		sess.tcpState = TCPStateV6Init
	}
	c.renew(sess)

	tbl.add(sess)
	entry.sessions[sess] = struct{}{}
	c.metrics.IncSessionsCreated(proto)

	return v4Pair, nil
}

// HandleInboundV4 is the packet-path entry point for a v4->v6 packet.
func (c *Core) HandleInboundV4(tuple V4Tuple, flags TCPFlags) (V6Pair, error) {
	if !tuple.Proto.Valid() {
		return V6Pair{}, fmt.Errorf("handle inbound v4: proto %v: %w", tuple.Proto, ErrUnsupportedProto)
	}
	if !tuple.Src.Addr.Is4() || !tuple.Dst.Addr.Is4() {
		return V6Pair{}, fmt.Errorf("handle inbound v4: addresses must be IPv4: %w", ErrBadArg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	proto := tuple.Proto
	tbl := c.sessions[proto]
	v4Pair := V4Pair{Local: tuple.Dst, Remote: tuple.Src}

	if sess, ok := tbl.lookupByV4(v4Pair); ok {
		if proto == ProtoTCP {
			if event, has := classifyTCPEvent(false, flags); has {
				if next, changed := applyTCPEvent(sess.tcpState, event); changed {
					sess.tcpState = next
				}
			}
		}
		c.renew(sess)
		return sess.v6, nil
	}

	entry, ok := c.bib[proto].getByV4(tuple.Dst)
	if !ok {
		return V6Pair{}, fmt.Errorf("handle inbound v4 %+v: %w", tuple, ErrNoBinding)
	}

	if proto != ProtoTCP {
		// Non-goal: IPv4-initiated connection establishment for UDP/ICMP.
		return V6Pair{}, fmt.Errorf("handle inbound v4 %+v: %w", tuple, ErrNoBinding)
	}

	if !entry.static {
		// Non-goal: v4-initiated TCP establishment only via static bindings.
		return V6Pair{}, fmt.Errorf("handle inbound v4 %+v: %w", tuple, ErrNoBinding)
	}
	if !flags.SYN {
		return V6Pair{}, fmt.Errorf("handle inbound v4 %+v: %w", tuple, ErrNoSession)
	}
	if c.adf && !tbl.allow(tuple.Dst) {
		return V6Pair{}, fmt.Errorf("handle inbound v4 %+v: filtered: %w", tuple, ErrNoSession)
	}

	v6Pair := V6Pair{
		Local:  entry.v6,
		Remote: V6Transport{Addr: synthesizeV6(c.prefix, tuple.Src.Addr), Port: tuple.Src.Port},
	}

	sess := &sessionEntry{v6: v6Pair, v4: v4Pair, proto: proto, bib: entry, tcpState: TCPStateV4Init}
	c.renew(sess)

	tbl.add(sess)
	entry.sessions[sess] = struct{}{}
	c.metrics.IncSessionsCreated(proto)

	return v6Pair, nil
}

// acquireBinding returns the existing binding for v6Src if any, else
// creates one.
func (c *Core) acquireBinding(proto Protocol, v6Src V6Transport) (*bibEntry, error) {
	if e, ok := c.bib[proto].getByV6(v6Src); ok {
		return e, nil
	}
	return c.createBinding(proto, v6Src, false)
}

func (c *Core) createBinding(proto Protocol, v6Src V6Transport, isRetry bool) (*bibEntry, error) {
	var (
		v4  V4Transport
		got bool
	)
	if existing, found := c.bib[proto].getByV6AddrOnly(v6Src.Addr); found {
		v4, got = c.pool.GetSimilar(proto, existing.v4.Addr, v6Src.Port)
	} else {
		v4, got = c.pool.GetAny(proto, v6Src.Port)
	}
	if !got {
		c.metrics.IncPoolExhausted(proto)
		return nil, fmt.Errorf("acquire binding for %+v: %w", v6Src, ErrPoolExhausted)
	}

	entry := &bibEntry{v6: v6Src, v4: v4, proto: proto, sessions: make(map[*sessionEntry]struct{})}
	if err := c.bib[proto].add(entry); err != nil {
		c.pool.Put(proto, v4)
		if isRetry {
			c.logInternal("binding insert collided on retry",
				slog.String("proto", proto.String()),
				slog.Any("v6", v6Src),
				slog.Any("v4", v4),
			)
			return nil, fmt.Errorf("acquire binding for %+v: %w", v6Src, ErrInternal)
		}
		return c.createBinding(proto, v6Src, true)
	}

	c.metrics.IncBindingsCreated(proto)
	return entry, nil
}

// -----------------------------------------------------------------------
// Expiration, Section 5)
// -----------------------------------------------------------------------

// ExpireDue reaps every session across all protocols whose deadline has
// passed as of now, releasing the write lock between batches of batchSize
// (<=0 uses DefaultExpirerBatchSize) to bound packet-path latency. Returns
// the total number of sessions reaped.
func (c *Core) ExpireDue(now time.Time, batchSize int) int {
	if batchSize <= 0 {
		batchSize = DefaultExpirerBatchSize
	}
	total := 0
	for proto := Protocol(0); proto < numProtocols; proto++ {
		total += c.expireProtocol(proto, now, batchSize)
	}
	return total
}

func (c *Core) expireProtocol(proto Protocol, now time.Time, batchSize int) int {
	total := 0
	for {
		n := c.expireBatch(proto, now, batchSize)
		total += n
		if n < batchSize {
			return total
		}
	}
}

func (c *Core) expireBatch(proto Protocol, now time.Time, batchSize int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	tbl := c.sessions[proto]
	batch := make([]*sessionEntry, 0, batchSize)
	tbl.forEach(func(s *sessionEntry) {
		if len(batch) >= batchSize {
			return
		}
		if !s.expires.After(now) {
			batch = append(batch, s)
		}
	})

	for _, sess := range batch {
		c.destroySessionLocked(sess)
	}
	return len(batch)
}

// destroySessionLocked detaches sess from its session table and binding.
// If the binding is dynamic and now has no sessions, it is removed and its
// IPv4 transport address is returned to the pool. Must be called with
// c.mu held.
func (c *Core) destroySessionLocked(sess *sessionEntry) {
	proto := sess.proto
	c.sessions[proto].remove(sess)

	entry := sess.bib
	delete(entry.sessions, sess)
	c.metrics.IncSessionsExpired(proto)

	if !entry.static && len(entry.sessions) == 0 {
		v6Removed, v4Removed := c.bib[proto].remove(entry)
		if v6Removed != v4Removed {
			c.logInternal("bib entry removed from only one index",
				slog.String("proto", proto.String()),
				slog.Bool("v6_removed", v6Removed),
				slog.Bool("v4_removed", v4Removed),
			)
		}
		c.pool.Put(proto, entry.v4)
		c.metrics.IncBindingsDestroyed(proto)
	}
}

// RunExpirer runs ExpireDue on interval until ctx is cancelled. Intended to
// be launched as a single long-lived goroutine by the daemon.
func (c *Core) RunExpirer(ctx context.Context, interval time.Duration, batchSize int) {
	if interval <= 0 {
		interval = DefaultExpirerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.ExpireDue(c.now(), batchSize); n > 0 {
				c.logger.Debug("expired sessions", slog.Int("count", n))
			}
		}
	}
}
