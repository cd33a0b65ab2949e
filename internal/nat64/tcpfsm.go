package nat64

// This file implements the NAT64 TCP session state machine (RFC 6146
// Section 3.5.2) as a pure function over a transition table -- no side
// effects, no sessionEntry dependency: enums with String() methods, a
// (state, event) struct key, and a package-level transition table.
// Unlisted (state, event) pairs are ignored: the packet renews the
// session timer (handled by the caller) but does not change state.

// tcpEvent is a TCP-state-machine-significant signal extracted from a
// translated segment's flags and the direction it travelled.
type tcpEvent uint8

const (
	// eventOutboundSYN is a SYN on a v6->v4 segment (HandleOutboundV6).
	eventOutboundSYN tcpEvent = iota
	// eventInboundSYN is a SYN on a v4->v6 segment (HandleInboundV4).
	eventInboundSYN
	// eventOutboundFIN is a FIN on a v6->v4 segment.
	eventOutboundFIN
	// eventInboundFIN is a FIN on a v4->v6 segment.
	eventInboundFIN
	// eventOutboundRST is a RST on a v6->v4 segment.
	eventOutboundRST
	// eventInboundRST is a RST on a v4->v6 segment.
	eventInboundRST
)

// String returns the human-readable event name.
func (e tcpEvent) String() string {
	switch e {
	case eventOutboundSYN:
		return "OutboundSYN"
	case eventInboundSYN:
		return "InboundSYN"
	case eventOutboundFIN:
		return "OutboundFIN"
	case eventInboundFIN:
		return "InboundFIN"
	case eventOutboundRST:
		return "OutboundRST"
	case eventInboundRST:
		return "InboundRST"
	default:
		return "Unknown"
	}
}

// classifyTCPEvent maps a segment's direction and flags to the FSM event
// it raises. A plain data/ACK segment (no SYN/FIN/RST) raises no event.
func classifyTCPEvent(outbound bool, flags TCPFlags) (tcpEvent, bool) {
	switch {
	case flags.RST:
		if outbound {
			return eventOutboundRST, true
		}
		return eventInboundRST, true
	case flags.FIN:
		if outbound {
			return eventOutboundFIN, true
		}
		return eventInboundFIN, true
	case flags.SYN:
		if outbound {
			return eventOutboundSYN, true
		}
		return eventInboundSYN, true
	default:
		return 0, false
	}
}

// tcpStateEvent is the FSM transition table key.
type tcpStateEvent struct {
	state TCPState
	event tcpEvent
}

// tcpFSMTable is the complete NAT64 TCP FSM transition table
// (RFC 6146 Section 3.5.2). Every (state, event) pair listed here is a
// valid transition; unlisted pairs leave the state unchanged.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var tcpFSMTable = buildTCPFSMTable()

func buildTCPFSMTable() map[tcpStateEvent]TCPState {
	table := map[tcpStateEvent]TCPState{
		// V6_INIT: session created by a v6->v4 SYN. The matching v4->v6
		// SYN (usually a SYN-ACK) establishes the connection.
		{TCPStateV6Init, eventInboundSYN}: TCPStateEstablished,

		// V4_INIT: session created by an admitted v4->v6 SYN. The
		// matching v6->v4 SYN establishes the connection.
		{TCPStateV4Init, eventOutboundSYN}: TCPStateEstablished,

		// ESTABLISHED: either side's FIN starts the close sequence.
		{TCPStateEstablished, eventInboundFIN}:  TCPStateV4FinRcv,
		{TCPStateEstablished, eventOutboundFIN}: TCPStateV6FinRcv,

		// Simultaneous/sequential close: the second FIN completes it.
		{TCPStateV4FinRcv, eventOutboundFIN}: TCPStateV4FinV6FinRcv,
		{TCPStateV6FinRcv, eventInboundFIN}:  TCPStateV4FinV6FinRcv,
	}

	// RST from either direction forces TRANS regardless of current state.
	for _, s := range []TCPState{
		TCPStateV6Init, TCPStateV4Init, TCPStateEstablished,
		TCPStateV4FinRcv, TCPStateV6FinRcv, TCPStateV4FinV6FinRcv, TCPStateTrans,
	} {
		table[tcpStateEvent{s, eventInboundRST}] = TCPStateTrans
		table[tcpStateEvent{s, eventOutboundRST}] = TCPStateTrans
	}

	return table
}

// applyTCPEvent looks up the transition for (state, event). It returns the
// unchanged state and changed=false for any pair not in the table --
// including duplicate SYNs, data segments misclassified upstream, or a
// FIN arriving a second time from the same direction.
func applyTCPEvent(state TCPState, event tcpEvent) (next TCPState, changed bool) {
	newState, ok := tcpFSMTable[tcpStateEvent{state, event}]
	if !ok {
		return state, false
	}
	return newState, newState != state
}
