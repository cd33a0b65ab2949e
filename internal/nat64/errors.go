package nat64

import "errors"

// Sentinel errors implementing the taxonomy of the error handling design:
// values returned to the caller, compared with errors.Is, never inspected
// by string.
var (
	// ErrBadArg indicates a null/invalid input from the caller -- a
	// programmer bug in the collaborator, logged loudly by it.
	ErrBadArg = errors.New("bad argument")

	// ErrUnsupportedProto indicates the tuple's protocol tag is not one
	// of UDP/TCP/ICMP.
	ErrUnsupportedProto = errors.New("unsupported protocol")

	// ErrPoolExhausted indicates no compatible IPv4 identifier is
	// available; the collaborator should emit an ICMP host-unreachable.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrNoBinding indicates a v4-initiated packet arrived with no
	// existing BIB entry for its destination transport address.
	ErrNoBinding = errors.New("no binding")

	// ErrNoSession indicates a binding exists but no session matches,
	// and the packet does not qualify to start one.
	ErrNoSession = errors.New("no session")

	// ErrInternal indicates an invariant violation -- e.g. a binding
	// found in one index but not the other. Logged and returned rather
	// than panicking in production; tests assert on this value directly.
	ErrInternal = errors.New("internal invariant violation")

	// ErrAddressExists indicates Pool.Register was called with an
	// address already registered.
	ErrAddressExists = errors.New("address already registered")

	// ErrAddressNotFound indicates Pool.Remove was called with an
	// address that is not registered.
	ErrAddressNotFound = errors.New("address not registered")

	// ErrIdentifierTaken indicates Pool.GetSpecific was asked for an
	// identifier already lent out.
	ErrIdentifierTaken = errors.New("identifier already in use")

	// ErrBindingExists indicates a BIB insert collided on the v6 or the
	// v4 index.
	ErrBindingExists = errors.New("binding already exists")

	// ErrBindingNotFound indicates a control-plane lookup found no
	// matching BIB entry.
	ErrBindingNotFound = errors.New("binding not found")

	// ErrBindingNotStatic indicates an operation that only applies to
	// static bindings was attempted against a dynamic one.
	ErrBindingNotStatic = errors.New("binding is not static")
)
