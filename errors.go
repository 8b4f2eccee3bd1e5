package mcp

import "errors"

// Local outcomes surfaced to callers. These never travel on the wire; they
// describe what happened to a request on this side of the connection.
var (
	// ErrRequestTimeout reports that a request's deadline elapsed before any
	// reply arrived. The request may still complete on the remote side.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnectionLost reports that the transport failed while the request
	// was in flight. Delivered to every pending waiter on teardown.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClientClosed reports that the session was closed deliberately and
	// will not reconnect.
	ErrClientClosed = errors.New("client closed")

	// ErrNotConnected reports an operation attempted while the session has
	// no live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrDuplicateName reports a registration that collides with an existing
	// entry in the same namespace. The existing entry is untouched.
	ErrDuplicateName = errors.New("name already registered")
)
