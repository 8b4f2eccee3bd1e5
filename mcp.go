package mcp

import (
	"context"
)

// Transport carries opaque byte frames between two peers. Implementations
// must support one concurrent Receive and serialize Send calls internally;
// the engine never calls Send concurrently for one transport.
type Transport interface {
	// Send transmits one frame. It blocks until the frame is handed to the
	// carrier or ctx is done.
	Send(ctx context.Context, frame []byte) error

	// Receive blocks until a frame arrives, ctx is done, or the carrier
	// fails. A carrier error is terminal: every subsequent call returns an
	// error and the connection must be torn down.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the carrier. Pending Send and Receive calls unblock
	// with errors. Safe to call more than once.
	Close() error
}

// Listener accepts inbound peer connections for a server.
type Listener interface {
	// AcceptPeer blocks until a new peer connects or ctx is done. Each call
	// returns a distinct Transport.
	AcceptPeer(ctx context.Context) (Transport, error)

	// Shutdown stops accepting and releases listener resources. Transports
	// already accepted stay usable until individually closed.
	Shutdown(ctx context.Context) error
}

// Dialer produces a fresh Transport per connection attempt. The client
// session calls Dial once on Connect and once per reconnection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// ToolHandler executes a tool invocation. The context is derived from the
// connection and is cancelled when the caller sends a cancellation
// notification or the connection goes down; a caller-side timeout alone does
// not cancel it. A returned error becomes a CallToolResult with IsError set,
// not a wire error.
type ToolHandler interface {
	CallTool(ctx context.Context, params CallToolParams, progress ProgressReporter) (CallToolResult, error)
}

// ResourceHandler reads the contents of a resource. A returned error becomes
// a wire error response.
type ResourceHandler interface {
	ReadResource(ctx context.Context, params ReadResourceParams, progress ProgressReporter) (ReadResourceResult, error)
}

// PromptHandler renders a prompt template. A returned error becomes a wire
// error response.
type PromptHandler interface {
	GetPrompt(ctx context.Context, params GetPromptParams, progress ProgressReporter) (GetPromptResult, error)
}

// ToolHandlerFunc adapts a function to the ToolHandler interface.
type ToolHandlerFunc func(ctx context.Context, params CallToolParams, progress ProgressReporter) (CallToolResult, error)

// CallTool calls f.
func (f ToolHandlerFunc) CallTool(
	ctx context.Context,
	params CallToolParams,
	progress ProgressReporter,
) (CallToolResult, error) {
	return f(ctx, params, progress)
}

// ResourceHandlerFunc adapts a function to the ResourceHandler interface.
type ResourceHandlerFunc func(ctx context.Context, params ReadResourceParams, progress ProgressReporter) (ReadResourceResult, error)

// ReadResource calls f.
func (f ResourceHandlerFunc) ReadResource(
	ctx context.Context,
	params ReadResourceParams,
	progress ProgressReporter,
) (ReadResourceResult, error) {
	return f(ctx, params, progress)
}

// PromptHandlerFunc adapts a function to the PromptHandler interface.
type PromptHandlerFunc func(ctx context.Context, params GetPromptParams, progress ProgressReporter) (GetPromptResult, error)

// GetPrompt calls f.
func (f PromptHandlerFunc) GetPrompt(
	ctx context.Context,
	params GetPromptParams,
	progress ProgressReporter,
) (GetPromptResult, error) {
	return f(ctx, params, progress)
}

// ProgressReporter reports progress of a long-running operation back to the
// requesting peer. Handlers may call it any number of times, including zero.
// Calls are dropped when the request carried no progress token.
type ProgressReporter func(progress ProgressParams)

// SessionState is the lifecycle state of a client session.
type SessionState int

// Session lifecycle states.
const (
	// StateDisconnected is the initial state, and the terminal state after
	// the reconnection attempt cap is exhausted.
	StateDisconnected SessionState = iota
	// StateConnecting means a transport dial is in flight.
	StateConnecting
	// StateHandshaking means the transport is up and the initialize exchange
	// is in flight.
	StateHandshaking
	// StateReady means the session is serving calls.
	StateReady
	// StateReconnecting means the connection was lost and the session is
	// backing off between redial attempts.
	StateReconnecting
	// StateClosed means Disconnect was called. No reconnection follows.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateObserver receives client session lifecycle transitions.
type StateObserver interface {
	// OnSessionStateChange is called on every state transition, in order.
	// It must not block; slow observers stall the session loop.
	OnSessionStateChange(state SessionState)
}

// ProgressListener receives progress updates for operations issued by this
// client.
type ProgressListener interface {
	// OnProgress is called when a progress update arrives for an operation.
	OnProgress(params ProgressParams)
}

// LogReceiver receives log messages streamed by the server.
type LogReceiver interface {
	// OnLog is called when a log message arrives from the server.
	OnLog(params LogParams)
}

// ToolListWatcher is notified when the server's tool list changes. Callers
// can refresh their cached tool lists by calling ListTools again.
type ToolListWatcher interface {
	OnToolListChanged()
}

// ResourceListWatcher is notified when the server's resource list changes.
type ResourceListWatcher interface {
	OnResourceListChanged()
}

// ResourceSubscribedWatcher is notified when a resource this client
// subscribed to changes.
type ResourceSubscribedWatcher interface {
	OnResourceSubscribedChanged(uri string)
}

// PromptListWatcher is notified when the server's prompt list changes.
type PromptListWatcher interface {
	OnPromptListChanged()
}
