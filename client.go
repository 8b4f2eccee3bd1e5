package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is a protocol session against one server. It owns the connection
// lifecycle: Connect dials and handshakes, call-style operations correlate
// requests with replies, a heartbeat loop supervises connection health, and
// a lost connection triggers automatic redialing with exponential backoff.
//
// A Client must be created with NewClient and connected with Connect before
// any operation. Disconnect closes the session for good; a session that
// exhausted its reconnection attempts ends in StateDisconnected.
type Client struct {
	info   Info
	dialer Dialer
	logger *slog.Logger

	callTimeout          time.Duration
	sendTimeout          time.Duration
	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int

	reconnectBaseDelay   time.Duration
	reconnectMultiplier  float64
	reconnectMaxDelay    time.Duration
	reconnectMaxAttempts int

	stateObserver             StateObserver
	progressListener          ProgressListener
	logReceiver               LogReceiver
	toolListWatcher           ToolListWatcher
	resourceListWatcher       ResourceListWatcher
	resourceSubscribedWatcher ResourceSubscribedWatcher
	promptListWatcher         PromptListWatcher

	mu                 sync.Mutex
	state              SessionState
	conn               *clientConn
	serverInfo         Info
	serverCapabilities ServerCapabilities
	instructions       string

	done      chan struct{}
	closeOnce sync.Once
}

// clientConn bundles the state of one live connection. A reconnect replaces
// the whole bundle, so stale loops can recognize themselves by pointer.
type clientConn struct {
	transport  Transport
	correlator *Correlator
	cancel     context.CancelFunc
	writeMu    sync.Mutex
}

var (
	defaultClientCallTimeout          = 30 * time.Second
	defaultClientSendTimeout          = 30 * time.Second
	defaultClientPingInterval         = 30 * time.Second
	defaultClientPingTimeout          = 5 * time.Second
	defaultClientPingTimeoutThreshold = 3

	defaultReconnectBaseDelay   = 1 * time.Second
	defaultReconnectMultiplier  = 2.0
	defaultReconnectMaxDelay    = 30 * time.Second
	defaultReconnectMaxAttempts = 5
)

// WithClientCallTimeout sets the default deadline of call-style operations.
func WithClientCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithClientSendTimeout sets the write timeout for outgoing frames.
func WithClientSendTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.sendTimeout = timeout
	}
}

// WithClientPingInterval sets the heartbeat interval.
func WithClientPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pingInterval = interval
	}
}

// WithClientPingTimeout sets how long the client waits for a ping reply.
func WithClientPingTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.pingTimeout = timeout
	}
}

// WithClientPingTimeoutThreshold sets the ping timeout threshold. When the
// number of consecutive ping failures exceeds the threshold, the client
// treats the connection as lost.
func WithClientPingTimeoutThreshold(threshold int) ClientOption {
	return func(c *Client) {
		c.pingTimeoutThreshold = threshold
	}
}

// WithClientReconnectBaseDelay sets the delay before the first reconnection
// attempt.
func WithClientReconnectBaseDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectBaseDelay = delay
	}
}

// WithClientReconnectMultiplier sets the factor the delay grows by between
// consecutive reconnection attempts.
func WithClientReconnectMultiplier(multiplier float64) ClientOption {
	return func(c *Client) {
		c.reconnectMultiplier = multiplier
	}
}

// WithClientReconnectMaxDelay caps the delay between reconnection attempts.
func WithClientReconnectMaxDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectMaxDelay = delay
	}
}

// WithClientReconnectMaxAttempts sets how many reconnection attempts are
// made before the session gives up and becomes StateDisconnected.
func WithClientReconnectMaxAttempts(attempts int) ClientOption {
	return func(c *Client) {
		c.reconnectMaxAttempts = attempts
	}
}

// WithStateObserver sets the observer notified on session state changes.
func WithStateObserver(observer StateObserver) ClientOption {
	return func(c *Client) {
		c.stateObserver = observer
	}
}

// WithProgressListener sets the progress listener for the client.
func WithProgressListener(listener ProgressListener) ClientOption {
	return func(c *Client) {
		c.progressListener = listener
	}
}

// WithLogReceiver sets the log receiver for the client.
func WithLogReceiver(receiver LogReceiver) ClientOption {
	return func(c *Client) {
		c.logReceiver = receiver
	}
}

// WithToolListWatcher sets the tool list watcher for the client.
func WithToolListWatcher(watcher ToolListWatcher) ClientOption {
	return func(c *Client) {
		c.toolListWatcher = watcher
	}
}

// WithResourceListWatcher sets the resource list watcher for the client.
func WithResourceListWatcher(watcher ResourceListWatcher) ClientOption {
	return func(c *Client) {
		c.resourceListWatcher = watcher
	}
}

// WithResourceSubscribedWatcher sets the resource subscribe watcher for the client.
func WithResourceSubscribedWatcher(watcher ResourceSubscribedWatcher) ClientOption {
	return func(c *Client) {
		c.resourceSubscribedWatcher = watcher
	}
}

// WithPromptListWatcher sets the prompt list watcher for the client.
func WithPromptListWatcher(watcher PromptListWatcher) ClientOption {
	return func(c *Client) {
		c.promptListWatcher = watcher
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "client"))
	}
}

// NewClient creates a client that dials through the given dialer. The
// client is not connected until Connect is called.
func NewClient(info Info, dialer Dialer, options ...ClientOption) *Client {
	c := &Client{
		info:   info,
		dialer: dialer,
		logger: slog.Default(),
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.callTimeout == 0 {
		c.callTimeout = defaultClientCallTimeout
	}
	if c.sendTimeout == 0 {
		c.sendTimeout = defaultClientSendTimeout
	}
	if c.pingInterval == 0 {
		c.pingInterval = defaultClientPingInterval
	}
	if c.pingTimeout == 0 {
		c.pingTimeout = defaultClientPingTimeout
	}
	if c.pingTimeoutThreshold == 0 {
		c.pingTimeoutThreshold = defaultClientPingTimeoutThreshold
	}
	if c.reconnectBaseDelay == 0 {
		c.reconnectBaseDelay = defaultReconnectBaseDelay
	}
	if c.reconnectMultiplier == 0 {
		c.reconnectMultiplier = defaultReconnectMultiplier
	}
	if c.reconnectMaxDelay == 0 {
		c.reconnectMaxDelay = defaultReconnectMaxDelay
	}
	if c.reconnectMaxAttempts == 0 {
		c.reconnectMaxAttempts = defaultReconnectMaxAttempts
	}

	return c
}

// Connect dials the server, performs the initialization handshake, and
// starts the receive and heartbeat loops. It must be called once before any
// operation; later reconnections happen automatically.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil || c.state != StateDisconnected {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	// Claim the slot before releasing the lock; a concurrent Connect must
	// not dial a second transport.
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect closes the session for good. Pending calls fail with
// ErrClientClosed and no reconnection is attempted.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
	})

	if conn != nil {
		conn.teardown(ErrClientClosed)
	}

	c.notifyState(StateClosed)
	return nil
}

// State returns the session's current lifecycle state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the server's info from the latest handshake.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ServerCapabilities returns the server's capabilities from the latest
// handshake.
func (c *Client) ServerCapabilities() ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCapabilities
}

// Instructions returns the usage instructions the server provided during
// the handshake, if any.
func (c *Client) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, methodPing, nil)
	return err
}

// ListTools retrieves the server's tools.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	var result ListToolsResult
	err := c.callInto(ctx, MethodToolsList, params, &result)
	return result, err
}

// CallTool executes a tool and returns its result. A handler-side failure
// arrives as a result with IsError set; protocol failures are returned as
// errors.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	var result CallToolResult
	err := c.callInto(ctx, MethodToolsCall, params, &result)
	return result, err
}

// ListResources retrieves the server's resources.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	var result ListResourcesResult
	err := c.callInto(ctx, MethodResourcesList, params, &result)
	return result, err
}

// ReadResource reads the contents of a resource by URI.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	var result ReadResourceResult
	err := c.callInto(ctx, MethodResourcesRead, params, &result)
	return result, err
}

// ListResourceTemplates retrieves the server's resource templates.
func (c *Client) ListResourceTemplates(
	ctx context.Context,
	params ListResourceTemplatesParams,
) (ListResourceTemplatesResult, error) {
	var result ListResourceTemplatesResult
	err := c.callInto(ctx, MethodResourcesTemplatesList, params, &result)
	return result, err
}

// SubscribeResource registers for update notifications about a resource.
// Updates arrive through the ResourceSubscribedWatcher, when one was set.
func (c *Client) SubscribeResource(ctx context.Context, params SubscribeResourceParams) error {
	_, err := c.call(ctx, MethodResourcesSubscribe, params)
	return err
}

// UnsubscribeResource removes a resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, params UnsubscribeResourceParams) error {
	_, err := c.call(ctx, MethodResourcesUnsubscribe, params)
	return err
}

// ListPrompts retrieves the server's prompts.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error) {
	var result ListPromptsResult
	err := c.callInto(ctx, MethodPromptsList, params, &result)
	return result, err
}

// GetPrompt renders a prompt template by name.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	var result GetPromptResult
	err := c.callInto(ctx, MethodPromptsGet, params, &result)
	return result, err
}

// SetLogLevel sets the minimum severity of log messages the server streams
// to this client.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	_, err := c.call(ctx, MethodLoggingSetLevel, LogParams{Level: level})
	return err
}

// establish dials and handshakes, then installs the new connection and
// starts its loops.
func (c *Client) establish(ctx context.Context) error {
	c.setState(StateConnecting)

	transport, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.setState(StateHandshaking)

	res, err := c.handshake(ctx, transport)
	if err != nil {
		transport.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	conn := &clientConn{
		transport:  transport,
		correlator: NewCorrelator(c.logger),
		cancel:     cancel,
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		cancel()
		transport.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.serverInfo = res.ServerInfo
	c.serverCapabilities = res.Capabilities
	c.instructions = res.Instructions
	c.mu.Unlock()

	c.setState(StateReady)

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return c.receiveLoop(gCtx, conn)
	})
	g.Go(func() error {
		return c.heartbeatLoop(gCtx, conn)
	})
	go func() {
		err := g.Wait()
		c.onConnectionLost(conn, err)
	}()

	return nil
}

// handshake runs the initialize exchange synchronously. The loops are not
// running yet, so it owns the transport's receive side.
func (c *Client) handshake(ctx context.Context, transport Transport) (initializeResult, error) {
	hsCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	initID := MustString(uuid.New().String())
	paramsBs, err := json.Marshal(initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.info,
	})
	if err != nil {
		return initializeResult{}, fmt.Errorf("failed to marshal initialize params: %w", err)
	}

	frame, err := EncodeMessage(Message{
		JSONRPC: JSONRPCVersion,
		ID:      initID,
		Method:  methodInitialize,
		Params:  paramsBs,
	})
	if err != nil {
		return initializeResult{}, err
	}
	if err := transport.Send(hsCtx, frame); err != nil {
		return initializeResult{}, fmt.Errorf("failed to send initialize request: %w", err)
	}

	var reply Message
	for {
		frame, err := transport.Receive(hsCtx)
		if err != nil {
			return initializeResult{}, fmt.Errorf("failed to receive initialize response: %w", err)
		}
		msgs, _, err := DecodeFrame(frame)
		if err != nil {
			c.logger.Info("dropping undecodable frame during handshake", slog.String("err", err.Error()))
			continue
		}
		found := false
		for _, msg := range msgs {
			if msg.ID == initID && msg.Method == "" {
				reply = msg
				found = true
				break
			}
		}
		if found {
			break
		}
	}

	if reply.Error != nil {
		return initializeResult{}, fmt.Errorf("initialize error: %w", reply.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		return initializeResult{}, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}
	if result.ProtocolVersion != protocolVersion {
		return initializeResult{}, fmt.Errorf("protocol version mismatch: %s != %s",
			result.ProtocolVersion, protocolVersion)
	}

	initialized, err := EncodeMessage(Message{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsInitialized,
	})
	if err != nil {
		return initializeResult{}, err
	}
	if err := transport.Send(hsCtx, initialized); err != nil {
		return initializeResult{}, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	return result, nil
}

func (c *Client) receiveLoop(ctx context.Context, conn *clientConn) error {
	for {
		frame, err := conn.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		msgs, _, err := DecodeFrame(frame)
		if err != nil {
			c.logger.Info("dropping undecodable frame", slog.String("err", err.Error()))
			continue
		}

		for _, msg := range msgs {
			switch msg.Kind() {
			case KindResponse, KindError:
				conn.correlator.Resolve(msg)
			case KindRequest:
				c.handleServerRequest(ctx, conn, msg)
			case KindNotification:
				c.handleNotification(msg)
			}
		}
	}
}

func (c *Client) handleServerRequest(ctx context.Context, conn *clientConn, msg Message) {
	if msg.Method != methodPing {
		c.sendConn(ctx, conn, Message{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error:   &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", msg.Method)},
		})
		return
	}
	c.sendConn(ctx, conn, Message{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
		Result:  json.RawMessage("{}"),
	})
}

func (c *Client) handleNotification(msg Message) {
	switch msg.Method {
	case methodNotificationsToolsListChanged:
		if c.toolListWatcher != nil {
			c.toolListWatcher.OnToolListChanged()
		}
	case methodNotificationsResourcesListChanged:
		if c.resourceListWatcher != nil {
			c.resourceListWatcher.OnResourceListChanged()
		}
	case methodNotificationsResourcesUpdated:
		if c.resourceSubscribedWatcher == nil {
			return
		}
		var params resourceUpdatedParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal resource updated params", slog.String("err", err.Error()))
			return
		}
		c.resourceSubscribedWatcher.OnResourceSubscribedChanged(params.URI)
	case methodNotificationsPromptsListChanged:
		if c.promptListWatcher != nil {
			c.promptListWatcher.OnPromptListChanged()
		}
	case methodNotificationsProgress:
		if c.progressListener == nil {
			return
		}
		var params ProgressParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal progress params", slog.String("err", err.Error()))
			return
		}
		c.progressListener.OnProgress(params)
	case methodNotificationsMessage:
		if c.logReceiver == nil {
			return
		}
		var params LogParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal log params", slog.String("err", err.Error()))
			return
		}
		c.logReceiver.OnLog(params)
	default:
		c.logger.Debug("ignoring notification", slog.String("method", msg.Method))
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *clientConn) error {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	failedPings := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := c.pingConn(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failedPings++
			c.logger.Warn("heartbeat failed",
				slog.Int("consecutive", failedPings),
				slog.String("err", err.Error()))
			if failedPings > c.pingTimeoutThreshold {
				return fmt.Errorf("too many ping failures: %d", failedPings)
			}
			continue
		}
		failedPings = 0
	}
}

func (c *Client) pingConn(ctx context.Context, conn *clientConn) error {
	id := MustString(uuid.New().String())
	outcome := conn.correlator.Register(id, c.pingTimeout)

	if err := c.sendConn(ctx, conn, Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  methodPing,
	}); err != nil {
		conn.correlator.Discard(id)
		return err
	}

	select {
	case <-ctx.Done():
		conn.correlator.Discard(id)
		return ctx.Err()
	case o := <-outcome:
		if o.Err != nil {
			return o.Err
		}
		if o.Message.Error != nil {
			return fmt.Errorf("ping error: %w", o.Message.Error)
		}
		return nil
	}
}

// onConnectionLost runs once the loops of a connection stop. A deliberate
// close is left alone; everything else enters the reconnect loop.
func (c *Client) onConnectionLost(conn *clientConn, cause error) {
	c.mu.Lock()
	if c.conn != conn || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if cause != nil {
		c.logger.Warn("connection lost", slog.String("err", cause.Error()))
	}
	conn.teardown(ErrConnectionLost)

	c.setState(StateReconnecting)
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for attempt := 1; attempt <= c.reconnectMaxAttempts; attempt++ {
		delay := c.backoffDelay(attempt)
		c.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
		err := c.establish(ctx)
		cancel()
		if err == nil {
			c.logger.Info("reconnected", slog.Int("attempt", attempt))
			return
		}
		if errors.Is(err, ErrClientClosed) {
			return
		}
		c.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()))
		c.setState(StateReconnecting)
	}

	c.logger.Error("reconnect attempts exhausted",
		slog.Int("attempts", c.reconnectMaxAttempts))
	c.setState(StateDisconnected)
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(c.reconnectBaseDelay) *
		math.Pow(c.reconnectMultiplier, float64(attempt-1)))
	if delay > c.reconnectMaxDelay {
		delay = c.reconnectMaxDelay
	}
	return delay
}

func (c *Client) callInto(ctx context.Context, method string, params, result any) error {
	res, err := c.call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// call registers the request with the connection's correlator, sends it,
// and waits for the outcome. Cancelling ctx sends a cancellation
// notification so the server can stop the handler.
func (c *Client) call(ctx context.Context, method string, params any) (Message, error) {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil {
		if state == StateClosed {
			return Message{}, ErrClientClosed
		}
		return Message{}, ErrNotConnected
	}

	msg := Message{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(uuid.New().String()),
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}

	outcome := conn.correlator.Register(msg.ID, c.callTimeout)

	if err := c.sendConn(ctx, conn, msg); err != nil {
		conn.correlator.Discard(msg.ID)
		return Message{}, err
	}

	select {
	case <-ctx.Done():
		conn.correlator.Discard(msg.ID)
		c.sendCancellation(conn, string(msg.ID))
		return Message{}, ctx.Err()
	case o := <-outcome:
		if o.Err != nil {
			return Message{}, o.Err
		}
		if o.Message.Error != nil {
			return Message{}, fmt.Errorf("result error: %w", o.Message.Error)
		}
		return o.Message, nil
	}
}

func (c *Client) sendCancellation(conn *clientConn, requestID string) {
	paramsBs, err := json.Marshal(cancelledParams{
		RequestID: requestID,
		Reason:    userCancelledReason,
	})
	if err != nil {
		c.logger.Error("failed to marshal cancelled params", slog.String("err", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()
	if err := c.sendConn(ctx, conn, Message{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsCancelled,
		Params:  paramsBs,
	}); err != nil {
		c.logger.Error("failed to send cancellation", slog.String("err", err.Error()))
	}
}

func (c *Client) sendConn(ctx context.Context, conn *clientConn, msg Message) error {
	frame, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	sCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	return conn.transport.Send(sCtx, frame)
}

func (c *Client) setState(state SessionState) {
	c.mu.Lock()
	if c.state == StateClosed && state != StateClosed {
		c.mu.Unlock()
		return
	}
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.notifyState(state)
}

func (c *Client) notifyState(state SessionState) {
	c.logger.Debug("session state changed", slog.String("state", state.String()))
	if c.stateObserver != nil {
		c.stateObserver.OnSessionStateChange(state)
	}
}

func (conn *clientConn) teardown(cause error) {
	conn.cancel()
	conn.correlator.FailAll(cause)
	conn.transport.Close()
}
