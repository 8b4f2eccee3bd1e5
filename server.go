package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server dispatches protocol requests from connected peers to the handlers
// held by its Registry. It accepts connections from a Listener, runs the
// initialization handshake per connection, dispatches each request on its
// own goroutine, and supervises connection health with periodic pings.
//
// Registry mutations made while the server runs are broadcast to every live
// connection as list-changed notifications. Create instances with NewServer.
type Server struct {
	info         Info
	instructions string
	registry     *Registry
	capabilities ServerCapabilities

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	logger *slog.Logger

	onClientConnected    func(connID string, info Info)
	onClientDisconnected func(connID string)

	mu    sync.Mutex
	conns map[string]*serverConn

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

var (
	defaultServerPingInterval         = 30 * time.Second
	defaultServerPingTimeout          = 30 * time.Second
	defaultServerPingTimeoutThreshold = 3
	defaultServerSendTimeout          = 30 * time.Second
)

// NewServer creates a server exposing the capabilities held by registry.
func NewServer(info Info, registry *Registry, options ...ServerOption) *Server {
	s := &Server{
		info:     info,
		registry: registry,
		logger:   slog.Default(),
		conns:    make(map[string]*serverConn),
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.pingInterval == 0 {
		s.pingInterval = defaultServerPingInterval
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultServerPingTimeout
	}
	if s.pingTimeoutThreshold == 0 {
		s.pingTimeoutThreshold = defaultServerPingTimeoutThreshold
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	s.capabilities = ServerCapabilities{
		Tools:     &ToolsCapability{ListChanged: true},
		Resources: &ResourcesCapability{Subscribe: true, ListChanged: true},
		Prompts:   &PromptsCapability{ListChanged: true},
		Logging:   &LoggingCapability{},
	}

	registry.OnChange(s.broadcastRegistryEvent)

	return s
}

// WithInstructions returns a ServerOption that configures the instructions
// returned to clients during initialization.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithServerPingInterval returns a ServerOption that configures the
// server's ping interval.
func WithServerPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
	}
}

// WithServerPingTimeout returns a ServerOption that configures how long the
// server waits for a ping reply.
func WithServerPingTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = timeout
	}
}

// WithServerPingTimeoutThreshold sets the ping timeout threshold. When the
// number of consecutive ping failures exceeds the threshold, the server
// closes the connection.
func WithServerPingTimeoutThreshold(threshold int) ServerOption {
	return func(s *Server) {
		s.pingTimeoutThreshold = threshold
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's
// send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client completes
// the handshake. The parameters are the connection ID and the client's Info.
func WithServerOnClientConnected(fn func(connID string, info Info)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = fn
	}
}

// WithServerOnClientDisconnected sets the callback for when a connection
// closes.
func WithServerOnClientDisconnected(fn func(connID string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = fn
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// Serve accepts connections from listener until Shutdown is called or the
// listener fails. It blocks for the server's lifetime.
func (s *Server) Serve(listener Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-s.done
		cancel()
	}()

	for {
		transport, err := listener.AcceptPeer(ctx)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return fmt.Errorf("accept peer: %w", err)
		}

		conn := s.newConn(transport)

		s.mu.Lock()
		s.conns[conn.id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			conn.run()

			s.mu.Lock()
			delete(s.conns, conn.id)
			s.mu.Unlock()

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(conn.id)
			}
		}()
	}
}

// Shutdown stops accepting, closes every live connection, and waits for
// in-flight dispatches to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	case <-finished:
		return nil
	}
}

// PublishLog streams a log message to every connection whose configured
// level admits it.
func (s *Server) PublishLog(params LogParams) {
	paramsBs, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("failed to marshal log params", slog.String("err", err.Error()))
		return
	}
	msg := Message{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsMessage,
		Params:  paramsBs,
	}

	for _, conn := range s.servingConns() {
		if params.Level < conn.minLogLevel() {
			continue
		}
		conn.sendAsync(msg)
	}
}

func (s *Server) servingConns() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*serverConn, 0, len(s.conns))
	for _, conn := range s.conns {
		if conn.serving() {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (s *Server) broadcastRegistryEvent(ev RegistryEvent) {
	var msg Message
	switch ev.Kind {
	case RegistryEventTools:
		msg = Message{JSONRPC: JSONRPCVersion, Method: methodNotificationsToolsListChanged}
	case RegistryEventResources:
		msg = Message{JSONRPC: JSONRPCVersion, Method: methodNotificationsResourcesListChanged}
	case RegistryEventPrompts:
		msg = Message{JSONRPC: JSONRPCVersion, Method: methodNotificationsPromptsListChanged}
	case RegistryEventResourceUpdated:
		paramsBs, err := json.Marshal(resourceUpdatedParams{URI: ev.URI})
		if err != nil {
			s.logger.Error("failed to marshal resource updated params", slog.String("err", err.Error()))
			return
		}
		msg = Message{
			JSONRPC: JSONRPCVersion,
			Method:  methodNotificationsResourcesUpdated,
			Params:  paramsBs,
		}
	default:
		return
	}

	for _, conn := range s.servingConns() {
		if ev.Kind == RegistryEventResourceUpdated && !conn.subscribed(ev.URI) {
			continue
		}
		conn.sendAsync(msg)
	}
}

type serverConn struct {
	id        string
	transport Transport
	server    *Server
	logger    *slog.Logger

	correlator *Correlator

	writeMu sync.Mutex

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	phase         connPhase
	clientInfo    Info
	cancels       map[MustString]context.CancelFunc
	subscriptions map[string]struct{}
	logLevel      LogLevel

	servingCh chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	pingSeq   int
	pingMu    sync.Mutex
}

type connPhase int

const (
	phaseAwaitingHandshake connPhase = iota
	phaseInitialized
	phaseServing
)

func (s *Server) newConn(transport Transport) *serverConn {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &serverConn{
		id:            id,
		transport:     transport,
		server:        s,
		logger:        s.logger.With(slog.String("connID", id)),
		correlator:    NewCorrelator(s.logger),
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		cancels:       make(map[MustString]context.CancelFunc),
		subscriptions: make(map[string]struct{}),
		logLevel:      LogLevelDebug,
		servingCh:     make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (c *serverConn) run() {
	defer c.close()

	go c.ping()

	for {
		frame, err := c.transport.Receive(c.baseCtx)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Info("connection lost", slog.String("err", err.Error()))
			}
			return
		}

		msgs, isBatch, err := c.decode(frame)
		if err != nil {
			// Reply already sent by decode; the connection stays open.
			continue
		}

		if isBatch {
			go c.dispatchBatch(msgs)
			continue
		}
		go c.dispatchOne(msgs[0])
	}
}

func (c *serverConn) decode(frame []byte) ([]Message, bool, error) {
	msgs, isBatch, err := DecodeFrame(frame)
	if err == nil {
		if isBatch && len(msgs) == 0 {
			c.sendRaw(encodeNullIDError(CodeInvalidRequest, "empty batch"))
			return nil, true, errors.New("empty batch")
		}
		return msgs, isBatch, nil
	}

	var invalid *InvalidEnvelopeError
	if errors.As(err, &invalid) {
		c.logger.Info("invalid envelope", slog.String("err", invalid.Reason))
		if invalid.ID != "" {
			c.send(Message{
				JSONRPC: JSONRPCVersion,
				ID:      invalid.ID,
				Error:   &Error{Code: CodeInvalidRequest, Message: invalid.Reason},
			})
		} else {
			c.sendRaw(encodeNullIDError(CodeInvalidRequest, invalid.Reason))
		}
		return nil, isBatch, err
	}

	c.logger.Info("failed to parse frame", slog.String("err", err.Error()))
	c.sendRaw(encodeNullIDError(CodeParseError, "invalid json"))
	return nil, isBatch, err
}

func (c *serverConn) dispatchOne(msg Message) {
	switch msg.Kind() {
	case KindRequest:
		if reply := c.handleRequest(msg); reply != nil {
			c.send(*reply)
		}
	case KindNotification:
		c.handleNotification(msg)
	case KindResponse, KindError:
		c.correlator.Resolve(msg)
	}
}

// dispatchBatch runs every member concurrently and replies with one array
// frame holding the non-notification replies, in completion order.
func (c *serverConn) dispatchBatch(msgs []Message) {
	var (
		mu      sync.Mutex
		replies Batch
	)

	g := new(errgroup.Group)
	for _, msg := range msgs {
		g.Go(func() error {
			switch msg.Kind() {
			case KindRequest:
				if reply := c.handleRequest(msg); reply != nil {
					mu.Lock()
					replies = append(replies, *reply)
					mu.Unlock()
				}
			case KindNotification:
				c.handleNotification(msg)
			case KindResponse, KindError:
				c.correlator.Resolve(msg)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(replies) == 0 {
		return
	}

	frame, err := EncodeBatch(replies)
	if err != nil {
		c.logger.Error("failed to encode batch reply", slog.String("err", err.Error()))
		return
	}
	c.sendRaw(frame)
}

func (c *serverConn) handleRequest(msg Message) *Message {
	switch msg.Method {
	case methodPing:
		return &Message{JSONRPC: JSONRPCVersion, ID: msg.ID, Result: json.RawMessage("{}")}
	case methodInitialize:
		return c.handleInitialize(msg)
	}

	if !c.serving() {
		return &Message{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error:   &Error{Code: CodeNotInitialized, Message: "session not initialized"},
		}
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.mu.Lock()
	c.cancels[msg.ID] = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, msg.ID)
		c.mu.Unlock()
	}()

	var (
		result any
		err    error
	)

	switch msg.Method {
	case MethodToolsList:
		result, err = c.callListTools(msg)
	case MethodToolsCall:
		result, err = c.callCallTool(ctx, msg)
	case MethodResourcesList:
		result, err = c.callListResources(msg)
	case MethodResourcesRead:
		result, err = c.callReadResource(ctx, msg)
	case MethodResourcesTemplatesList:
		result, err = c.callListResourceTemplates(msg)
	case MethodResourcesSubscribe:
		err = c.callSubscribeResource(msg)
	case MethodResourcesUnsubscribe:
		err = c.callUnsubscribeResource(msg)
	case MethodPromptsList:
		result, err = c.callListPrompts(msg)
	case MethodPromptsGet:
		result, err = c.callGetPrompt(ctx, msg)
	case MethodLoggingSetLevel:
		err = c.callSetLogLevel(msg)
	default:
		return &Message{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error:   &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", msg.Method)},
		}
	}

	reply := &Message{JSONRPC: JSONRPCVersion, ID: msg.ID}
	if err != nil {
		var wireErr *Error
		if !errors.As(err, &wireErr) {
			wireErr = &Error{Code: CodeInternalError, Message: err.Error()}
		}
		c.logger.Error("request failed",
			slog.String("method", msg.Method),
			slog.String("err", err.Error()))
		reply.Error = wireErr
		return reply
	}

	if result == nil {
		result = struct{}{}
	}
	resultBs, mErr := json.Marshal(result)
	if mErr != nil {
		reply.Error = &Error{Code: CodeInternalError, Message: mErr.Error()}
		return reply
	}
	reply.Result = resultBs
	return reply
}

func (c *serverConn) handleNotification(msg Message) {
	switch msg.Method {
	case methodNotificationsInitialized:
		c.mu.Lock()
		if c.phase == phaseInitialized {
			c.phase = phaseServing
			close(c.servingCh)
		}
		c.mu.Unlock()
	case methodNotificationsCancelled:
		var params cancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Info("failed to unmarshal cancelled params", slog.String("err", err.Error()))
			return
		}
		c.mu.Lock()
		cancel, ok := c.cancels[MustString(params.RequestID)]
		c.mu.Unlock()
		if ok {
			cancel()
		}
	default:
		c.logger.Debug("ignoring notification", slog.String("method", msg.Method))
	}
}

func (c *serverConn) handleInitialize(msg Message) *Message {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return &Message{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error: &Error{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("failed to unmarshal params: %v", err),
			},
		}
	}

	if params.ProtocolVersion != protocolVersion {
		c.logger.Info("protocol version mismatch",
			slog.String("client", params.ProtocolVersion),
			slog.String("server", protocolVersion))
		return &Message{
			JSONRPC: JSONRPCVersion,
			ID:      msg.ID,
			Error: &Error{
				Code: CodeInvalidParams,
				Message: fmt.Sprintf("protocol version mismatch: %s != %s",
					params.ProtocolVersion, protocolVersion),
			},
		}
	}

	c.mu.Lock()
	if c.phase == phaseAwaitingHandshake {
		c.phase = phaseInitialized
	}
	c.clientInfo = params.ClientInfo
	c.mu.Unlock()

	if c.server.onClientConnected != nil {
		c.server.onClientConnected(c.id, params.ClientInfo)
	}

	resBs, _ := json.Marshal(initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.server.capabilities,
		ServerInfo:      c.server.info,
		Instructions:    c.server.instructions,
	})
	return &Message{JSONRPC: JSONRPCVersion, ID: msg.ID, Result: resBs}
}

func (c *serverConn) callListTools(msg Message) (ListToolsResult, error) {
	var params ListToolsParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListToolsResult{}, err
	}
	return ListToolsResult{Tools: c.server.registry.Tools()}, nil
}

func (c *serverConn) callCallTool(ctx context.Context, msg Message) (CallToolResult, error) {
	var params CallToolParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return CallToolResult{}, err
	}
	return c.server.registry.CallTool(ctx, params, c.progressReporter(params.Meta.ProgressToken))
}

func (c *serverConn) callListResources(msg Message) (ListResourcesResult, error) {
	var params ListResourcesParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListResourcesResult{}, err
	}
	return ListResourcesResult{Resources: c.server.registry.Resources()}, nil
}

func (c *serverConn) callReadResource(ctx context.Context, msg Message) (ReadResourceResult, error) {
	var params ReadResourceParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ReadResourceResult{}, err
	}
	return c.server.registry.ReadResource(ctx, params, c.progressReporter(params.Meta.ProgressToken))
}

func (c *serverConn) callListResourceTemplates(msg Message) (ListResourceTemplatesResult, error) {
	var params ListResourceTemplatesParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListResourceTemplatesResult{}, err
	}
	return ListResourceTemplatesResult{Templates: c.server.registry.ResourceTemplates()}, nil
}

func (c *serverConn) callSubscribeResource(msg Message) error {
	var params SubscribeResourceParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return err
	}
	if _, ok := c.server.registry.Resource(params.URI); !ok {
		return &Error{
			Code:    CodeResourceNotFound,
			Message: fmt.Sprintf("resource not found: %s", params.URI),
		}
	}
	c.mu.Lock()
	c.subscriptions[params.URI] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *serverConn) callUnsubscribeResource(msg Message) error {
	var params UnsubscribeResourceParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.subscriptions, params.URI)
	c.mu.Unlock()
	return nil
}

func (c *serverConn) callListPrompts(msg Message) (ListPromptsResult, error) {
	var params ListPromptsParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return ListPromptsResult{}, err
	}
	return ListPromptsResult{Prompts: c.server.registry.Prompts()}, nil
}

func (c *serverConn) callGetPrompt(ctx context.Context, msg Message) (GetPromptResult, error) {
	var params GetPromptParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return GetPromptResult{}, err
	}
	return c.server.registry.GetPrompt(ctx, params, c.progressReporter(params.Meta.ProgressToken))
}

func (c *serverConn) callSetLogLevel(msg Message) error {
	var params LogParams
	if err := unmarshalParams(msg.Params, &params); err != nil {
		return err
	}
	c.mu.Lock()
	c.logLevel = params.Level
	c.mu.Unlock()
	return nil
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &Error{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("failed to unmarshal params: %v", err),
		}
	}
	return nil
}

// progressReporter builds the callback handed to handlers. Updates are
// dropped when the request carried no progress token.
func (c *serverConn) progressReporter(token MustString) ProgressReporter {
	return func(params ProgressParams) {
		if token == "" {
			return
		}
		params.ProgressToken = token
		paramsBs, err := json.Marshal(params)
		if err != nil {
			c.logger.Error("failed to marshal progress params", slog.String("err", err.Error()))
			return
		}
		c.send(Message{
			JSONRPC: JSONRPCVersion,
			Method:  methodNotificationsProgress,
			Params:  paramsBs,
		})
	}
}

// ping supervises the connection's health once it is serving. Consecutive
// failures beyond the threshold close the connection.
func (c *serverConn) ping() {
	select {
	case <-c.done:
		return
	case <-c.servingCh:
	}

	ticker := time.NewTicker(c.server.pingInterval)
	defer ticker.Stop()

	failedPings := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if err := c.pingOnce(); err != nil {
			failedPings++
			c.logger.Warn("ping failed",
				slog.Int("consecutive", failedPings),
				slog.String("err", err.Error()))
			if failedPings > c.server.pingTimeoutThreshold {
				c.logger.Warn("too many pings failed, closing connection")
				c.close()
				return
			}
			continue
		}
		failedPings = 0
	}
}

func (c *serverConn) pingOnce() error {
	c.pingMu.Lock()
	c.pingSeq++
	id := MustString(fmt.Sprintf("s-%d", c.pingSeq))
	c.pingMu.Unlock()

	outcome := c.correlator.Register(id, c.server.pingTimeout)

	if err := c.send(Message{JSONRPC: JSONRPCVersion, ID: id, Method: methodPing}); err != nil {
		c.correlator.Discard(id)
		return err
	}

	select {
	case <-c.done:
		return errors.New("connection closed")
	case o := <-outcome:
		return o.Err
	}
}

func (c *serverConn) send(msg Message) error {
	frame, err := EncodeMessage(msg)
	if err != nil {
		c.logger.Error("failed to encode message", slog.String("err", err.Error()))
		return err
	}
	return c.sendRaw(frame)
}

func (c *serverConn) sendRaw(frame []byte) error {
	ctx, cancel := context.WithTimeout(c.baseCtx, c.server.sendTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.transport.Send(ctx, frame); err != nil {
		c.logger.Error("failed to send frame", slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (c *serverConn) sendAsync(msg Message) {
	go func() {
		_ = c.send(msg)
	}()
}

func (c *serverConn) serving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseServing
}

func (c *serverConn) subscribed(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[uri]
	return ok
}

func (c *serverConn) minLogLevel() LogLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logLevel
}

func (c *serverConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.baseCancel()
		c.correlator.FailAll(ErrConnectionLost)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("failed to close transport", slog.String("err", err.Error()))
		}
	})
}
