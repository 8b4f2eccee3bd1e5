package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer is a framework-agnostic HTTP transport listener using
// Server-Sent Events for the server-to-client direction and HTTP POST for
// the client-to-server direction.
//
// Mount HandleSSE on the stream endpoint and HandleMessage on the message
// endpoint; each connecting client becomes one Transport yielded by
// AcceptPeer. Create instances with NewSSEServer and release them with
// Shutdown.
type SSEServer struct {
	messageURL string
	logger     *slog.Logger

	conns chan *sseServerConn

	mu      sync.Mutex
	byID    map[string]*sseServerConn
	done    chan struct{}
	closeMu sync.Once
}

// NewSSEServer creates a listener whose clients post their messages to
// messageURL. A nil logger falls back to slog.Default.
func NewSSEServer(messageURL string, logger *slog.Logger) *SSEServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEServer{
		messageURL: messageURL,
		logger:     logger.With(slog.String("component", "sse-server")),
		conns:      make(chan *sseServerConn, 5),
		byID:       make(map[string]*sseServerConn),
		done:       make(chan struct{}),
	}
}

// AcceptPeer implements Listener, yielding one Transport per connected
// client.
func (s *SSEServer) AcceptPeer(ctx context.Context) (Transport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("sse server closed")
	case conn := <-s.conns:
		return conn, nil
	}
}

// Shutdown implements Listener, closing every live connection.
func (s *SSEServer) Shutdown(_ context.Context) error {
	s.closeMu.Do(func() {
		close(s.done)

		s.mu.Lock()
		conns := make([]*sseServerConn, 0, len(s.byID))
		for _, conn := range s.byID {
			conns = append(conns, conn)
		}
		s.mu.Unlock()

		for _, conn := range conns {
			conn.Close()
		}
	})
	return nil
}

// HandleSSE returns the http.Handler for the stream endpoint. It upgrades
// GET requests to SSE, assigns the connection a session ID, and tells the
// client its message endpoint through an "endpoint" event. The HTTP request
// blocks until the connection closes.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", err.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		endpoint := sse.Message{Type: sse.Type("endpoint")}
		endpoint.AppendData(fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID))
		if err := sess.Send(&endpoint); err != nil {
			s.logger.Error("failed to write endpoint event", slog.String("err", err.Error()))
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush endpoint event", slog.String("err", err.Error()))
			return
		}

		conn := &sseServerConn{
			id:       sessID,
			sess:     sess,
			logger:   s.logger,
			sendMsgs: make(chan sseSendMsg, 5),
			received: make(chan []byte, 5),
			done:     make(chan struct{}),
		}

		s.mu.Lock()
		s.byID[sessID] = conn
		s.mu.Unlock()

		go conn.processSendMessages()

		select {
		case s.conns <- conn:
		case <-s.done:
			conn.Close()
			return
		}

		// Keep the HTTP request open for the lifetime of the stream.
		select {
		case <-conn.done:
		case <-r.Context().Done():
			conn.Close()
		case <-s.done:
			conn.Close()
		}

		s.mu.Lock()
		delete(s.byID, sessID)
		s.mu.Unlock()
	})
}

// HandleMessage returns the http.Handler for the message endpoint. It
// expects a sessionID query parameter and a frame in the request body, and
// routes the frame to the matching connection's Receive stream.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		conn, ok := s.byID[sessID]
		s.mu.Unlock()
		if !ok {
			// Session might already be closed.
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		frame, err := io.ReadAll(r.Body)
		if err != nil {
			s.logger.Warn("failed to read message body", slog.String("err", err.Error()))
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		select {
		case conn.received <- frame:
		case <-conn.done:
			http.Error(w, "session closed", http.StatusGone)
		}
	})
}

type sseServerConn struct {
	id       string
	sess     *sse.Session
	logger   *slog.Logger
	sendMsgs chan sseSendMsg
	received chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

type sseSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

func (c *sseServerConn) Send(ctx context.Context, frame []byte) error {
	msg := &sse.Message{Type: sse.Type("message")}
	msg.AppendData(string(frame))

	errs := make(chan error, 1)

	// Queue the message to avoid racing inside the sse library.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("sse session closed")
	case c.sendMsgs <- sseSendMsg{msg, errs}:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("sse session closed")
	case err := <-errs:
		return err
	}
}

func (c *sseServerConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errors.New("sse session closed")
	case frame := <-c.received:
		return frame, nil
	}
}

func (c *sseServerConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *sseServerConn) processSendMessages() {
	for {
		select {
		case <-c.done:
			return
		case sm := <-c.sendMsgs:
			err := c.sess.Send(sm.msg)
			if err == nil {
				err = c.sess.Flush()
			}
			if err != nil {
				c.logger.Warn("failed to send sse message",
					slog.String("session", c.id), slog.String("err", err.Error()))
			}
			select {
			case sm.errs <- err:
			default:
			}
		}
	}
}

// SSEClient dials an SSEServer: a GET on connectURL opens the event stream,
// the server's "endpoint" event supplies the POST URL for outgoing frames.
// Create instances with NewSSEClient; each Dial produces an independent
// connection.
type SSEClient struct {
	connectURL     string
	httpClient     *http.Client
	logger         *slog.Logger
	maxPayloadSize int
}

// SSEClientOption configures an SSEClient.
type SSEClientOption func(*SSEClient)

// WithSSEClientMaxPayloadSize caps the size of a single event read from the
// stream. Oversized events fail the connection.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		s.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger. Defaults to slog.Default.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger
	}
}

// NewSSEClient creates a dialer for the given stream URL. A nil httpClient
// falls back to http.DefaultClient.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		connectURL: connectURL,
		httpClient: cli,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "sse-client"))
	return s
}

// Dial implements Dialer. It opens the event stream and waits for the
// server's endpoint event before returning the connection.
func (s *SSEClient) Dial(ctx context.Context) (Transport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req) //nolint:bodyclose // closed by the read loop
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	conn := &sseClientConn{
		httpClient: s.httpClient,
		logger:     s.logger,
		body:       resp.Body,
		frames:     make(chan sseClientFrame),
		ready:      make(chan error, 1),
		done:       make(chan struct{}),
	}

	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{MaxEventSize: s.maxPayloadSize}
	}
	go conn.listenSSEMessages(config)

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	case err := <-conn.ready:
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

type sseClientConn struct {
	httpClient *http.Client
	logger     *slog.Logger
	body       io.ReadCloser
	frames     chan sseClientFrame
	ready      chan error

	mu         sync.Mutex
	messageURL string

	done      chan struct{}
	closeOnce sync.Once
}

type sseClientFrame struct {
	frame []byte
	err   error
}

func (c *sseClientConn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	messageURL := c.messageURL
	c.mu.Unlock()
	if messageURL == "" {
		return errors.New("no message endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func (c *sseClientConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errors.New("sse connection closed")
	case f := <-c.frames:
		if f.err != nil {
			return nil, f.err
		}
		return f.frame, nil
	}
}

func (c *sseClientConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.body.Close()
	})
	return nil
}

func (c *sseClientConn) listenSSEMessages(config *sse.ReadConfig) {
	defer c.body.Close()

	endpointReceived := false
	for ev, err := range sse.Read(c.body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Error("failed to read SSE message", slog.String("err", err.Error()))
			}
			c.fail(endpointReceived, fmt.Errorf("sse stream: %w", err))
			return
		}

		switch ev.Type {
		case "endpoint":
			u, err := url.Parse(ev.Data)
			if err != nil {
				c.ready <- fmt.Errorf("parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				c.ready <- errors.New("empty endpoint URL")
				return
			}
			c.mu.Lock()
			c.messageURL = u.String()
			c.mu.Unlock()
			endpointReceived = true
			c.ready <- nil
		case "message":
			select {
			case c.frames <- sseClientFrame{frame: []byte(ev.Data)}:
			case <-c.done:
				return
			}
		default:
			c.logger.Error("unhandled event type", slog.String("type", string(ev.Type)))
		}
	}

	c.fail(endpointReceived, errors.New("sse stream ended"))
}

// fail reports a stream failure. Before the endpoint event arrives the only
// listener is Dial waiting on ready; afterwards it is Receive.
func (c *sseClientConn) fail(endpointReceived bool, err error) {
	if !endpointReceived {
		c.ready <- err
		return
	}
	select {
	case c.frames <- sseClientFrame{err: err}:
	case <-c.done:
	}
}
