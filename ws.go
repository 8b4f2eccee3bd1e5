package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSListener is a full-duplex socket transport listener. Mount its
// ServeHTTP on an endpoint; each upgraded connection becomes one Transport
// yielded by AcceptPeer. Create instances with NewWSListener.
type WSListener struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	conns chan *wsConn

	done      chan struct{}
	closeOnce sync.Once
}

// WSListenerOption configures a WSListener.
type WSListenerOption func(*WSListener)

// WithWSCheckOrigin sets the origin check applied during the HTTP upgrade.
// The default accepts any origin.
func WithWSCheckOrigin(check func(r *http.Request) bool) WSListenerOption {
	return func(l *WSListener) {
		l.upgrader.CheckOrigin = check
	}
}

// WithWSListenerLogger sets the logger. Defaults to slog.Default.
func WithWSListenerLogger(logger *slog.Logger) WSListenerOption {
	return func(l *WSListener) {
		l.logger = logger
	}
}

// NewWSListener creates a websocket listener.
func NewWSListener(options ...WSListenerOption) *WSListener {
	l := &WSListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: slog.Default(),
		conns:  make(chan *wsConn, 5),
		done:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "ws-listener"))
	return l
}

// ServeHTTP upgrades the request to a websocket connection and hands it to
// AcceptPeer.
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Error("failed to upgrade connection", slog.String("err", err.Error()))
		return
	}

	conn := newWSConn(ws, l.logger)

	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	case <-r.Context().Done():
		conn.Close()
	}
}

// AcceptPeer implements Listener.
func (l *WSListener) AcceptPeer(ctx context.Context) (Transport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, errors.New("websocket listener closed")
	case conn := <-l.conns:
		return conn, nil
	}
}

// Shutdown implements Listener. Connections already accepted stay usable.
func (l *WSListener) Shutdown(_ context.Context) error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// WSDialer dials a websocket endpoint, producing a fresh Transport per
// attempt.
type WSDialer struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger
}

// WSDialerOption configures a WSDialer.
type WSDialerOption func(*WSDialer)

// WithWSDialerHeader sets extra headers sent with the upgrade request.
func WithWSDialerHeader(header http.Header) WSDialerOption {
	return func(d *WSDialer) {
		d.header = header
	}
}

// WithWSDialerLogger sets the logger. Defaults to slog.Default.
func WithWSDialerLogger(logger *slog.Logger) WSDialerOption {
	return func(d *WSDialer) {
		d.logger = logger
	}
}

// NewWSDialer creates a dialer for the given ws:// or wss:// URL.
func NewWSDialer(url string, options ...WSDialerOption) *WSDialer {
	d := &WSDialer{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "ws-dialer"))
	return d
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("websocket dial %s: status %d: %w", d.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", d.url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	return newWSConn(ws, d.logger), nil
}

type wsConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// The websocket package allows one concurrent writer; writeMu
	// serializes Send.
	writeMu sync.Mutex

	frames chan wsFrame

	done      chan struct{}
	closeOnce sync.Once
}

type wsFrame struct {
	frame []byte
	err   error
}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	c := &wsConn{
		ws:     ws,
		logger: logger,
		frames: make(chan wsFrame),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("websocket connection closed")
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, errors.New("websocket connection closed")
	case f := <-c.frames:
		if f.err != nil {
			return nil, f.err
		}
		return f.frame, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.ws.WriteMessage(websocket.CloseMessage, closeMsg); werr != nil {
			c.logger.Debug("failed to write close message", slog.String("err", werr.Error()))
		}
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readLoop() {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", slog.String("err", err.Error()))
			}
			select {
			case c.frames <- wsFrame{err: fmt.Errorf("read frame: %w", err)}:
			case <-c.done:
			}
			return
		}

		select {
		case c.frames <- wsFrame{frame: frame}:
		case <-c.done:
			return
		}
	}
}
