package mcp

import (
	"log/slog"
	"sync"
	"time"
)

// Outcome is the final disposition of an outstanding request: either the
// peer's reply or a local error (timeout, connection loss).
type Outcome struct {
	Message Message
	Err     error
}

// Correlator matches replies to the requests that produced them. Register a
// request before sending it, then wait on the returned channel; exactly one
// Outcome is delivered per registered request, whether the reply arrives,
// the deadline fires, or the connection goes down.
type Correlator struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[MustString]*pendingRequest
}

type pendingRequest struct {
	ch    chan Outcome
	timer *time.Timer
}

// NewCorrelator creates an empty correlator. A nil logger falls back to
// slog.Default.
func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		logger:  logger.With(slog.String("component", "correlator")),
		pending: make(map[MustString]*pendingRequest),
	}
}

// Register records an outstanding request and returns the channel its
// Outcome will be delivered on. The channel is buffered; the delivering side
// never blocks. When timeout is positive, a deadline is armed that delivers
// ErrRequestTimeout if no reply arrives in time. Registering an id that is
// already pending fails the previous waiter with ErrRequestTimeout first.
func (c *Correlator) Register(id MustString, timeout time.Duration) <-chan Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[id]; ok {
		c.logger.Warn("duplicate pending request id", slog.String("id", string(id)))
		prev.deliver(Outcome{Err: ErrRequestTimeout})
		delete(c.pending, id)
	}

	req := &pendingRequest{ch: make(chan Outcome, 1)}
	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			c.expire(id, req)
		})
	}
	c.pending[id] = req

	return req.ch
}

// Resolve delivers msg to the waiter registered under msg.ID and removes the
// registration. A reply with no matching waiter is dropped and logged; late
// replies after a timeout land here.
func (c *Correlator) Resolve(msg Message) {
	c.mu.Lock()
	req, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping reply with no pending request",
			slog.String("id", string(msg.ID)))
		return
	}

	req.stop()
	req.deliver(Outcome{Message: msg})
}

// Discard removes a registration without delivering anything. Used when the
// send that was supposed to follow Register failed, so no reply can come.
func (c *Correlator) Discard(id MustString) {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		req.stop()
	}
}

// FailAll delivers err to every pending waiter and empties the table. Called
// once per connection teardown.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[MustString]*pendingRequest)
	c.mu.Unlock()

	for _, req := range drained {
		req.stop()
		req.deliver(Outcome{Err: err})
	}
}

// Pending reports the number of requests still awaiting an outcome.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) expire(id MustString, req *pendingRequest) {
	c.mu.Lock()
	cur, ok := c.pending[id]
	if ok && cur == req {
		delete(c.pending, id)
	} else {
		ok = false
	}
	c.mu.Unlock()

	if ok {
		req.deliver(Outcome{Err: ErrRequestTimeout})
	}
}

func (p *pendingRequest) deliver(o Outcome) {
	select {
	case p.ch <- o:
	default:
	}
}

func (p *pendingRequest) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}
