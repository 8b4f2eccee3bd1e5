package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/protocolkit/mcp"
)

// pipeListener is an in-memory Listener fed by pipeDialer. Each Dial hands
// the listener one end of a fresh pipe pair.
type pipeListener struct {
	conns chan mcp.Transport

	done      chan struct{}
	closeOnce sync.Once
}

func newPipeListener() *pipeListener {
	return &pipeListener{
		conns: make(chan mcp.Transport, 5),
		done:  make(chan struct{}),
	}
}

func (l *pipeListener) AcceptPeer(ctx context.Context) (mcp.Transport, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, errors.New("pipe listener closed")
	case conn := <-l.conns:
		return conn, nil
	}
}

func (l *pipeListener) Shutdown(_ context.Context) error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// pipeDialer produces connected in-memory transport pairs, delivering the
// server end to its listener. Setting fail makes every Dial error, which
// drives reconnection-exhaustion tests.
type pipeDialer struct {
	listener *pipeListener

	mu       sync.Mutex
	fail     bool
	lastDrop func()
}

func (d *pipeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

// dropConnection severs the most recent pipe pair at the transport level,
// simulating a peer death both ends notice.
func (d *pipeDialer) dropConnection() {
	d.mu.Lock()
	drop := d.lastDrop
	d.mu.Unlock()
	if drop != nil {
		drop()
	}
}

func (d *pipeDialer) Dial(ctx context.Context) (mcp.Transport, error) {
	d.mu.Lock()
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, errors.New("dial refused")
	}

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	clientEnd, err := mcp.NewStdIO(clientReader, clientWriter, nil).Dial(ctx)
	if err != nil {
		return nil, err
	}
	serverEnd, err := mcp.NewStdIO(serverReader, serverWriter, nil).Dial(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.lastDrop = func() {
		serverWriter.Close()
		serverReader.Close()
		clientWriter.Close()
		clientReader.Close()
	}
	d.mu.Unlock()

	select {
	case d.listener.conns <- serverEnd:
	case <-d.listener.done:
		clientEnd.Close()
		serverEnd.Close()
		return nil, errors.New("pipe listener closed")
	case <-ctx.Done():
		clientEnd.Close()
		serverEnd.Close()
		return nil, ctx.Err()
	}

	return clientEnd, nil
}

// testRegistry builds a registry with one tool, resource, and prompt of each
// interesting shape.
func testRegistry(t *testing.T) *mcp.Registry {
	t.Helper()

	reg := mcp.NewRegistry()

	if err := reg.RegisterTool(echoTool("echo")); err != nil {
		t.Fatalf("Failed to register echo tool: %v", err)
	}

	err := reg.RegisterTool(mcp.ToolDescriptor{
		Name:        "progress",
		Description: "Reports progress three times",
		Handler: mcp.ToolHandlerFunc(func(
			_ context.Context,
			_ mcp.CallToolParams,
			progress mcp.ProgressReporter,
		) (mcp.CallToolResult, error) {
			for i := 1; i <= 3; i++ {
				progress(mcp.ProgressParams{Progress: float64(i), Total: 3})
			}
			return mcp.CallToolResult{
				Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: "done"}},
			}, nil
		}),
	})
	if err != nil {
		t.Fatalf("Failed to register progress tool: %v", err)
	}

	err = reg.RegisterResource(mcp.ResourceDescriptor{
		URI:      "test://greeting",
		Name:     "greeting",
		MimeType: "text/plain",
		Handler: mcp.ResourceHandlerFunc(func(
			_ context.Context,
			params mcp.ReadResourceParams,
			_ mcp.ProgressReporter,
		) (mcp.ReadResourceResult, error) {
			return mcp.ReadResourceResult{
				Contents: []mcp.ResourceContents{{
					URI:      params.URI,
					MimeType: "text/plain",
					Text:     "hello from resource",
				}},
			}, nil
		}),
	})
	if err != nil {
		t.Fatalf("Failed to register resource: %v", err)
	}

	err = reg.RegisterPrompt(mcp.PromptDescriptor{
		Name: "greeting",
		Arguments: []mcp.PromptArgument{
			{Name: "name", Required: true},
		},
		Handler: mcp.PromptHandlerFunc(func(
			_ context.Context,
			params mcp.GetPromptParams,
			_ mcp.ProgressReporter,
		) (mcp.GetPromptResult, error) {
			return mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{{
					Role: mcp.RoleUser,
					Content: mcp.Content{
						Type: mcp.ContentTypeText,
						Text: fmt.Sprintf("Hello, %s", params.Arguments["name"]),
					},
				}},
			}, nil
		}),
	})
	if err != nil {
		t.Fatalf("Failed to register prompt: %v", err)
	}

	return reg
}

// testEnv wires a server and a client together over in-memory pipes.
type testEnv struct {
	registry *mcp.Registry
	server   *mcp.Server
	listener *pipeListener
	dialer   *pipeDialer
	client   *mcp.Client
}

func newTestEnv(t *testing.T, clientOptions ...mcp.ClientOption) *testEnv {
	t.Helper()

	registry := testRegistry(t)
	listener := newPipeListener()
	dialer := &pipeDialer{listener: listener}

	server := mcp.NewServer(
		mcp.Info{Name: "test-server", Version: "1.0"},
		registry,
		mcp.WithInstructions("test instructions"),
	)
	go func() {
		_ = server.Serve(listener)
	}()

	client := mcp.NewClient(
		mcp.Info{Name: "test-client", Version: "1.0"},
		dialer,
		clientOptions...,
	)

	t.Cleanup(func() {
		_ = client.Disconnect()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		_ = listener.Shutdown(ctx)
	})

	return &testEnv{
		registry: registry,
		server:   server,
		listener: listener,
		dialer:   dialer,
		client:   client,
	}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
}

// stateRecorder collects session state transitions.
type stateRecorder struct {
	ch chan mcp.SessionState
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan mcp.SessionState, 32)}
}

func (r *stateRecorder) OnSessionStateChange(state mcp.SessionState) {
	select {
	case r.ch <- state:
	default:
	}
}

// waitForState blocks until the recorder observes the wanted state.
func (r *stateRecorder) waitForState(t *testing.T, want mcp.SessionState, timeout time.Duration) {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case state := <-r.ch:
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for state %s", want)
		}
	}
}

type progressRecorder struct {
	ch chan mcp.ProgressParams
}

func newProgressRecorder() *progressRecorder {
	return &progressRecorder{ch: make(chan mcp.ProgressParams, 32)}
}

func (r *progressRecorder) OnProgress(params mcp.ProgressParams) {
	select {
	case r.ch <- params:
	default:
	}
}

type logRecorder struct {
	ch chan mcp.LogParams
}

func newLogRecorder() *logRecorder {
	return &logRecorder{ch: make(chan mcp.LogParams, 32)}
}

func (r *logRecorder) OnLog(params mcp.LogParams) {
	select {
	case r.ch <- params:
	default:
	}
}

type listChangeRecorder struct {
	ch chan string
}

func newListChangeRecorder() *listChangeRecorder {
	return &listChangeRecorder{ch: make(chan string, 32)}
}

func (r *listChangeRecorder) record(kind string) {
	select {
	case r.ch <- kind:
	default:
	}
}

func (r *listChangeRecorder) OnToolListChanged()     { r.record("tools") }
func (r *listChangeRecorder) OnResourceListChanged() { r.record("resources") }
func (r *listChangeRecorder) OnPromptListChanged()   { r.record("prompts") }

func (r *listChangeRecorder) OnResourceSubscribedChanged(uri string) {
	r.record("updated:" + uri)
}

func (r *listChangeRecorder) waitFor(t *testing.T, want string, timeout time.Duration) {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case kind := <-r.ch:
			if kind == want {
				return
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %q notification", want)
		}
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()

	bs, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	return bs
}
