package mcp_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/protocolkit/mcp"
)

func TestStdIOSend(t *testing.T) {
	reader, writer := io.Pipe()
	transport := mcp.NewStdIO(strings.NewReader(""), writer, nil)
	t.Cleanup(func() { transport.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	lines := make(chan string, 2)
	go func() {
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for _, frame := range []string{`{"jsonrpc": "2.0", "id": "1", "method": "ping"}`, `{"jsonrpc": "2.0", "id": "2", "result": {}}`} {
		if err := conn.Send(ctx, []byte(frame)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}

		select {
		case line := <-lines:
			if line != frame {
				t.Errorf("Expected line %q, got %q", frame, line)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for line")
		}
	}
}

func TestStdIOReceive(t *testing.T) {
	input := "{\"jsonrpc\": \"2.0\", \"id\": \"1\", \"method\": \"ping\"}\n\n\n{\"jsonrpc\": \"2.0\", \"id\": \"2\", \"method\": \"ping\"}\n"
	transport := mcp.NewStdIO(strings.NewReader(input), &bytes.Buffer{}, nil)
	t.Cleanup(func() { transport.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	// Empty lines between frames are skipped.
	for _, wantID := range []string{"1", "2"} {
		frame, err := conn.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if !strings.Contains(string(frame), `"id": "`+wantID+`"`) {
			t.Errorf("Expected frame with id %s, got %q", wantID, frame)
		}
	}

	// The reader is exhausted, so the next Receive reports a terminal error.
	if _, err := conn.Receive(ctx); err == nil {
		t.Error("Expected error after EOF, got none")
	}
}

func TestStdIOCloseUnblocksReceive(t *testing.T) {
	reader, _ := io.Pipe()
	transport := mcp.NewStdIO(reader, &bytes.Buffer{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := conn.Receive(context.Background())
		errs <- err
	}()

	transport.Close()

	select {
	case err := <-errs:
		if err == nil {
			t.Error("Expected error from Receive after Close, got none")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for Receive to unblock")
	}
}

func TestStdIOReceiveContextCancelled(t *testing.T) {
	reader, _ := io.Pipe()
	transport := mcp.NewStdIO(reader, &bytes.Buffer{}, nil)
	t.Cleanup(func() { transport.Close() })

	conn, err := transport.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := conn.Receive(ctx)
		errs <- err
	}()

	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for Receive to unblock")
	}
}

func TestStdIOAcceptPeerYieldsSelf(t *testing.T) {
	transport := mcp.NewStdIO(strings.NewReader(""), &bytes.Buffer{}, nil)
	t.Cleanup(func() { transport.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.AcceptPeer(ctx)
	if err != nil {
		t.Fatalf("AcceptPeer() error = %v", err)
	}
	if conn != mcp.Transport(transport) {
		t.Error("Expected AcceptPeer to yield the transport itself")
	}

	// A second accept blocks until the context expires or shutdown.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if _, err := transport.AcceptPeer(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded on second accept, got %v", err)
	}
}

func TestStdIODialAfterClose(t *testing.T) {
	transport := mcp.NewStdIO(strings.NewReader(""), &bytes.Buffer{}, nil)
	transport.Close()

	if _, err := transport.Dial(context.Background()); err == nil {
		t.Error("Expected error dialing a closed transport, got none")
	}
}

func TestStdIOEndToEnd(t *testing.T) {
	// Two transports wired to each other through crossed pipes.
	aReader, bWriter := io.Pipe()
	bReader, aWriter := io.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := mcp.NewStdIO(aReader, aWriter, nil).Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	b, err := mcp.NewStdIO(bReader, bWriter, nil).Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })

	want := `{"jsonrpc": "2.0", "id": "1", "method": "ping"}`
	go func() {
		_ = a.Send(ctx, []byte(want))
	}()

	frame, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(frame) != want {
		t.Errorf("Expected frame %q, got %q", want, frame)
	}
}
