package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// StdIO is a newline-delimited byte-frame transport over an io.Reader and
// io.Writer pair, typically a process's stdin and stdout. Each frame is one
// line; frames must not contain raw newlines, which JSON encoding
// guarantees.
//
// StdIO is a Transport itself and also serves as a single-connection
// Listener (the first AcceptPeer yields it) and as a Dialer (every Dial
// returns it). Create instances with NewStdIO.
type StdIO struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeQueue chan stdIOWrite
	frames     chan stdIOFrame

	done      chan struct{}
	closeOnce sync.Once

	acceptOnce sync.Once
	startOnce  sync.Once
}

type stdIOWrite struct {
	frame []byte
	errs  chan error
}

type stdIOFrame struct {
	frame []byte
	err   error
}

// NewStdIO creates a transport over the given reader and writer. A nil
// logger falls back to slog.Default.
func NewStdIO(reader io.Reader, writer io.Writer, logger *slog.Logger) *StdIO {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdIO{
		reader:     reader,
		writer:     writer,
		logger:     logger.With(slog.String("component", "stdio")),
		writeQueue: make(chan stdIOWrite),
		frames:     make(chan stdIOFrame),
		done:       make(chan struct{}),
	}
}

// AcceptPeer implements Listener. The first call yields this transport;
// later calls block until shutdown.
func (s *StdIO) AcceptPeer(ctx context.Context) (Transport, error) {
	var first bool
	s.acceptOnce.Do(func() { first = true })
	if first {
		s.start()
		return s, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("stdio transport closed")
	}
}

// Shutdown implements Listener.
func (s *StdIO) Shutdown(_ context.Context) error {
	return s.Close()
}

// Dial implements Dialer, returning this transport.
func (s *StdIO) Dial(_ context.Context) (Transport, error) {
	select {
	case <-s.done:
		return nil, errors.New("stdio transport closed")
	default:
	}
	s.start()
	return s, nil
}

// Send queues one frame for writing and waits for the write to complete.
func (s *StdIO) Send(ctx context.Context, frame []byte) error {
	line := make([]byte, 0, len(frame)+1)
	line = append(line, frame...)
	line = append(line, '\n')

	w := stdIOWrite{
		frame: line,
		errs:  make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.New("stdio transport closed")
	case s.writeQueue <- w:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.New("stdio transport closed")
	case err := <-w.errs:
		if err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		return nil
	}
}

// Receive blocks until the next line arrives. A reader error, including
// EOF, is terminal.
func (s *StdIO) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("stdio transport closed")
	case f := <-s.frames:
		if f.err != nil {
			return nil, f.err
		}
		return f.frame, nil
	}
}

// Close tears the transport down. Safe to call more than once.
func (s *StdIO) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *StdIO) start() {
	s.startOnce.Do(func() {
		go s.processWrites()
		go s.processReads()
	})
}

func (s *StdIO) processWrites() {
	for {
		var w stdIOWrite
		select {
		case <-s.done:
			return
		case w = <-s.writeQueue:
		}

		_, err := s.writer.Write(w.frame)
		w.errs <- err
	}
}

func (s *StdIO) processReads() {
	// bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("read failed", slog.String("err", err.Error()))
			}
			select {
			case s.frames <- stdIOFrame{err: fmt.Errorf("read frame: %w", err)}:
			case <-s.done:
			}
			return
		}

		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}

		select {
		case s.frames <- stdIOFrame{frame: []byte(line)}:
		case <-s.done:
			return
		}
	}
}
