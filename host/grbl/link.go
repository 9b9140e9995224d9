package grbl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"deltastage/host/serial"
	"deltastage/stage"
)

var (
	// ErrConnect is returned when the serial device cannot be opened
	ErrConnect = errors.New("grbl: cannot connect")

	// ErrAckTimeout is returned when no "ok" arrives in time
	ErrAckTimeout = errors.New("grbl: timed out waiting for ok")

	// ErrClosed is returned once the link or its port has gone away
	ErrClosed = errors.New("grbl: link closed")
)

const (
	lineQueue     = 64
	readChunkSize = 256
	bufferSize    = 1024
)

// Link is a line-oriented connection to a GRBL controller. A background
// reader assembles lines; all writes come from the caller.
type Link struct {
	port  io.ReadWriteCloser
	input *lineBuffer
	lines chan string

	writeMutex sync.Mutex
	closeOnce  sync.Once

	stopChan chan struct{}
	doneChan chan struct{}

	// Logf receives controller chatter and read errors
	Logf func(format string, args ...interface{})
}

// NewLink starts a link over an already open port
func NewLink(port io.ReadWriteCloser, logf func(format string, args ...interface{})) *Link {
	if logf == nil {
		logf = log.Printf
	}

	l := &Link{
		port:     port,
		input:    newLineBuffer(bufferSize),
		lines:    make(chan string, lineQueue),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		Logf:     logf,
	}

	go l.readLoop()

	return l
}

// Dial opens the configured serial device and starts a link on it
func Dial(cfg stage.SerialConfig, logf func(format string, args ...interface{})) (*Link, error) {
	if logf == nil {
		logf = log.Printf
	}

	port, err := serial.OpenWithRetry(serial.FromSettings(cfg), cfg.Retries, time.Second, logf)
	if err != nil {
		if ports, lerr := serial.ListPorts(); lerr == nil && len(ports) > 0 {
			logf("grbl: available ports: %s", strings.Join(ports, ", "))
		}
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	// Bytes left over from a previous session would garble the banner
	if err := port.Flush(); err != nil {
		logf("grbl: flush %s: %v", cfg.Device, err)
	}

	return NewLink(port, logf), nil
}

// Send writes one command line, adding the newline if missing
func (l *Link) Send(line string) error {
	select {
	case <-l.stopChan:
		return ErrClosed
	default:
	}

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	n, err := l.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", strings.TrimSpace(line), err)
	}
	if n != len(line) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(line))
	}
	return nil
}

// ReceiveLine returns the next line from the controller
func (l *Link) ReceiveLine(ctx context.Context) (string, error) {
	select {
	case line := <-l.lines:
		return line, nil
	default:
	}

	select {
	case line := <-l.lines:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.stopChan:
		return "", ErrClosed
	case <-l.doneChan:
		return "", ErrClosed
	}
}

// WaitForOk consumes lines until "ok". Error and alarm replies end the wait
// with a *ResponseError. Running out of time yields ErrAckTimeout.
func (l *Link) WaitForOk(ctx context.Context) error {
	for {
		line, err := l.ReceiveLine(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %w", ErrAckTimeout, err)
			}
			return err
		}

		kind, payload := Classify(line)
		switch kind {
		case KindOK:
			return nil
		case KindError, KindAlarm:
			return &ResponseError{Kind: kind, Message: payload}
		default:
			l.Logf("grbl: %s", line)
		}
	}
}

// WaitForIdle collects lines until the controller stays silent for pause
func (l *Link) WaitForIdle(ctx context.Context, pause time.Duration) ([]string, error) {
	var out []string
	timer := time.NewTimer(pause)
	defer timer.Stop()

	for {
		select {
		case line := <-l.lines:
			out = append(out, line)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(pause)
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		case <-l.stopChan:
			return out, ErrClosed
		case <-l.doneChan:
			return out, ErrClosed
		}
	}
}

// Drain discards lines that are already queued
func (l *Link) Drain() []string {
	var out []string
	for {
		select {
		case line := <-l.lines:
			out = append(out, line)
		default:
			return out
		}
	}
}

// Close stops the reader and closes the port
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopChan)
		if l.port != nil {
			err = l.port.Close()
		}
		<-l.doneChan
	})
	return err
}

// readLoop continuously reads from the port and queues complete lines
func (l *Link) readLoop() {
	defer close(l.doneChan)

	buffer := make([]byte, readChunkSize)

	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		n, err := l.port.Read(buffer)
		if n > 0 {
			l.input.Write(buffer[:n])
			for _, line := range l.input.Lines() {
				l.queue(line)
			}
		}

		if err != nil {
			if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			// A serial read timeout surfaces as io.EOF
			if !errors.Is(err, io.EOF) {
				l.Logf("grbl: read error: %v", err)
			}
			select {
			case <-l.stopChan:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// queue delivers a line, dropping the oldest when nobody is reading
func (l *Link) queue(line string) {
	select {
	case l.lines <- line:
	default:
		select {
		case <-l.lines:
		default:
		}
		l.lines <- line
	}
}
