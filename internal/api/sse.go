package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrSSEIdleTimeout is returned when the SSE stream receives no data
// within the configured idle timeout period.
var ErrSSEIdleTimeout = errors.New("api: SSE idle timeout")

// idleTimeoutReader wraps an io.ReadCloser and enforces an idle timeout.
// If no data is read within the timeout, the underlying reader is closed
// to unblock any pending Read call, and subsequent reads return ErrSSEIdleTimeout.
type idleTimeoutReader struct {
	rc      io.ReadCloser
	timer   *time.Timer
	timeout time.Duration

	mu      sync.Mutex
	err     error
	stopped bool
}

// newIdleTimeoutReader creates a reader that closes the underlying reader
// if no data arrives within the given timeout.
func newIdleTimeoutReader(rc io.ReadCloser, timeout time.Duration) *idleTimeoutReader {
	r := &idleTimeoutReader{
		rc:      rc,
		timeout: timeout,
	}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, r.onTimeout)
	}
	return r
}

// Read implements io.Reader. Each successful read resets the idle timer.
func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)

	r.mu.Lock()
	idleErr := r.err
	r.mu.Unlock()

	if idleErr != nil {
		return 0, idleErr
	}

	if n > 0 && r.timer != nil {
		r.timer.Reset(r.timeout)
	}

	return n, err
}

// Err returns any idle timeout error that occurred.
func (r *idleTimeoutReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop cancels the idle timer. Must be called when done with the reader.
func (r *idleTimeoutReader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

// onTimeout is called when the idle timer fires.
func (r *idleTimeoutReader) onTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.err = ErrSSEIdleTimeout
	// Close the underlying reader to unblock any pending Read call.
	r.rc.Close()
}

// SSEEvent represents a single parsed SSE event.
type SSEEvent struct {
	Type string // from "event:" field, defaults to "message"
	Data string // concatenated data fields
	ID   string // from "id:" field
}

// RetryCallback is called when the SSE server sends a retry: field.
type RetryCallback func(interval time.Duration)

// SSEParser reads from an io.Reader and emits parsed SSE events.
type SSEParser struct {
	scanner       *bufio.Scanner
	lastEventID   string
	retryCallback RetryCallback
}

// NewSSEParser creates a parser reading from the given reader.
func NewSSEParser(r io.Reader) *SSEParser {
	return &SSEParser{
		scanner: bufio.NewScanner(r),
	}
}

// SetRetryCallback sets the function called when a retry: field is received.
func (p *SSEParser) SetRetryCallback(cb RetryCallback) {
	p.retryCallback = cb
}

// LastEventID returns the most recently received event ID.
func (p *SSEParser) LastEventID() string {
	return p.lastEventID
}

// Next reads lines until a complete event is found. Returns the event
// and true, or a zero event and false when the reader is exhausted.
func (p *SSEParser) Next() (SSEEvent, bool) {
	// Per W3C SSE spec:
	// - Lines starting with ":" are comments (ignore but useful as keepalives)
	// - "event:" sets the event type
	// - "data:" appends to the data buffer (multiple data lines concatenated with \n)
	// - "id:" sets the last event ID (also stored on the event)
	// - "retry:" sends a retry interval to the client
	// - An empty line dispatches the accumulated event
	// - Fields with no colon use the whole line as field name with empty value

	var eventType string
	var data []string
	var id string

	for p.scanner.Scan() {
		line := p.scanner.Text()

		// Empty line dispatches the event
		if line == "" {
			if len(data) > 0 {
				if eventType == "" {
					eventType = "message"
				}
				evt := SSEEvent{
					Type: eventType,
					Data: strings.Join(data, "\n"),
					ID:   id,
				}
				if id != "" {
					p.lastEventID = id
				}
				return evt, true
			}
			// Reset for next event
			eventType = ""
			data = nil
			id = ""
			continue
		}

		// Comment line
		if strings.HasPrefix(line, ":") {
			continue
		}

		// Parse field
		field, value, _ := strings.Cut(line, ":")
		// Remove leading space from value per spec
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			eventType = value
		case "data":
			data = append(data, value)
		case "id":
			id = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && p.retryCallback != nil {
				p.retryCallback(time.Duration(ms) * time.Millisecond)
			}
		}
	}

	return SSEEvent{}, false
}

// PartySubscription is a live subscribe() stream: peer_joined/peer_left/
// peer_updated events arrive on Events until the stream ends, at which
// point Err reports why (nil for a clean close) and Events is closed.
type PartySubscription struct {
	Events <-chan PartyEvent

	mu  sync.Mutex
	err error
}

// Err returns the reason the subscription ended, or nil if it closed
// cleanly.
func (s *PartySubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *PartySubscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe opens the push event stream for a party (the §6.1 subscribe
// operation). Callers that can't sustain a stream should instead poll
// GetParty on the heartbeat interval; Subscribe does not reconnect
// internally, it runs exactly one connection for the lifetime of ctx.
func (c *ControlPlane) Subscribe(ctx context.Context, partyID string, logger *slog.Logger) (*PartySubscription, error) {
	resp, err := c.connectSubscribe(ctx, partyID, "")
	if err != nil {
		return nil, err
	}

	events := make(chan PartyEvent)
	sub := &PartySubscription{Events: events}

	go func() {
		defer close(events)
		defer resp.Body.Close()
		sub.setErr(runSubscription(ctx, resp.Body, c.sseIdleTimeout, logger, events))
	}()

	return sub, nil
}

func runSubscription(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, logger *slog.Logger, events chan<- PartyEvent) error {
	idleReader := newIdleTimeoutReader(body, idleTimeout)
	defer idleReader.Stop()

	parser := NewSSEParser(idleReader)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		evt, ok := parser.Next()
		if !ok {
			if err := idleReader.Err(); err != nil {
				return err
			}
			return nil
		}

		var pe PartyEvent
		if err := json.Unmarshal([]byte(evt.Data), &pe); err != nil {
			logger.Error("failed to parse party event", "event_type", evt.Type, "error", err)
			continue
		}

		select {
		case events <- pe:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
