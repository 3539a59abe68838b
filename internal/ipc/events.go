package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/wslabel/wslabel/internal/tree"
	"github.com/wslabel/wslabel/internal/util"
)

// Event is one decoded window manager event.
type Event struct {
	Type   EventType
	Change string
	// Container is set for window events.
	Container *tree.Node
	// Current and Old are set for workspace events.
	Current *tree.Node
	Old     *tree.Node
}

type eventPayload struct {
	Change    string     `json:"change"`
	Container *tree.Node `json:"container"`
	Current   *tree.Node `json:"current"`
	Old       *tree.Node `json:"old"`
}

// ErrStreamClosed is reported once the event stream ends.
var ErrStreamClosed = errors.New("event stream closed")

// Subscription is a read-only event connection. Its stream cannot be
// restarted once it ends.
type Subscription struct {
	conn     net.Conn
	events   chan Event
	logger   *util.Logger
	closed   chan struct{}
	finished chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// Subscribe opens a dedicated connection at path and subscribes to kinds.
// The stream ends when ctx is cancelled, the socket fails, or Close is called.
func Subscribe(ctx context.Context, path string, logger *util.Logger, kinds ...EventType) (*Subscription, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("subscribe: no event types")
	}
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		name, ok := eventNames[kind]
		if !ok {
			return nil, fmt.Errorf("subscribe: unknown event type %d", uint32(kind))
		}
		names = append(names, name)
	}
	body, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode subscription: %w", err)
	}

	conn, err := dial(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := handshake(ctx, conn, body); err != nil {
		conn.Close()
		return nil, err
	}

	sub := &Subscription{
		conn:     conn,
		events:   make(chan Event),
		logger:   logger,
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.fail(ctx.Err())
			sub.Close()
		case <-sub.finished:
		}
	}()
	go func() {
		defer close(sub.finished)
		sub.read(ctx)
	}()
	return sub, nil
}

func handshake(ctx context.Context, conn net.Conn, body []byte) error {
	op := MessageSubscribe.String()
	stop := bindDeadline(ctx, conn)
	defer stop()
	if err := writeMessage(conn, uint32(MessageSubscribe), body); err != nil {
		return transportError(ctx, op, err)
	}
	typ, reply, err := readMessage(conn)
	if err != nil {
		return transportError(ctx, op, err)
	}
	if typ != uint32(MessageSubscribe) {
		return &IOError{Op: op, Err: fmt.Errorf("reply type %d does not match request", typ)}
	}
	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(reply, &result); err != nil {
		return &ProtocolError{Op: op, Err: err}
	}
	if !result.Success {
		return &ProtocolError{Op: op, Err: fmt.Errorf("window manager refused subscription %s", body)}
	}
	return nil
}

func (s *Subscription) read(ctx context.Context) {
	defer close(s.events)
	defer s.conn.Close()
	for {
		typ, payload, err := readMessage(s.conn)
		if err != nil {
			s.fail(&IOError{Op: "read event", Err: err})
			return
		}
		if typ&eventMask == 0 {
			s.logger.Debugf("ignoring non-event reply type %d on event connection", typ)
			continue
		}
		var body eventPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			s.logger.Warnf("decode %s event: %v", EventType(typ), err)
			continue
		}
		ev := Event{
			Type:      EventType(typ),
			Change:    body.Change,
			Container: body.Container,
			Current:   body.Current,
			Old:       body.Old,
		}
		select {
		case s.events <- ev:
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Events returns the event stream. The channel is closed when the stream ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err reports why the stream ended. It is nil while the stream is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close terminates the subscription. Events not yet received are dropped.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.fail(ErrStreamClosed)
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// fail records the first reason the stream stopped.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}
