package realtime

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrSinkClosed is returned when sending to a sink that was closed.
	ErrSinkClosed = errors.New("sink closed")
	// ErrSlowConsumer is returned when a sink's buffer is full.
	ErrSlowConsumer = errors.New("sink buffer full")
)

// Sink is the underlying push channel of one connection.
type Sink interface {
	Send(Event) error
	Close()
}

// ChannelSink buffers events for a streaming HTTP response. A full buffer
// counts as a failed channel.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChannelSink creates a sink holding up to size undelivered events.
func NewChannelSink(size int) *ChannelSink {
	if size <= 0 {
		size = 32
	}
	return &ChannelSink{ch: make(chan Event, size)}
}

// Send queues e without blocking.
func (s *ChannelSink) Send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- e:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close ends the event sequence. It is safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Events yields queued events until ctx is cancelled or the sink is closed.
// The sequence can be ranged over once; events consumed are gone.
func (s *ChannelSink) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-s.ch:
				if !ok || !yield(e) {
					return
				}
			}
		}
	}
}

// WebSocketSink writes events as JSON text frames on a gorilla connection.
type WebSocketSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWebSocketSink wraps an upgraded connection.
func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebSocketSink{conn: conn, writeTimeout: writeTimeout}
}

// Send writes e; gorilla allows one concurrent writer so sends are serialised.
func (s *WebSocketSink) Send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(e)
}

// Close closes the websocket.
func (s *WebSocketSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}
