package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-coordination/internal/models"
)

var (
	ErrQueueFull     = errors.New("ws send queue full")
	ErrSessionClosed = errors.New("ws session closed")
)

// Envelope is the frame written to websocket clients.
type Envelope struct {
	Event models.EventKind `json:"event"`
	Data  any              `json:"data"`
}

// WSSession is a connected client. Send enqueues without blocking; a single
// writer goroutine (Run) owns the connection's write side.
type WSSession struct {
	conn         *websocket.Conn
	send         chan Envelope
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func NewWSSession(conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *WSSession {
	if queueSize <= 0 {
		queueSize = 32
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &WSSession{
		conn:         conn,
		send:         make(chan Envelope, queueSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (s *WSSession) Send(kind models.EventKind, payload any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- Envelope{Event: kind, Data: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run writes queued envelopes until ctx ends, the session is closed, or a
// write fails.
func (s *WSSession) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteJSON(env); err != nil {
				s.Close()
				return err
			}
		}
	}
}

// ReadLoop drains inbound frames so control messages are processed, and
// returns when the peer goes away.
func (s *WSSession) ReadLoop() error {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.Close()
			return err
		}
	}
}

// Close is idempotent. The send queue is never closed so concurrent Send
// calls stay safe.
func (s *WSSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *WSSession) Done() <-chan struct{} { return s.done }
