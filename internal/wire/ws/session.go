// Package ws carries wire envelopes over gorilla websockets. A Session is a
// client connection to the relay; Relay is the server side that fans frames
// out to every other connected session.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nightwatch/engine/internal/telemetry"
	"nightwatch/engine/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrClosed reports a send on a closed session.
var ErrClosed = errors.New("ws: session closed")

// Session is one relay connection. Writes are serialized through a mutex
// because gorilla connections allow a single concurrent writer.
type Session struct {
	conn   *websocket.Conn
	logger telemetry.Logger

	writeMu sync.Mutex
	closed  bool
}

// Dial connects to a relay and returns a ready session.
func Dial(ctx context.Context, url string, header http.Header, logger telemetry.Logger) (*Session, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return NewSession(conn, logger), nil
}

// NewSession wraps an established connection.
func NewSession(conn *websocket.Conn, logger telemetry.Logger) *Session {
	return &Session{conn: conn, logger: logger}
}

// Send implements wire.Transport.
func (s *Session) Send(data []byte) error {
	if s == nil || s.conn == nil {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Run pumps inbound frames into the bus until the connection drops or the
// context is cancelled. It owns the read side; callers run it once.
func (s *Session) Run(ctx context.Context, bus *wire.Bus) error {
	if s == nil || s.conn == nil {
		return ErrClosed
	}

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ctx, done)

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if bus != nil {
			bus.Receive(payload)
		}
	}
}

func (s *Session) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			if s.closed {
				s.writeMu.Unlock()
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				if s.logger != nil {
					s.logger.Printf("ws: ping failed: %v", err)
				}
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close shuts the connection down. Safe to call twice.
func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
