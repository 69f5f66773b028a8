package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nightwatch/engine/internal/telemetry"
)

// Relay is the server side of the broadcast layer: every frame a subscriber
// sends is forwarded verbatim to every other subscriber. The relay never
// inspects payloads; the self-echo drop happens bus-side via the envelope
// userId.
type Relay struct {
	upgrader websocket.Upgrader
	logger   telemetry.Logger

	mu      sync.Mutex
	nextID  uint64
	clients map[uint64]*relayClient
}

type relayClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *relayClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewRelay constructs a relay. logger may be nil.
func NewRelay(logger telemetry.Logger) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[uint64]*relayClient),
	}
}

// ServeHTTP upgrades the request and pumps frames until the peer disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("ws: upgrade failed: %v", err)
		}
		return
	}
	client := &relayClient{conn: conn}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.clients[id] = client
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.clients, id)
		r.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		r.broadcast(id, payload)
	}
}

// broadcast forwards a frame to every subscriber except the sender, dropping
// peers whose writes fail.
func (r *Relay) broadcast(senderID uint64, data []byte) {
	r.mu.Lock()
	targets := make(map[uint64]*relayClient, len(r.clients))
	for id, c := range r.clients {
		if id != senderID {
			targets[id] = c
		}
	}
	r.mu.Unlock()

	for id, c := range targets {
		if err := c.write(data); err != nil {
			if r.logger != nil {
				r.logger.Printf("ws: dropping subscriber %d: %v", id, err)
			}
			r.mu.Lock()
			delete(r.clients, id)
			r.mu.Unlock()
			c.conn.Close()
		}
	}
}

// ClientCount reports the number of connected subscribers.
func (r *Relay) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
