package wire

import (
	"sort"
	"sync"

	"nightwatch/engine/internal/host"
	"nightwatch/engine/internal/telemetry"
)

// Transport carries encoded envelopes to the other connected clients. The
// sender is not echoed its own frames by every transport, so the bus drops
// self-addressed envelopes on receive regardless.
type Transport interface {
	Send(data []byte) error
}

// TransportFunc adapts a function into a Transport.
type TransportFunc func(data []byte) error

// Send implements Transport.
func (f TransportFunc) Send(data []byte) error { return f(data) }

// Handler consumes one decoded inbound envelope.
type Handler func(msg Message)

// Bus fans inbound envelopes out to per-type handlers and publishes outbound
// ones. Publishing never dispatches locally; callers apply their own state
// changes directly and the self-echo drop keeps remote loops out.
type Bus struct {
	peers     host.PeerService
	transport Transport
	logger    telemetry.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
}

// NewBus constructs a bus over the transport. logger may be nil.
func NewBus(peers host.PeerService, transport Transport, logger telemetry.Logger) *Bus {
	return &Bus{
		peers:     peers,
		transport: transport,
		logger:    logger,
		handlers:  make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a message type.
func (b *Bus) Subscribe(msgType string, h Handler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	b.handlers[msgType] = append(b.handlers[msgType], h)
	b.mu.Unlock()
}

// Publish wraps the payload in an envelope stamped with the local user id and
// hands it to the transport.
func (b *Bus) Publish(msgType string, payload any) error {
	if b == nil || b.transport == nil {
		return nil
	}
	msg, err := New(msgType, b.selfID(), payload)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return b.transport.Send(data)
}

// Receive decodes a raw inbound frame and dispatches it. Frames stamped with
// the local user id are the sender's own echo and are dropped.
func (b *Bus) Receive(data []byte) {
	if b == nil {
		return
	}
	msg, err := Decode(data)
	if err != nil {
		if b.logger != nil {
			b.logger.Printf("wire: discarding malformed frame: %v", err)
		}
		return
	}
	b.Dispatch(msg)
}

// Dispatch routes a decoded envelope to its handlers, applying the self-echo
// drop.
func (b *Bus) Dispatch(msg Message) {
	if b == nil {
		return
	}
	if self := b.selfID(); self != "" && msg.UserID == self {
		return
	}
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[msg.Type]...)
	b.mu.Unlock()
	if len(handlers) == 0 {
		if b.logger != nil {
			b.logger.Printf("wire: no handler for message type %q", msg.Type)
		}
		return
	}
	for _, h := range handlers {
		h(msg)
	}
}

// IsPrimary reports whether the local session is the primary GM: the
// connected GM with the lexicographically smallest user id. Exactly one
// client answers true for any connected set, which is what keeps the
// authoritative patrol loop single-homed.
func (b *Bus) IsPrimary() bool {
	if b == nil || b.peers == nil {
		return false
	}
	self := b.peers.Self()
	if !self.IsGM {
		return false
	}
	primary, ok := b.Primary()
	return ok && primary.UserID == self.UserID
}

// Primary returns the elected primary GM peer.
func (b *Bus) Primary() (host.Peer, bool) {
	if b == nil || b.peers == nil {
		return host.Peer{}, false
	}
	gms := make([]string, 0, 4)
	byID := make(map[string]host.Peer)
	for _, p := range b.peers.Peers() {
		if p.IsGM {
			gms = append(gms, p.UserID)
			byID[p.UserID] = p
		}
	}
	if self := b.peers.Self(); self.IsGM {
		if _, seen := byID[self.UserID]; !seen {
			gms = append(gms, self.UserID)
			byID[self.UserID] = self
		}
	}
	if len(gms) == 0 {
		return host.Peer{}, false
	}
	sort.Strings(gms)
	return byID[gms[0]], true
}

func (b *Bus) selfID() string {
	if b.peers == nil {
		return ""
	}
	return b.peers.Self().UserID
}
