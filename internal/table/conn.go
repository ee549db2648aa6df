// internal/table/conn.go
package table

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Outbound channel events.
const (
	EventUserData     = "userdata"
	EventChatHistory  = "chat_history"
	EventMessage      = "message"
	EventDrawOffered  = "draw_offered"
	EventDrawAccepted = "draw_accepted"
	EventDrawRejected = "draw_rejected"
	EventUserOnline   = "user_online"
	EventUserOffline  = "user_offline"
	EventError        = "error"
	EventSessionError = "session_error"
)

// Inbound channel events handled by the table itself. Anything else goes to the game.
const (
	InboundMessage    = "message"
	InboundOfferDraw  = "offer_draw"
	InboundAcceptDraw = "accept_draw"
	InboundRejectDraw = "reject_draw"
)

// Message is one outbound event as written to the client. Data is encoded
// when the message is built, so later changes to the payload never reach it.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes payload into an outbound event. A nil payload has no data.
func NewMessage(event string, payload any) (Message, error) {
	msg := Message{Type: event}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Data = data
	return msg, nil
}

// Conn is a single attached player's channel. Writes never block: a full
// queue drops the message, a closed connection ignores it.
type Conn struct {
	gamingID string
	role     string
	out      chan Message
	done     chan struct{}
	once     sync.Once
	logger   *logrus.Logger
}

// NewConn creates a connection with an outbound queue of the given size.
func NewConn(gamingID, role string, queue int, logger *logrus.Logger) *Conn {
	return &Conn{
		gamingID: gamingID,
		role:     role,
		out:      make(chan Message, queue),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (c *Conn) GamingID() string { return c.gamingID }
func (c *Conn) Role() string     { return c.role }

// Send encodes and queues an event for this connection. The payload is
// encoded before Send returns, while the caller still holds the table lock.
func (c *Conn) Send(event string, payload any) {
	select {
	case <-c.done:
		return
	default:
	}
	msg, err := NewMessage(event, payload)
	if err != nil {
		c.logger.Errorf("failed to encode %q for %s: %v", event, c.gamingID, err)
		return
	}
	select {
	case c.out <- msg:
	default:
		c.logger.Warnf("outbound queue for %s full, dropped %q", c.gamingID, event)
	}
}

// Out is drained by the connection's write pump.
func (c *Conn) Out() <-chan Message { return c.out }

// Done is closed once the connection has been detached or replaced.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close detaches the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}
