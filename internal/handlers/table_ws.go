// internal/handlers/table_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/middleware"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/jason-s-yu/raven/internal/table"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// inboundMessage is one event sent by the client: {"type": ..., "data": ...}.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type chatPayload struct {
	Message string `json:"message"`
}

// TableWSHandler upgrades a player's request into their channel for one
// session. The ticket decides who the player is and which role they hold.
func (s *Server) TableWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		ticket, err := s.Tickets.Verify(ticketFromRequest(r))
		if err != nil {
			s.Logger.Warnf("rejecting websocket from %s: %v", r.RemoteAddr, err)
			writeDirect(ctx, c, table.EventSessionError, "Invalid socket session. Please refresh your browser.")
			c.Close(InvalidTicketError, "invalid ticket")
			return
		}

		sess, err := s.Sessions.Get(ctx, ticket.SessionID)
		if err != nil {
			if !apperrors.IsCode(err, apperrors.CodeNotFound) {
				s.Logger.Errorf("unable to look up game %s: %v", ticket.SessionID, err)
			}
			writeDirect(ctx, c, table.EventError, "Unable to lookup requested game. Try refreshing your browser.")
			c.Close(SessionNotFoundError, "unknown session")
			return
		}
		if sess.Roles[ticket.Role] != ticket.GamingID {
			s.Logger.WithFields(logrus.Fields{"session": sess.ID, "identity": ticket.GamingID, "role": ticket.Role}).
				Warn("ticket does not match role assignment")
			writeDirect(ctx, c, table.EventSessionError, "Invalid socket session. Please refresh your browser.")
			c.Close(InvalidTicketError, "role mismatch")
			return
		}

		conn := table.NewConn(ticket.GamingID, ticket.Role, s.queueSize(), s.Logger)
		log := s.Logger.WithFields(logrus.Fields{"session": sess.ID, "identity": conn.GamingID()})

		// Start the write pump first so the greeting AddPlayer queues goes out promptly.
		go writePump(ctx, cancel, c, conn, log)

		tbl, err := s.attach(ctx, sess, conn)
		if err != nil {
			log.Errorf("failed to join table: %v", err)
			if tbl != nil && apperrors.IsCode(err, apperrors.CodePersistenceFailure) {
				s.Tables.Evict(tbl)
			} else {
				conn.Send(table.EventSessionError, "Unable to join game. Please refresh your browser.")
				conn.Close()
			}
			<-ctx.Done()
			return
		}
		middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, sess.ID.String(), conn.GamingID())

		readErr := s.readPump(ctx, c, tbl, conn, log)

		tbl.RemovePlayer(conn)
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, sess.ID.String(), conn.GamingID(), readErr)
		log.Infof("connected users: %d", s.Tables.TotalConnectedPlayers())
	}
}

// attach joins conn to the session's table. A table unloaded between lookup
// and join is replaced once by a fresh one.
func (s *Server) attach(ctx context.Context, sess *models.Session, conn *table.Conn) (*table.Table, error) {
	for attempt := 0; ; attempt++ {
		tbl, err := s.Tables.FindOrCreate(ctx, sess)
		if err != nil {
			return nil, err
		}
		err = tbl.AddPlayer(ctx, conn)
		if errors.Is(err, table.ErrClosed) && attempt == 0 {
			continue
		}
		return tbl, err
	}
}

// readPump dispatches client events until the socket closes or the
// connection is detached. Errors go back to this player only.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, tbl *table.Table, conn *table.Conn, log *logrus.Entry) error {
	for {
		msgType, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.MessageText {
			log.Warnf("ignoring non-text message type %d", msgType)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("invalid JSON: %v", err)
			conn.Send(table.EventError, "Invalid JSON format.")
			continue
		}
		log.Debugf("%s: %s", msg.Type, string(msg.Data))

		err = s.dispatch(ctx, tbl, conn, msg)
		switch {
		case err == nil:
		case errors.Is(err, table.ErrClosed):
			return nil
		case apperrors.IsCode(err, apperrors.CodePersistenceFailure):
			s.Tables.Evict(tbl)
			return err
		default:
			conn.Send(table.EventError, userMessage(err))
		}
	}
}

func (s *Server) dispatch(ctx context.Context, tbl *table.Table, conn *table.Conn, msg inboundMessage) error {
	switch msg.Type {
	case table.InboundMessage:
		var p chatPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				return apperrors.New(apperrors.CodeInvalidOperation, "invalid chat message")
			}
		}
		return tbl.RecordChatMessage(ctx, conn.GamingID(), conn.Role(), p.Message)
	case table.InboundOfferDraw:
		return tbl.OfferDraw(ctx, conn.GamingID())
	case table.InboundAcceptDraw:
		return tbl.AcceptDraw(ctx, conn.GamingID())
	case table.InboundRejectDraw:
		return tbl.RejectDraw(ctx, conn.GamingID())
	default:
		return tbl.HandleGameEvent(ctx, conn, msg.Type, msg.Data)
	}
}

// writePump drains the connection's queue onto the socket and pings. Once
// the table detaches the connection, whatever is still queued is flushed
// before the socket is closed.
func writePump(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, conn *table.Conn, log *logrus.Entry) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-conn.Out():
			if err := writeMessage(ctx, c, msg); err != nil {
				log.Warnf("failed to write to websocket: %v", err)
				return
			}
		case <-conn.Done():
			for {
				select {
				case msg := <-conn.Out():
					if err := writeMessage(ctx, c, msg); err != nil {
						return
					}
				default:
					c.Close(DetachedError, "connection detached")
					return
				}
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				log.Warnf("failed to send ping: %v. Assuming disconnect.", err)
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, c *websocket.Conn, msg table.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}

// writeDirect is for events sent before a connection exists.
func writeDirect(ctx context.Context, c *websocket.Conn, event string, payload any) {
	msg, err := table.NewMessage(event, payload)
	if err != nil {
		return
	}
	_ = writeMessage(ctx, c, msg)
}
