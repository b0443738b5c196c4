// Package server manages individual WebSocket clients: the reader that
// dispatches commands and the writer that drains the connection mailbox.
package server

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/bridge"
	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	publishTimeout = 5 * time.Second
)

// Client is one accepted connection. The registry owns its handle; the client
// only holds the handle to reach its mailbox.
type Client struct {
	conn     *websocket.Conn
	handle   *registry.Conn
	registry *registry.Registry
	bridge   *bridge.Bridge
	addr     string
	maxSize  int64
	limiter  *rateLimiter
	state    atomic.Int32
	log      zerolog.Logger
}

func newClient(conn *websocket.Conn, handle *registry.Conn, s *Server, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	logger := s.log.With().Str("conn", string(handle.ID())).Str("remote", addr).Logger()
	if id := handle.Identity(); id != nil {
		logger = logger.With().Str("subject", id.Subject()).Logger()
	}

	return &Client{
		conn:     conn,
		handle:   handle,
		registry: s.registry,
		bridge:   s.bridge,
		addr:     addr,
		maxSize:  s.cfg.MaxMessageSize,
		limiter:  newRateLimiter(s.cfg.RateLimit),
		log:      logger,
	}
}

// ID returns the registry id of the connection.
func (c *Client) ID() registry.ConnID {
	return c.handle.ID()
}

func (c *Client) currentState() connState {
	return connState(c.state.Load())
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn().Err(err).Msg("setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError logs a read error at a level matching how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.maxSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Info().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

// readPump reads frames until the transport closes, then asks the writer to
// close the connection. It never removes the connection itself.
func (c *Client) readPump() {
	defer c.beginClose()

	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.currentState() == stateOpen {
				c.logReadError(err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.reply(protocol.Error(protocol.MethodUnknown, "only text frames are accepted"))
			continue
		}

		if !c.limiter.allow() {
			c.log.Warn().Int("burst", c.limiter.burst()).Msg("rate limit exceeded; discarding command")
			c.reply(protocol.Error(protocol.MethodUnknown, "rate limit exceeded"))
			continue
		}

		c.dispatch(raw)
	}
}

// dispatch decodes and executes a single command frame. Every failure is
// reported to the client and none of them ends the connection.
func (c *Client) dispatch(raw []byte) {
	cmd, err := protocol.DecodeCommand(raw)
	if err != nil {
		method := protocol.MethodUnknown
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) {
			method = decodeErr.Method
		}
		c.log.Debug().Err(err).Msg("invalid command")
		c.reply(protocol.Error(method, err.Error()))
		return
	}

	switch cmd.Method {
	case protocol.MethodJoin:
		c.join(cmd.Room)
	case protocol.MethodLeave:
		c.leave(cmd.Room)
	case protocol.MethodMessage:
		c.publish(cmd.Room, cmd.Text)
	}
}

func (c *Client) join(name string) {
	if !bridge.ValidRoom(name) {
		c.reply(protocol.Error(protocol.MethodJoin, "invalid room name"))
		return
	}

	room, err := c.registry.Join(name, c.ID())
	switch {
	case errors.Is(err, registry.ErrAlreadyMember):
		c.reply(protocol.Error(protocol.MethodJoin, "already a member of room "+name))
	case err != nil:
		c.log.Warn().Err(err).Str("room", name).Msg("join failed")
		c.reply(protocol.Error(protocol.MethodJoin, err.Error()))
	default:
		c.log.Info().Str("room", name).Int("members", room.Len()).Msg("joined room")
		c.reply(protocol.OKWithData(protocol.MethodJoin, "joined room", name))
	}
}

func (c *Client) leave(name string) {
	room, err := c.registry.Leave(name, c.ID())
	switch {
	case errors.Is(err, registry.ErrRoomNotFound):
		c.reply(protocol.Error(protocol.MethodLeave, "room not found: "+name))
	case err != nil:
		c.log.Warn().Err(err).Str("room", name).Msg("leave failed")
		c.reply(protocol.Error(protocol.MethodLeave, err.Error()))
	default:
		c.log.Info().Str("room", name).Int("members", room.Len()).Msg("left room")
		c.reply(protocol.OKWithData(protocol.MethodLeave, "left room", name))
	}
}

// publish hands the message to the bridge. Members, the sender included,
// receive it when the relay delivers it back.
func (c *Client) publish(name, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.bridge.Publish(ctx, name, text); err != nil {
		c.log.Warn().Err(err).Str("room", name).Msg("publish failed")
		c.reply(protocol.Error(protocol.MethodMessage, errors.Cause(err).Error()))
		return
	}
	c.log.Debug().Str("room", name).Msg("published message")
}

// reply queues ev for this connection only.
func (c *Client) reply(ev protocol.Event) {
	if err := c.registry.SendTo(c.ID(), ev); err != nil {
		c.log.Warn().Err(err).Str("method", string(ev.Method)).Msg("dropping reply")
	}
}

// beginClose moves the connection to Closing and queues the close
// instruction on its own mailbox. Only the first call has any effect.
func (c *Client) beginClose() {
	if !c.state.CompareAndSwap(int32(stateOpen), int32(stateClosing)) {
		return
	}
	if err := c.handle.Mailbox().Send(protocol.Close()); err != nil {
		c.log.Debug().Err(err).Msg("close instruction not queued")
	}
}

// writePump drains the mailbox. It is the only place a connection is closed
// and removed from the registry.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.finish()
	}()

	mailbox := c.handle.Mailbox()
	for {
		select {
		case <-mailbox.Quit():
			c.writeCloseMessage()
			return
		case ev := <-mailbox.Events():
			if !c.writeEvent(ev) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// finish closes the transport and removes the connection everywhere.
func (c *Client) finish() {
	c.state.Store(int32(stateClosed))

	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn().Err(err).Msg("closing connection")
	}

	c.registry.RemoveEverywhere(c.ID())
	c.log.Info().Msg("connection closed")
}

// writeCloseMessage sends a close frame to the peer
func (c *Client) writeCloseMessage() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("writing close message")
	}
}

// writeEvent writes one event as a JSON text frame and returns false if the
// connection should be closed.
func (c *Client) writeEvent(ev protocol.Event) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting write deadline")
		return false
	}
	if err := c.conn.WriteJSON(ev); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("writing event")
		}
		return false
	}
	return true
}

// writePing sends a ping message to keep the connection alive
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn().Err(err).Msg("setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn().Err(err).Msg("writing ping")
		return false
	}
	return true
}
