package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/events"
)

const (
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Connection streams one session's events to a browser.
type Connection struct {
	sessionID    string
	ws           *websocket.Conn
	sub          *events.Subscription
	logger       *zap.Logger
	writeTimeout time.Duration
}

// NewConnection builds connection wrapper.
func NewConnection(sessionID string, ws *websocket.Conn, sub *events.Subscription, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	return &Connection{
		sessionID:    sessionID,
		ws:           ws,
		sub:          sub,
		logger:       logger,
		writeTimeout: writeTimeout,
	}
}

// Run pumps events until the client goes away, ctx is done or the
// subscription is closed. initial, when set, is written first.
func (c *Connection) Run(ctx context.Context, initial *events.Event) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.ws.Close()

	go func() {
		c.readPump()
		cancel()
	}()

	if initial != nil {
		if err := c.writeEvent(*initial); err != nil {
			return
		}
	}
	c.writePump(ctx)
}

// readPump only services control frames; the stream is one-way.
func (c *Connection) readPump() {
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.logger.Debug("event stream read closed", zap.String("session_id", c.sessionID), zap.Error(err))
			return
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case e, ok := <-c.sub.C:
			if !ok {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.writeEvent(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("encode event failed", zap.String("session_id", c.sessionID), zap.Error(err))
		return nil
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		c.logger.Debug("event stream write failed", zap.String("session_id", c.sessionID), zap.Error(err))
		return err
	}
	return nil
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}
