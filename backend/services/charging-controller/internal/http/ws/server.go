package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/events"
)

// Server upgrades HTTP connections to session event streams.
type Server struct {
	hub          *events.Hub
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(hub *events.Hub, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		hub:          hub,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request and blocks until the stream ends. initial is
// evaluated after subscribing so no event falls between the two.
func (s *Server) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string, initial func() *events.Event) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	sub := s.hub.Subscribe(sessionID)
	defer s.hub.Unsubscribe(sub)

	s.logger.Debug("event stream opened", zap.String("session_id", sessionID), zap.String("subscriber", sub.ID))
	var first *events.Event
	if initial != nil {
		first = initial()
	}
	NewConnection(sessionID, conn, sub, s.writeTimeout, s.logger).Run(ctx, first)
}
