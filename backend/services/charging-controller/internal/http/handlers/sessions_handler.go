package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/controller"
	"evcharge/backend/services/charging-controller/internal/events"
	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/navguard"
)

// Sessions is the controller registry.
type Sessions interface {
	Attach(opts controller.Options) (*controller.Controller, error)
	Get(sessionID string) (*controller.Controller, error)
}

// MetaWriter persists the write-once session meta record.
type MetaWriter interface {
	SaveMeta(ctx context.Context, meta models.SessionMeta) (bool, error)
}

// Streamer serves the websocket event stream.
type Streamer interface {
	Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string, initial func() *events.Event)
}

// SessionsHandler exposes controller operations over HTTP.
type SessionsHandler struct {
	sessions Sessions
	metas    MetaWriter
	flag     navguard.ActiveFlag
	streamer Streamer
	logger   *zap.Logger
	now      func() time.Time
	// streamCtx bounds websocket streams; it outlives single requests.
	streamCtx context.Context
}

// NewSessionsHandler builds handler.
func NewSessionsHandler(streamCtx context.Context, sessions Sessions, metas MetaWriter, flag navguard.ActiveFlag, streamer Streamer, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions:  sessions,
		metas:     metas,
		flag:      flag,
		streamer:  streamer,
		logger:    logger,
		now:       time.Now,
		streamCtx: streamCtx,
	}
}

type startRequest struct {
	SessionID   string                   `json:"session_id"`
	Reservation *models.ReservationBrief `json:"reservation,omitempty"`
	Vehicle     *models.VehicleBrief     `json:"vehicle,omitempty"`
}

type decisionRequest struct {
	Action controller.Decision `json:"action"`
}

// Start attaches a controller to a session. Repeating the call for an
// attached session returns its current view.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	meta := models.SessionMeta{SessionID: req.SessionID, CreatedAt: h.now()}
	if req.Reservation != nil {
		meta.ReservationID = req.Reservation.ID
	}
	if req.Vehicle != nil {
		meta.VehicleID = req.Vehicle.ID
		meta.InitialSOC = req.Vehicle.InitialSOC
	}
	if _, err := h.metas.SaveMeta(r.Context(), meta); err != nil {
		h.logger.Error("save session meta failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start session")
		return
	}

	// The flag is raised before the controller can tick so a session that
	// completes during attach clears it last.
	h.setActive(r.Context(), req.SessionID, true)
	c, err := h.sessions.Attach(controller.Options{
		SessionID:   req.SessionID,
		Reservation: req.Reservation,
		Vehicle:     req.Vehicle,
	})
	status := http.StatusCreated
	switch {
	case errors.Is(err, controller.ErrSessionExists):
		status = http.StatusOK
	case err != nil:
		h.setActive(r.Context(), req.SessionID, false)
		h.logger.Error("attach controller failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start session")
		return
	}

	view := c.View()
	if view.Phase == controller.PhaseCompleted && (view.Stop == nil || view.Stop.Settlement != models.SettlementManualRequired) {
		h.setActive(r.Context(), req.SessionID, false)
	}
	writeJSON(w, status, view)
}

func (h *SessionsHandler) setActive(ctx context.Context, sessionID string, active bool) {
	if err := h.flag.SetActive(ctx, active); err != nil {
		h.logger.Warn("set active flag failed", zap.String("session_id", sessionID), zap.Bool("active", active), zap.Error(err))
	}
}

// Get returns the session view.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

// Pause halts ticking.
func (h *SessionsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(c *controller.Controller) error { return c.Pause() })
}

// Resume restarts ticking.
func (h *SessionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(c *controller.Controller) error { return c.Resume() })
}

// End stops the session at the user's request.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(c *controller.Controller) error { return c.EndSession(r.Context()) })
}

// DismissNotice clears the session notice.
func (h *SessionsHandler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(c *controller.Controller) error {
		c.DismissNotice()
		return nil
	})
}

// Decide answers a deadline prompt.
func (h *SessionsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.act(w, r, func(c *controller.Controller) error { return c.Decide(r.Context(), req.Action) })
}

// Events streams session events over websocket.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.streamer.Serve(h.streamCtx, w, r, c.ID(), func() *events.Event {
		v := c.View()
		return &events.Event{
			Type:      events.TypeSnapshot,
			SessionID: c.ID(),
			At:        h.now(),
			Snapshot:  v.Snapshot,
			SOC:       v.SOC,
			Decision:  v.Decision,
			Notice:    v.Notice,
			Stop:      v.Stop,
		}
	})
}

func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*controller.Controller, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return nil, false
	}
	c, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return c, true
}

func (h *SessionsHandler) act(w http.ResponseWriter, r *http.Request, fn func(*controller.Controller) error) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := fn(c); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("session action failed", zap.String("session_id", c.ID()), zap.String("path", r.URL.Path), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrStopFailed):
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}
