package controller

import (
	"context"
	"time"

	"evcharge/backend/services/charging-controller/internal/events"
	"evcharge/backend/services/charging-controller/internal/navguard"
)

// EventNavigator delivers navigation as a navigate event on the session
// stream; the page follows Location.
type EventNavigator struct {
	Events events.Publisher
	Now    func() time.Time
}

func (n EventNavigator) Navigate(_ context.Context, sessionID string, route navguard.Route) {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	n.Events.Publish(events.Event{
		Type:      events.TypeNavigate,
		SessionID: sessionID,
		At:        now(),
		Location:  route.String(),
	})
}
