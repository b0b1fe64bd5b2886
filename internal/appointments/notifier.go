package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caltalk/bridge/internal/binding"
	"github.com/caltalk/bridge/internal/realtime"
)

// Notifier surfaces binding outcomes on the owner's realtime stream. Sync
// problems never fail the triggering request; this is how the user still
// hears about them.
type Notifier struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

func NewNotifier(hub *realtime.Hub, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{hub: hub, logger: logger}
}

func (n *Notifier) Warn(ctx context.Context, appt binding.Appointment, message string) {
	owner, ok := appt.(interface{ OwnerID() uuid.UUID })
	if !ok || n.hub == nil {
		n.logger.Warn("binding warning not deliverable", zap.String("message", message))
		return
	}
	n.hub.SendToUser(owner.OwnerID(), realtime.EventSyncWarning, map[string]any{
		"appointment_id": appt.ObjectID(),
		"message":        message,
	})
}

func (n *Notifier) LobbyMoved(ctx context.Context, appt binding.Appointment, at time.Time) {
	owner, ok := appt.(interface{ OwnerID() uuid.UUID })
	if !ok || n.hub == nil {
		return
	}
	n.hub.SendToUser(owner.OwnerID(), realtime.EventLobbyUpdated, map[string]any{
		"appointment_id": appt.ObjectID(),
		"lobby_timer":    at,
	})
}
