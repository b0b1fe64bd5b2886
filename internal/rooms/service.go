package rooms

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caltalk/bridge/internal/appointments"
	"github.com/caltalk/bridge/internal/settings"
	"github.com/caltalk/bridge/internal/talk"
)

// Service adapts per-user protocol clients to the single room interface the
// binding engine drives. Each call resolves the room's owning appointment
// and builds a client from that user's credentials.
type Service struct {
	appts    *appointments.Repository
	provider *settings.Provider
	logger   *zap.Logger
}

// NewService creates a room service over the appointment store and the
// credential provider.
func NewService(appts *appointments.Repository, provider *settings.Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{appts: appts, provider: provider, logger: logger}
}

func (s *Service) clientFor(ctx context.Context, token string) (*talk.Client, error) {
	row, err := s.appts.GetByRoomToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve owner of room %s: %w", token, err)
	}
	client, err := s.provider.ClientFor(ctx, row.UserID)
	if err != nil {
		return nil, fmt.Errorf("credentials for room %s: %w", token, err)
	}
	return client, nil
}

// UpdateLobby moves the room lobby window to the new appointment times.
func (s *Service) UpdateLobby(ctx context.Context, token string, start, end time.Time, eventConversation bool) error {
	client, err := s.clientFor(ctx, token)
	if err != nil {
		return err
	}
	return client.UpdateLobby(ctx, token, start, end, eventConversation)
}

// UpdateDescription pushes appointment body text into the room description.
func (s *Service) UpdateDescription(ctx context.Context, token, text string, eventConversation bool) error {
	client, err := s.clientFor(ctx, token)
	if err != nil {
		return err
	}
	return client.UpdateDescription(ctx, token, text, eventConversation)
}

// DeleteRoom removes the room on the server.
func (s *Service) DeleteRoom(ctx context.Context, token string, eventConversation bool) error {
	client, err := s.clientFor(ctx, token)
	if err != nil {
		return err
	}
	return client.DeleteRoom(ctx, token, eventConversation)
}
