package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caltalk/bridge/internal/binding"
	"github.com/caltalk/bridge/internal/models"
)

// Accessor adapts one appointment row to the binding engine. Every lifecycle
// dispatch builds a fresh accessor over the row as currently stored, so the
// engine always reads current state.
type Accessor struct {
	row  *models.Appointment
	repo *Repository
}

func NewAccessor(row *models.Appointment, repo *Repository) *Accessor {
	return &Accessor{row: row, repo: repo}
}

func (a *Accessor) ObjectID() uuid.UUID { return a.row.ID }
func (a *Accessor) Identity() string    { return a.row.ExternalRef }
func (a *Accessor) Organizer() bool     { return a.row.Organizer }
func (a *Accessor) Saved() bool         { return !a.row.Draft }
func (a *Accessor) Title() string       { return a.row.Title }
func (a *Accessor) Body() string        { return a.row.Body }
func (a *Accessor) Start() time.Time    { return a.row.StartsAt }
func (a *Accessor) End() time.Time      { return a.row.EndsAt }

// OwnerID is the bridge user owning the row. Realtime notifications are
// addressed to it.
func (a *Accessor) OwnerID() uuid.UUID { return a.row.UserID }

// Row exposes the underlying record for handlers that already hold an
// accessor.
func (a *Accessor) Row() *models.Appointment { return a.row }

func (a *Accessor) Metadata() binding.Metadata {
	m := binding.Metadata{
		Token:             a.row.RoomToken,
		URL:               a.row.RoomURL,
		EventConversation: a.row.RoomEventConversation,
		LobbyEnabled:      a.row.RoomLobbyEnabled,
		SearchVisible:     a.row.RoomSearchVisible,
	}
	if a.row.RoomLobbyTimer != nil {
		m.LobbyTimer = *a.row.RoomLobbyTimer
	}
	return m
}

func (a *Accessor) SetMetadata(ctx context.Context, m binding.Metadata) error {
	if err := a.repo.SetRoom(ctx, a.row.ID, m); err != nil {
		return err
	}
	a.row.RoomToken = m.Token
	a.row.RoomURL = m.URL
	a.row.RoomEventConversation = m.EventConversation
	a.row.RoomLobbyEnabled = m.LobbyEnabled
	a.row.RoomSearchVisible = m.SearchVisible
	a.row.RoomLobbyTimer = nullableTime(m.LobbyTimer)
	return nil
}

func (a *Accessor) ClearMetadata(ctx context.Context) error {
	if err := a.repo.ClearRoom(ctx, a.row.ID); err != nil {
		return err
	}
	a.row.RoomToken = ""
	a.row.RoomURL = ""
	a.row.RoomEventConversation = false
	a.row.RoomLobbyEnabled = false
	a.row.RoomSearchVisible = false
	a.row.RoomLobbyTimer = nil
	return nil
}
