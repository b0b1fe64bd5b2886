package models

import (
	"time"

	"github.com/google/uuid"
)

// Appointment represents a calendar appointment mirrored from a user's
// source calendar. ExternalRef is the source-calendar identifier: it is
// empty while the appointment is an unsaved draft and is assigned on the
// first save.
type Appointment struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Organizer   bool      `json:"organizer"`
	Draft       bool      `json:"draft"`

	// Room metadata, empty until a conversation room is attached.
	RoomToken             string     `json:"room_token,omitempty"`
	RoomURL               string     `json:"room_url,omitempty"`
	RoomEventConversation bool       `json:"room_event_conversation"`
	RoomLobbyEnabled      bool       `json:"room_lobby_enabled"`
	RoomSearchVisible     bool       `json:"room_search_visible"`
	RoomLobbyTimer        *time.Time `json:"room_lobby_timer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRoom reports whether the appointment carries room metadata.
func (a *Appointment) HasRoom() bool { return a.RoomToken != "" }
