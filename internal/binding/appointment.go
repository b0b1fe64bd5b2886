package binding

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Appointment is the engine's view of one local calendar appointment. The
// host hands a fresh accessor to every lifecycle event so the engine never
// reads stale state.
type Appointment interface {
	// ObjectID is the host's stable handle for the appointment record. It
	// never changes, whether the record has been saved or not.
	ObjectID() uuid.UUID

	// Identity is the source-calendar identifier of the appointment. It is
	// empty until the first save and changes at most once afterwards.
	Identity() string

	// Organizer reports whether the local user owns the appointment.
	// Non-organizers never mutate the remote room.
	Organizer() bool

	// Saved reports whether the record has ever been written to the
	// calendar store. Unsaved records are drafts.
	Saved() bool

	Title() string
	Body() string
	Start() time.Time
	End() time.Time

	// Metadata reads the room fields stored on the appointment.
	Metadata() Metadata
	// SetMetadata persists the room fields back onto the appointment.
	SetMetadata(ctx context.Context, m Metadata) error
	// ClearMetadata removes every room field from the appointment.
	ClearMetadata(ctx context.Context) error
}

// Metadata is the room state carried on an appointment record. Token is the
// anchor: an appointment without a token has no room.
type Metadata struct {
	Token             string    `json:"token"`
	URL               string    `json:"url"`
	EventConversation bool      `json:"event_conversation"`
	LobbyEnabled      bool      `json:"lobby_enabled"`
	SearchVisible     bool      `json:"search_visible"`
	LobbyTimer        time.Time `json:"lobby_timer"`
}

// HasRoom reports whether the appointment is bound to a remote room.
func (m Metadata) HasRoom() bool { return m.Token != "" }
