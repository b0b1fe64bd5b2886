package binding

import (
	"time"

	"github.com/google/uuid"
)

// Binding associates one local appointment with one remote room. All fields
// are guarded by the owning engine's mutex; reads outside the engine go
// through the snapshot accessors.
type Binding struct {
	object   uuid.UUID
	token    string
	identity string

	eventConversation bool
	lobbyEnabled      bool
	lobbyTimer        time.Time

	roomDeleted bool
	disposed    bool
}

// Token returns the bound room token.
func (b *Binding) Token() string { return b.token }

// Object returns the host handle of the bound appointment.
func (b *Binding) Object() uuid.UUID { return b.object }

// Identity returns the appointment identity the binding is keyed under,
// empty for drafts.
func (b *Binding) Identity() string { return b.identity }

// EventConversation reports whether the bound room is event-bound.
func (b *Binding) EventConversation() bool { return b.eventConversation }

// Disposed reports whether the binding has been torn down.
func (b *Binding) Disposed() bool { return b.disposed }

// RoomDeleted reports whether the remote room is known to be gone.
func (b *Binding) RoomDeleted() bool { return b.roomDeleted }
