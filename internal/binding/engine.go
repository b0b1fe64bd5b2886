// Package binding keeps local calendar appointments and their remote
// conversation rooms consistent. An Engine owns a Registry of live
// appointment-room bindings and reacts to appointment lifecycle events by
// driving the room service: start-time edits move the lobby timer, body
// edits re-push the description, deletes and discarded drafts tear the room
// down. At most one live binding exists per room token and per appointment
// identity.
package binding

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomService is the slice of the room protocol client the engine drives.
type RoomService interface {
	UpdateLobby(ctx context.Context, token string, start, end time.Time, eventConversation bool) error
	UpdateDescription(ctx context.Context, token, text string, eventConversation bool) error
	DeleteRoom(ctx context.Context, token string, eventConversation bool) error
}

// Notifier surfaces binding outcomes to the appointment's owner: non-fatal
// warnings and successful lobby moves.
type Notifier interface {
	Warn(ctx context.Context, appt Appointment, message string)
	LobbyMoved(ctx context.Context, appt Appointment, at time.Time)
}

// LifecycleHandler receives appointment lifecycle events. Every event
// carries a fresh accessor for the affected appointment.
type LifecycleHandler interface {
	OnWrite(ctx context.Context, appt Appointment)
	OnBeforeDelete(ctx context.Context, appt Appointment)
	OnClose(ctx context.Context, appt Appointment)
}

// LifecycleSource routes host appointment events to a handler. Subscribe
// returns an unsubscribe function.
type LifecycleSource interface {
	Subscribe(h LifecycleHandler) func()
}

// View is a point-in-time copy of a binding, safe to read after the engine
// lock is released.
type View struct {
	Object            uuid.UUID
	Token             string
	Identity          string
	EventConversation bool
	LobbyEnabled      bool
	LobbyTimer        time.Time
	RoomDeleted       bool
}

// Engine implements LifecycleHandler over a Registry. A single mutex guards
// every registry mutation as one atomic unit; room service calls run outside
// the lock against captured snapshots.
type Engine struct {
	mu       sync.Mutex
	registry *Registry
	rooms    RoomService
	notifier Notifier
	logger   *zap.Logger
}

// NewEngine creates an engine over the given registry. notifier may be nil;
// warnings are then only logged.
func NewEngine(registry *Registry, rooms RoomService, notifier Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		rooms:    rooms,
		notifier: notifier,
		logger:   logger,
	}
}

// Size returns the number of live bindings.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Len()
}

// Register binds the appointment to the room named by its metadata. A
// repeated registration of the same appointment and token is a no-op that
// returns the existing binding. A binding already holding the token or the
// identity for a different appointment object is stale and is disposed
// before the new one is inserted, so neither invariant is ever violated.
//
// Appointments without room metadata register nothing and return nil.
func (e *Engine) Register(appt Appointment) *Binding {
	meta := appt.Metadata()
	if !meta.HasRoom() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cur := e.registry.ByIdentity(appt.Identity()); cur != nil {
		if cur.object == appt.ObjectID() && cur.token == meta.Token {
			return cur
		}
		e.disposeLocked(cur, "superseded by identity")
	}
	if cur := e.registry.ByToken(meta.Token); cur != nil {
		if cur.object == appt.ObjectID() {
			return cur
		}
		e.disposeLocked(cur, "superseded by token")
	}

	b := &Binding{
		object:            appt.ObjectID(),
		token:             meta.Token,
		identity:          appt.Identity(),
		eventConversation: meta.EventConversation,
		lobbyEnabled:      meta.LobbyEnabled,
		lobbyTimer:        meta.LobbyTimer,
	}
	e.registry.insert(b)
	e.logger.Debug("binding registered",
		zap.String("token", b.token),
		zap.String("object", b.object.String()))
	return b
}

// Dispose tears the binding down and removes it from every registry view.
// Idempotent.
func (e *Engine) Dispose(b *Binding) {
	if b == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposeLocked(b, "explicit dispose")
}

func (e *Engine) disposeLocked(b *Binding, reason string) {
	if b.disposed {
		return
	}
	b.disposed = true
	e.registry.remove(b)
	e.logger.Debug("binding disposed",
		zap.String("token", b.token),
		zap.String("reason", reason))
}

// DisposeObject drops the binding held for an object, if any. Used when the
// host detaches a room without touching the appointment lifecycle. Reports
// whether a binding was removed.
func (e *Engine) DisposeObject(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.registry.ByObject(id)
	if b == nil {
		return false
	}
	e.disposeLocked(b, "detached")
	return true
}

// LookupToken returns a snapshot of the binding holding a room token.
func (e *Engine) LookupToken(token string) (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked(e.registry.ByToken(token))
}

// LookupObject returns a snapshot of the binding for an appointment object.
func (e *Engine) LookupObject(id uuid.UUID) (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked(e.registry.ByObject(id))
}

// LookupIdentity returns a snapshot of the binding for an appointment
// identity.
func (e *Engine) LookupIdentity(identity string) (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked(e.registry.ByIdentity(identity))
}

func (e *Engine) viewLocked(b *Binding) (View, bool) {
	if b == nil {
		return View{}, false
	}
	return View{
		Object:            b.object,
		Token:             b.token,
		Identity:          b.identity,
		EventConversation: b.eventConversation,
		LobbyEnabled:      b.lobbyEnabled,
		LobbyTimer:        b.lobbyTimer,
		RoomDeleted:       b.roomDeleted,
	}, true
}

// OnWrite handles a local save. Non-organizer appointments are ignored
// outright. For organizers the lobby timer follows the start time, the
// description is re-pushed best effort, and a settled appointment identity
// re-keys the registry's identity view.
func (e *Engine) OnWrite(ctx context.Context, appt Appointment) {
	e.mu.Lock()
	b := e.registry.ByObject(appt.ObjectID())
	if b == nil || b.disposed || !appt.Organizer() {
		e.mu.Unlock()
		return
	}
	snapshot, _ := e.viewLocked(b)
	e.mu.Unlock()

	if snapshot.LobbyEnabled && !appt.Start().Equal(snapshot.LobbyTimer) {
		e.moveLobby(ctx, appt, b, snapshot)
	}

	if err := e.rooms.UpdateDescription(ctx, snapshot.Token, appt.Body(), snapshot.EventConversation); err != nil {
		e.warn(ctx, appt, "room description could not be updated", err)
	}

	e.mu.Lock()
	if !b.disposed {
		if id := appt.Identity(); id != "" && id != b.identity {
			e.registry.rekey(b, id)
			e.logger.Debug("binding re-keyed",
				zap.String("token", b.token),
				zap.String("identity", id))
		}
	}
	e.mu.Unlock()
}

// moveLobby pushes the new start time to the room lobby and, on success,
// records it on the binding and back onto the appointment metadata so a
// repeated save with the same time is quiet.
func (e *Engine) moveLobby(ctx context.Context, appt Appointment, b *Binding, snapshot View) {
	if err := e.rooms.UpdateLobby(ctx, snapshot.Token, appt.Start(), appt.End(), snapshot.EventConversation); err != nil {
		e.warn(ctx, appt, "room lobby could not follow the new start time", err)
		return
	}

	e.mu.Lock()
	if !b.disposed {
		b.lobbyTimer = appt.Start()
	}
	e.mu.Unlock()

	meta := appt.Metadata()
	meta.LobbyTimer = appt.Start()
	if err := appt.SetMetadata(ctx, meta); err != nil {
		e.logger.Warn("lobby timestamp not persisted to appointment",
			zap.String("token", snapshot.Token), zap.Error(err))
	}
	if e.notifier != nil {
		e.notifier.LobbyMoved(ctx, appt, appt.Start())
	}
}

// OnBeforeDelete handles an explicit local delete. Organizer-owned bindings
// delete the remote room first; the local delete is never blocked on the
// outcome, failures surface as a warning. The binding is disposed either
// way.
func (e *Engine) OnBeforeDelete(ctx context.Context, appt Appointment) {
	e.mu.Lock()
	b := e.registry.ByObject(appt.ObjectID())
	if b == nil || b.disposed {
		e.mu.Unlock()
		return
	}
	if !appt.Organizer() {
		e.disposeLocked(b, "non-organizer delete")
		e.mu.Unlock()
		return
	}
	snapshot, _ := e.viewLocked(b)
	e.mu.Unlock()

	e.deleteRemote(ctx, appt, b, snapshot)

	e.mu.Lock()
	e.disposeLocked(b, "appointment deleted")
	e.mu.Unlock()
}

// OnClose handles a window close. Saved appointments keep their binding; a
// never-saved draft that created a room abandons it, so the room is deleted
// best effort, the draft's metadata is cleared and the binding disposed.
func (e *Engine) OnClose(ctx context.Context, appt Appointment) {
	e.mu.Lock()
	b := e.registry.ByObject(appt.ObjectID())
	if b == nil || b.disposed || appt.Saved() {
		e.mu.Unlock()
		return
	}
	if !appt.Organizer() {
		e.disposeLocked(b, "non-organizer discard")
		e.mu.Unlock()
		return
	}
	snapshot, _ := e.viewLocked(b)
	e.mu.Unlock()

	e.deleteRemote(ctx, appt, b, snapshot)
	if err := appt.ClearMetadata(ctx); err != nil {
		e.logger.Warn("room metadata not cleared from discarded draft",
			zap.String("token", snapshot.Token), zap.Error(err))
	}

	e.mu.Lock()
	e.disposeLocked(b, "draft discarded")
	e.mu.Unlock()
}

func (e *Engine) deleteRemote(ctx context.Context, appt Appointment, b *Binding, snapshot View) {
	if snapshot.RoomDeleted {
		return
	}
	if err := e.rooms.DeleteRoom(ctx, snapshot.Token, snapshot.EventConversation); err != nil {
		e.warn(ctx, appt, "room could not be deleted on the server", err)
		return
	}
	e.mu.Lock()
	b.roomDeleted = true
	e.mu.Unlock()
}

func (e *Engine) warn(ctx context.Context, appt Appointment, message string, err error) {
	e.logger.Warn(message,
		zap.String("object", appt.ObjectID().String()),
		zap.Error(err))
	if e.notifier != nil {
		e.notifier.Warn(ctx, appt, message)
	}
}
