package binding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeAppointment struct {
	id        uuid.UUID
	identity  string
	organizer bool
	saved     bool
	title     string
	body      string
	start     time.Time
	end       time.Time
	meta      Metadata

	metaWrites int
	cleared    bool
}

func (f *fakeAppointment) ObjectID() uuid.UUID { return f.id }
func (f *fakeAppointment) Identity() string    { return f.identity }
func (f *fakeAppointment) Organizer() bool     { return f.organizer }
func (f *fakeAppointment) Saved() bool         { return f.saved }
func (f *fakeAppointment) Title() string       { return f.title }
func (f *fakeAppointment) Body() string        { return f.body }
func (f *fakeAppointment) Start() time.Time    { return f.start }
func (f *fakeAppointment) End() time.Time      { return f.end }
func (f *fakeAppointment) Metadata() Metadata  { return f.meta }

func (f *fakeAppointment) SetMetadata(_ context.Context, m Metadata) error {
	f.meta = m
	f.metaWrites++
	return nil
}

func (f *fakeAppointment) ClearMetadata(_ context.Context) error {
	f.meta = Metadata{}
	f.cleared = true
	return nil
}

type fakeRooms struct {
	lobby       []string
	description []string
	deleted     []string

	lobbyErr  error
	descErr   error
	deleteErr error
}

func (f *fakeRooms) UpdateLobby(_ context.Context, token string, _, _ time.Time, _ bool) error {
	f.lobby = append(f.lobby, token)
	return f.lobbyErr
}

func (f *fakeRooms) UpdateDescription(_ context.Context, token, _ string, _ bool) error {
	f.description = append(f.description, token)
	return f.descErr
}

func (f *fakeRooms) DeleteRoom(_ context.Context, token string, _ bool) error {
	f.deleted = append(f.deleted, token)
	return f.deleteErr
}

func (f *fakeRooms) calls() int {
	return len(f.lobby) + len(f.description) + len(f.deleted)
}

type fakeNotifier struct {
	warnings   []string
	lobbyMoves []time.Time
}

func (f *fakeNotifier) Warn(_ context.Context, _ Appointment, message string) {
	f.warnings = append(f.warnings, message)
}

func (f *fakeNotifier) LobbyMoved(_ context.Context, _ Appointment, at time.Time) {
	f.lobbyMoves = append(f.lobbyMoves, at)
}

func testEngine(t *testing.T) (*Engine, *Registry, *fakeRooms, *fakeNotifier) {
	t.Helper()
	reg := NewRegistry()
	rooms := &fakeRooms{}
	notifier := &fakeNotifier{}
	return NewEngine(reg, rooms, notifier, nil), reg, rooms, notifier
}

func organizerAppt(token, identity string) *fakeAppointment {
	return &fakeAppointment{
		id:        uuid.New(),
		identity:  identity,
		organizer: true,
		saved:     identity != "",
		title:     "Standup",
		body:      "agenda",
		start:     time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC),
		end:       time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC),
		meta:      Metadata{Token: token, URL: "https://cloud.example.com/call/" + token},
	}
}

func TestRegisterRequiresRoom(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	appt := organizerAppt("", "id-1")
	if b := e.Register(appt); b != nil {
		t.Fatalf("appointment without token registered: %+v", b)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry size = %d, want 0", reg.Len())
	}
}

func TestRegisterIdempotent(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")

	first := e.Register(appt)
	if first == nil {
		t.Fatal("registration returned nil")
	}
	first.lobbyTimer = appt.start // internal state that must survive

	second := e.Register(appt)
	if second != first {
		t.Fatal("re-registration replaced the binding")
	}
	if !second.lobbyTimer.Equal(appt.start) {
		t.Fatal("re-registration reset binding state")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}
}

func TestRegisterSupersedesByToken(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	old := organizerAppt("tok1", "id-old")
	stale := e.Register(old)

	// A different appointment claims the same token.
	fresh := organizerAppt("tok1", "id-new")
	live := e.Register(fresh)

	if !stale.Disposed() {
		t.Fatal("stale binding not disposed")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}
	if reg.ByToken("tok1") != live {
		t.Fatal("token view does not point at the new binding")
	}
	if reg.ByObject(old.id) != nil {
		t.Fatal("dangling object-view entry for the stale binding")
	}
	if reg.ByIdentity("id-old") != nil {
		t.Fatal("dangling identity-view entry for the stale binding")
	}
	if reg.ByIdentity("id-new") != live {
		t.Fatal("identity view does not point at the new binding")
	}
}

func TestRegisterSupersedesByIdentity(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	old := organizerAppt("tok1", "id-1")
	stale := e.Register(old)

	// The same identity reappears on a different object with a new room.
	fresh := organizerAppt("tok2", "id-1")
	live := e.Register(fresh)

	if !stale.Disposed() {
		t.Fatal("stale binding not disposed")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Len())
	}
	if reg.ByToken("tok1") != nil {
		t.Fatal("dangling token-view entry for the stale binding")
	}
	if reg.ByToken("tok2") != live || reg.ByIdentity("id-1") != live {
		t.Fatal("views disagree about the live binding")
	}
}

func TestRegisterSameObjectNewToken(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	stale := e.Register(appt)

	appt.meta.Token = "tok2"
	live := e.Register(appt)

	if live == stale {
		t.Fatal("binding with a stale token survived re-registration")
	}
	if !stale.Disposed() {
		t.Fatal("stale binding not disposed")
	}
	if reg.Len() != 1 || reg.ByToken("tok2") != live || reg.ByToken("tok1") != nil {
		t.Fatal("token view inconsistent after re-binding")
	}
}

func TestDraftsShareNoIdentityKey(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	a := organizerAppt("tok1", "")
	b := organizerAppt("tok2", "")

	ba := e.Register(a)
	bb := e.Register(b)

	if ba.Disposed() || bb.Disposed() {
		t.Fatal("unsaved drafts displaced each other")
	}
	if reg.Len() != 2 {
		t.Fatalf("registry size = %d, want 2", reg.Len())
	}
	if reg.ByIdentity("") != nil {
		t.Fatal("empty identity must not be indexed")
	}
}

func TestNonOrganizerEventsArePassive(t *testing.T) {
	e, _, rooms, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	appt.organizer = false
	b := e.Register(appt)
	ctx := context.Background()

	e.OnWrite(ctx, appt)
	if rooms.calls() != 0 {
		t.Fatalf("write produced %d outbound calls for a non-organizer", rooms.calls())
	}
	if b.Disposed() {
		t.Fatal("write disposed a passive binding")
	}

	e.OnBeforeDelete(ctx, appt)
	if rooms.calls() != 0 {
		t.Fatalf("delete produced %d outbound calls for a non-organizer", rooms.calls())
	}
	if !b.Disposed() {
		t.Fatal("local delete must still dispose the binding")
	}
}

func TestWriteMovesLobbyOnStartChange(t *testing.T) {
	e, _, rooms, notifier := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	appt.meta.LobbyEnabled = true
	appt.meta.LobbyTimer = appt.start.Add(-time.Hour) // room still on the old slot
	b := e.Register(appt)
	ctx := context.Background()

	e.OnWrite(ctx, appt)
	if len(rooms.lobby) != 1 {
		t.Fatalf("lobby calls = %d, want 1", len(rooms.lobby))
	}
	if !b.lobbyTimer.Equal(appt.start) {
		t.Fatal("binding did not record the new lobby timestamp")
	}
	if appt.metaWrites != 1 || !appt.meta.LobbyTimer.Equal(appt.start) {
		t.Fatal("new lobby timestamp not persisted to the appointment")
	}
	if len(notifier.lobbyMoves) != 1 || !notifier.lobbyMoves[0].Equal(appt.start) {
		t.Fatalf("lobby move notifications = %v, want one at the new start", notifier.lobbyMoves)
	}
	if len(rooms.description) != 1 {
		t.Fatalf("description calls = %d, want 1", len(rooms.description))
	}

	// Saving again without moving the slot keeps the lobby quiet.
	e.OnWrite(ctx, appt)
	if len(rooms.lobby) != 1 {
		t.Fatalf("lobby calls after quiet save = %d, want still 1", len(rooms.lobby))
	}
	if len(rooms.description) != 2 {
		t.Fatalf("description calls = %d, want 2 (pushed on every save)", len(rooms.description))
	}
}

func TestWriteWithLobbyDisabled(t *testing.T) {
	e, _, rooms, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	e.Register(appt)

	e.OnWrite(context.Background(), appt)
	if len(rooms.lobby) != 0 {
		t.Fatalf("lobby calls = %d, want 0 when lobby is disabled", len(rooms.lobby))
	}
	if len(rooms.description) != 1 {
		t.Fatalf("description calls = %d, want 1", len(rooms.description))
	}
}

func TestWriteLobbyFailureKeepsTimestamp(t *testing.T) {
	e, _, rooms, notifier := testEngine(t)
	rooms.lobbyErr = errors.New("server sad")
	appt := organizerAppt("tok1", "id-1")
	appt.meta.LobbyEnabled = true
	appt.meta.LobbyTimer = appt.start.Add(-time.Hour)
	b := e.Register(appt)

	e.OnWrite(context.Background(), appt)

	if b.lobbyTimer.Equal(appt.start) {
		t.Fatal("failed lobby update must not advance the stored timestamp")
	}
	if appt.metaWrites != 0 {
		t.Fatal("failed lobby update must not touch appointment metadata")
	}
	if len(notifier.warnings) == 0 {
		t.Fatal("lobby failure produced no warning")
	}
	if len(notifier.lobbyMoves) != 0 {
		t.Fatal("failed lobby update must not announce a move")
	}
	if len(rooms.description) != 1 {
		t.Fatal("description push must still happen after a lobby failure")
	}
}

func TestWriteDescriptionFailureIsWarning(t *testing.T) {
	e, _, rooms, notifier := testEngine(t)
	rooms.descErr = errors.New("description rejected")
	appt := organizerAppt("tok1", "id-1")
	b := e.Register(appt)

	e.OnWrite(context.Background(), appt)

	if len(notifier.warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(notifier.warnings))
	}
	if b.Disposed() {
		t.Fatal("description failure must not dispose the binding")
	}
}

func TestWriteRekeysSettledIdentity(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	appt := organizerAppt("tok1", "")
	b := e.Register(appt)
	if reg.ByIdentity("cal-77") != nil {
		t.Fatal("identity indexed before first save")
	}

	// First save settles the identity.
	appt.saved = true
	appt.identity = "cal-77"
	e.OnWrite(context.Background(), appt)

	if reg.ByIdentity("cal-77") != b {
		t.Fatal("identity view not re-keyed after first save")
	}
	if reg.ByToken("tok1") != b || reg.ByObject(appt.id) != b {
		t.Fatal("re-keying disturbed the token or object view")
	}
	if b.Identity() != "cal-77" {
		t.Fatalf("binding identity = %q, want cal-77", b.Identity())
	}
}

func TestDeleteOrganizerRemovesRoom(t *testing.T) {
	e, reg, rooms, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	b := e.Register(appt)

	e.OnBeforeDelete(context.Background(), appt)

	if len(rooms.deleted) != 1 || rooms.deleted[0] != "tok1" {
		t.Fatalf("delete calls = %v, want [tok1]", rooms.deleted)
	}
	if !b.Disposed() || !b.RoomDeleted() {
		t.Fatal("binding state not advanced after delete")
	}
	if reg.Len() != 0 {
		t.Fatalf("registry size = %d, want 0", reg.Len())
	}
}

func TestDeleteRemoteFailureStillDisposes(t *testing.T) {
	e, reg, rooms, notifier := testEngine(t)
	rooms.deleteErr = errors.New("unreachable")
	appt := organizerAppt("tok1", "id-1")
	b := e.Register(appt)

	e.OnBeforeDelete(context.Background(), appt)

	if !b.Disposed() {
		t.Fatal("local delete must dispose the binding even if the server call fails")
	}
	if b.RoomDeleted() {
		t.Fatal("failed delete must not mark the room as gone")
	}
	if len(notifier.warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(notifier.warnings))
	}
	if reg.Len() != 0 {
		t.Fatalf("registry size = %d, want 0", reg.Len())
	}
}

func TestCloseSavedKeepsBinding(t *testing.T) {
	e, _, rooms, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	b := e.Register(appt)

	e.OnClose(context.Background(), appt)

	if b.Disposed() {
		t.Fatal("closing a saved appointment must keep the binding")
	}
	if rooms.calls() != 0 {
		t.Fatalf("close of a saved appointment produced %d calls", rooms.calls())
	}
}

func TestCloseDraftAbandonsRoom(t *testing.T) {
	e, _, rooms, _ := testEngine(t)
	appt := organizerAppt("tok1", "")
	appt.saved = false
	b := e.Register(appt)

	e.OnClose(context.Background(), appt)

	if len(rooms.deleted) != 1 {
		t.Fatalf("delete calls = %v, want one for the abandoned room", rooms.deleted)
	}
	if !appt.cleared {
		t.Fatal("draft metadata not cleared")
	}
	if !b.Disposed() {
		t.Fatal("binding survived the discarded draft")
	}
}

func TestCloseDraftSkipsAlreadyDeletedRoom(t *testing.T) {
	e, _, rooms, _ := testEngine(t)
	appt := organizerAppt("tok1", "")
	appt.saved = false
	b := e.Register(appt)
	b.roomDeleted = true

	e.OnClose(context.Background(), appt)

	if len(rooms.deleted) != 0 {
		t.Fatalf("delete calls = %v, want none for a room already gone", rooms.deleted)
	}
	if !appt.cleared || !b.Disposed() {
		t.Fatal("draft teardown incomplete")
	}
}

func TestDisposeIdempotent(t *testing.T) {
	e, reg, _, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	b := e.Register(appt)

	e.Dispose(b)
	e.Dispose(b)

	if reg.Len() != 0 {
		t.Fatalf("registry size = %d, want 0", reg.Len())
	}
}

func TestEventsForUnknownObjectIgnored(t *testing.T) {
	e, _, rooms, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	ctx := context.Background()

	e.OnWrite(ctx, appt)
	e.OnBeforeDelete(ctx, appt)
	e.OnClose(ctx, appt)

	if rooms.calls() != 0 {
		t.Fatalf("events without a binding produced %d calls", rooms.calls())
	}
}

func TestLookupSnapshots(t *testing.T) {
	e, _, _, _ := testEngine(t)
	appt := organizerAppt("tok1", "id-1")
	appt.meta.EventConversation = true
	e.Register(appt)

	v, ok := e.LookupToken("tok1")
	if !ok || v.Object != appt.id || !v.EventConversation {
		t.Fatalf("token lookup = %+v, %v", v, ok)
	}
	if _, ok := e.LookupToken("nope"); ok {
		t.Fatal("unknown token reported a binding")
	}
	if v, ok := e.LookupIdentity("id-1"); !ok || v.Token != "tok1" {
		t.Fatalf("identity lookup = %+v, %v", v, ok)
	}
	if v, ok := e.LookupObject(appt.id); !ok || v.Token != "tok1" {
		t.Fatalf("object lookup = %+v, %v", v, ok)
	}
	if e.Size() != 1 {
		t.Fatalf("size = %d, want 1", e.Size())
	}
}
