package appointments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caltalk/bridge/internal/binding"
	"github.com/caltalk/bridge/internal/models"
)

// ErrNotFound is returned when an appointment does not exist or belongs to
// another user.
var ErrNotFound = errors.New("appointment not found")

const appointmentColumns = `id, user_id, external_ref, title, body, location, starts_at, ends_at, organizer, draft,
	room_token, room_url, room_event_conversation, room_lobby_enabled, room_search_visible, room_lobby_timer,
	created_at, updated_at`

// Repository handles appointment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an appointment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAppointment(row pgx.Row, a *models.Appointment) error {
	return row.Scan(
		&a.ID, &a.UserID, &a.ExternalRef, &a.Title, &a.Body, &a.Location, &a.StartsAt, &a.EndsAt, &a.Organizer, &a.Draft,
		&a.RoomToken, &a.RoomURL, &a.RoomEventConversation, &a.RoomLobbyEnabled, &a.RoomSearchVisible, &a.RoomLobbyTimer,
		&a.CreatedAt, &a.UpdatedAt,
	)
}

// Create inserts a new appointment.
func (r *Repository) Create(ctx context.Context, a *models.Appointment) error {
	const q = `INSERT INTO appointments (id, user_id, external_ref, title, body, location, starts_at, ends_at, organizer, draft)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, a.UserID, a.ExternalRef, a.Title, a.Body, a.Location, a.StartsAt, a.EndsAt, a.Organizer, a.Draft).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID returns an appointment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	const q = `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	var a models.Appointment
	err := scanAppointment(r.pool.QueryRow(ctx, q, id), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetForUser returns an appointment by ID scoped to its owner.
func (r *Repository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Appointment, error) {
	const q = `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 AND user_id = $2`
	var a models.Appointment
	err := scanAppointment(r.pool.QueryRow(ctx, q, id, userID), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByRoomToken returns the appointment bound to a room token.
func (r *Repository) GetByRoomToken(ctx context.Context, token string) (*models.Appointment, error) {
	const q = `SELECT ` + appointmentColumns + ` FROM appointments WHERE room_token = $1`
	var a models.Appointment
	err := scanAppointment(r.pool.QueryRow(ctx, q, token), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByUser returns a user's appointments, most recent start first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Appointment, error) {
	const q = `SELECT ` + appointmentColumns + ` FROM appointments WHERE user_id = $1 ORDER BY starts_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Appointment
	for rows.Next() {
		var a models.Appointment
		if err := scanAppointment(rows, &a); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Save writes the editable fields and the saved/draft state. The external
// ref is settled here on first save and never changed back to empty.
func (r *Repository) Save(ctx context.Context, a *models.Appointment) error {
	const q = `UPDATE appointments
		SET external_ref = $2, title = $3, body = $4, location = $5, starts_at = $6, ends_at = $7, draft = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, a.ID, a.ExternalRef, a.Title, a.Body, a.Location, a.StartsAt, a.EndsAt, a.Draft).
		Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// SetRoom writes the room metadata columns for an appointment.
func (r *Repository) SetRoom(ctx context.Context, id uuid.UUID, m binding.Metadata) error {
	const q = `UPDATE appointments
		SET room_token = $2, room_url = $3, room_event_conversation = $4,
			room_lobby_enabled = $5, room_search_visible = $6, room_lobby_timer = $7,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, m.Token, m.URL, m.EventConversation, m.LobbyEnabled, m.SearchVisible, nullableTime(m.LobbyTimer))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearRoom removes all room metadata from an appointment.
func (r *Repository) ClearRoom(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE appointments
		SET room_token = '', room_url = '', room_event_conversation = FALSE,
			room_lobby_enabled = FALSE, room_search_visible = FALSE, room_lobby_timer = NULL,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an appointment. Attachments cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM appointments WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
