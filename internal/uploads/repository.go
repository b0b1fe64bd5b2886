package uploads

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caltalk/bridge/internal/models"
)

// ErrNotFound is returned when an attachment does not exist or belongs to
// another user.
var ErrNotFound = errors.New("attachment not found")

const attachmentColumns = `id, appointment_id, user_id, filename, content_type, size_bytes,
	staging_key, remote_path, share_url, status, last_error, created_at, updated_at`

// Repository handles attachment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attachment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAttachment(row pgx.Row, a *models.Attachment) error {
	return row.Scan(
		&a.ID, &a.AppointmentID, &a.UserID, &a.Filename, &a.ContentType, &a.SizeBytes,
		&a.StagingKey, &a.RemotePath, &a.ShareURL, &a.Status, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
	)
}

// Create inserts a staged attachment in pending state.
func (r *Repository) Create(ctx context.Context, a *models.Attachment) error {
	const q = `INSERT INTO attachments (id, appointment_id, user_id, filename, content_type, size_bytes, staging_key, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, a.AppointmentID, a.UserID, a.Filename, a.ContentType, a.SizeBytes, a.StagingKey, a.Status).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID returns an attachment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	const q = `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1`
	var a models.Attachment
	err := scanAttachment(r.pool.QueryRow(ctx, q, id), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetForUser returns an attachment by ID scoped to its owner.
func (r *Repository) GetForUser(ctx context.Context, id, userID uuid.UUID) (*models.Attachment, error) {
	const q = `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1 AND user_id = $2`
	var a models.Attachment
	err := scanAttachment(r.pool.QueryRow(ctx, q, id, userID), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByAppointment returns an appointment's attachments, oldest first.
func (r *Repository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]models.Attachment, error) {
	const q = `SELECT ` + attachmentColumns + ` FROM attachments WHERE appointment_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := scanAttachment(rows, &a); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// MarkShared records a successful share: the remote path and its public
// link.
func (r *Repository) MarkShared(ctx context.Context, id uuid.UUID, remotePath, shareURL string) error {
	const q = `UPDATE attachments
		SET status = $2, remote_path = $3, share_url = $4, last_error = '', updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, models.AttachmentShared, remotePath, shareURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a terminal share failure.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	const q = `UPDATE attachments
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, models.AttachmentFailed, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an attachment row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM attachments WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
