package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caltalk/bridge/internal/models"
)

// ErrConnectionNotFound is returned when a user has no stored connection.
var ErrConnectionNotFound = errors.New("talk connection not found")

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Get returns the stored connection for a user.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (*models.TalkConnection, error) {
	const q = `
		SELECT user_id, base_url, username, app_password, verified_at, server_info, created_at, updated_at
		FROM talk_connections
		WHERE user_id = $1`

	var c models.TalkConnection
	err := r.db.QueryRow(ctx, q, userID).Scan(
		&c.UserID, &c.BaseURL, &c.Username, &c.AppPassword,
		&c.VerifiedAt, &c.ServerInfo, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("get talk connection: %w", err)
	}
	return &c, nil
}

// Upsert stores or replaces a user's connection. Replacing resets the
// verification state since the new credentials are unproven.
func (r *Repository) Upsert(ctx context.Context, c *models.TalkConnection) error {
	const q = `
		INSERT INTO talk_connections (user_id, base_url, username, app_password)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			username = EXCLUDED.username,
			app_password = EXCLUDED.app_password,
			verified_at = NULL,
			server_info = '',
			updated_at = now()
		RETURNING verified_at, server_info, created_at, updated_at`

	err := r.db.QueryRow(ctx, q, c.UserID, c.BaseURL, c.Username, c.AppPassword).
		Scan(&c.VerifiedAt, &c.ServerInfo, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert talk connection: %w", err)
	}
	return nil
}

// MarkVerified records a successful connection check.
func (r *Repository) MarkVerified(ctx context.Context, userID uuid.UUID, serverInfo string) error {
	const q = `
		UPDATE talk_connections
		SET verified_at = now(), server_info = $2, updated_at = now()
		WHERE user_id = $1`

	tag, err := r.db.Exec(ctx, q, userID, serverInfo)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// Delete removes a user's stored connection.
func (r *Repository) Delete(ctx context.Context, userID uuid.UUID) error {
	const q = `DELETE FROM talk_connections WHERE user_id = $1`

	tag, err := r.db.Exec(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("delete talk connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
