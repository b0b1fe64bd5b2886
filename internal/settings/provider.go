package settings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caltalk/bridge/config"
	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/internal/talk"
)

// ConnectionStore is the read side of the connection repository. The provider
// only ever loads rows.
type ConnectionStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.TalkConnection, error)
}

// Provider resolves the effective collaboration server credentials for a
// user. A stored per-user connection wins field by field over the instance
// defaults from the environment, so a deployment can fix the base URL while
// users bring their own app passwords.
type Provider struct {
	store    ConnectionStore
	fallback config.TalkConfig
	logger   *zap.Logger
}

func NewProvider(store ConnectionStore, fallback config.TalkConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{store: store, fallback: fallback, logger: logger}
}

// CredentialsFor returns validated credentials for the user, or
// talk.ErrIncompleteCredentials when neither the stored connection nor the
// environment supplies every required field.
func (p *Provider) CredentialsFor(ctx context.Context, userID uuid.UUID) (talk.Credentials, error) {
	creds := talk.Credentials{
		BaseURL:     p.fallback.BaseURL,
		Username:    p.fallback.Username,
		AppPassword: p.fallback.AppPassword,
	}

	stored, err := p.store.Get(ctx, userID)
	switch {
	case err == nil:
		if stored.BaseURL != "" {
			creds.BaseURL = stored.BaseURL
		}
		if stored.Username != "" {
			creds.Username = stored.Username
		}
		if stored.AppPassword != "" {
			creds.AppPassword = stored.AppPassword
		}
	case errors.Is(err, ErrConnectionNotFound):
		// no stored row, environment defaults apply as-is
	default:
		return talk.Credentials{}, err
	}

	if err := creds.Validate(); err != nil {
		return talk.Credentials{}, err
	}
	return creds, nil
}

// ClientFor returns a room service client bound to the user's credentials.
func (p *Provider) ClientFor(ctx context.Context, userID uuid.UUID) (*talk.Client, error) {
	creds, err := p.CredentialsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return talk.NewClient(creds, p.logger), nil
}
