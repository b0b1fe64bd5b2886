package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/caltalk/bridge/config"
	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/internal/talk"
)

type fakeStore struct {
	conn *models.TalkConnection
	err  error
}

func (f *fakeStore) Get(ctx context.Context, userID uuid.UUID) (*models.TalkConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.conn == nil {
		return nil, ErrConnectionNotFound
	}
	return f.conn, nil
}

func TestCredentialsFromStoredConnection(t *testing.T) {
	store := &fakeStore{conn: &models.TalkConnection{
		BaseURL:     "https://cloud.example.com",
		Username:    "jane",
		AppPassword: "app-pass",
	}}
	p := NewProvider(store, config.TalkConfig{}, nil)

	creds, err := p.CredentialsFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if creds.BaseURL != "https://cloud.example.com" || creds.Username != "jane" || creds.AppPassword != "app-pass" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}

func TestCredentialsFallBackToEnvironment(t *testing.T) {
	p := NewProvider(&fakeStore{}, config.TalkConfig{
		BaseURL:     "https://default.example.com",
		Username:    "service",
		AppPassword: "secret",
	}, nil)

	creds, err := p.CredentialsFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if creds.BaseURL != "https://default.example.com" || creds.Username != "service" {
		t.Fatalf("environment defaults not applied: %+v", creds)
	}
}

func TestCredentialsMergeFieldByField(t *testing.T) {
	// Instance pins the base URL, the user only brings their own login.
	store := &fakeStore{conn: &models.TalkConnection{
		Username:    "jane",
		AppPassword: "app-pass",
	}}
	p := NewProvider(store, config.TalkConfig{BaseURL: "https://default.example.com"}, nil)

	creds, err := p.CredentialsFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("CredentialsFor: %v", err)
	}
	if creds.BaseURL != "https://default.example.com" {
		t.Fatalf("base URL = %q, want instance default", creds.BaseURL)
	}
	if creds.Username != "jane" || creds.AppPassword != "app-pass" {
		t.Fatalf("stored fields not applied: %+v", creds)
	}
}

func TestCredentialsIncomplete(t *testing.T) {
	p := NewProvider(&fakeStore{}, config.TalkConfig{BaseURL: "https://default.example.com"}, nil)

	_, err := p.CredentialsFor(context.Background(), uuid.New())
	if !errors.Is(err, talk.ErrIncompleteCredentials) {
		t.Fatalf("err = %v, want ErrIncompleteCredentials", err)
	}

	if _, err := p.ClientFor(context.Background(), uuid.New()); !errors.Is(err, talk.ErrIncompleteCredentials) {
		t.Fatalf("ClientFor err = %v, want ErrIncompleteCredentials", err)
	}
}

func TestCredentialsStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	p := NewProvider(&fakeStore{err: boom}, config.TalkConfig{
		BaseURL:     "https://default.example.com",
		Username:    "service",
		AppPassword: "secret",
	}, nil)

	_, err := p.CredentialsFor(context.Background(), uuid.New())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want store failure", err)
	}
}

func TestClientForBuildsClient(t *testing.T) {
	store := &fakeStore{conn: &models.TalkConnection{
		BaseURL:     "https://cloud.example.com",
		Username:    "jane",
		AppPassword: "app-pass",
	}}
	p := NewProvider(store, config.TalkConfig{}, nil)

	client, err := p.ClientFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if client == nil {
		t.Fatal("ClientFor returned nil client")
	}
}
