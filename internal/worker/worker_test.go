package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/internal/realtime"
	"github.com/caltalk/bridge/internal/talk"
	"github.com/caltalk/bridge/internal/uploads"
	"github.com/caltalk/bridge/pkg/queue"
)

type fakeStore struct {
	attachment *models.Attachment
	sharedPath string
	sharedURL  string
	failedMsg  string
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Attachment, error) {
	if f.attachment == nil || f.attachment.ID != id {
		return nil, uploads.ErrNotFound
	}
	return f.attachment, nil
}

func (f *fakeStore) MarkShared(ctx context.Context, id uuid.UUID, remotePath, shareURL string) error {
	f.sharedPath = remotePath
	f.sharedURL = shareURL
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	f.failedMsg = lastError
	return nil
}

type fakeStager struct {
	content string
	deleted []string
	err     error
}

func (f *fakeStager) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, string, int64, error) {
	if f.err != nil {
		return nil, "", 0, f.err
	}
	return io.NopCloser(strings.NewReader(f.content)), "application/pdf", int64(len(f.content)), nil
}

func (f *fakeStager) StagingBucket() string { return "staging-bucket" }

func (f *fakeStager) DeleteStaged(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeCreds struct {
	creds talk.Credentials
	err   error
}

func (f *fakeCreds) CredentialsFor(ctx context.Context, userID uuid.UUID) (talk.Credentials, error) {
	return f.creds, f.err
}

type fakeFileClient struct {
	dirs      []string
	uploaded  string
	uploadErr error
	shareErr  error
	shareURL  string
	body      string
}

func (f *fakeFileClient) MkDir(ctx context.Context, dir string) error {
	f.dirs = append(f.dirs, dir)
	return nil
}

func (f *fakeFileClient) Upload(ctx context.Context, path, contentType string, size int64, body io.Reader, progress func(int64)) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.body = string(raw)
	f.uploaded = path
	if progress != nil {
		progress(int64(len(raw)))
	}
	return nil
}

func (f *fakeFileClient) CreateShareLink(ctx context.Context, path string) (string, error) {
	if f.shareErr != nil {
		return "", f.shareErr
	}
	return f.shareURL, nil
}

type fakeEvents struct {
	events []string
}

func (f *fakeEvents) PublishUserEvent(userID uuid.UUID, event string, payload []byte) error {
	f.events = append(f.events, event)
	return nil
}

func shareJob(t *testing.T, a *models.Attachment) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(queue.AttachmentSharePayload{
		AttachmentID:  a.ID,
		AppointmentID: a.AppointmentID,
		UserID:        a.UserID,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeAttachmentShare, Payload: raw}
}

func pendingAttachment() *models.Attachment {
	return &models.Attachment{
		ID:            uuid.New(),
		AppointmentID: uuid.New(),
		UserID:        uuid.New(),
		Filename:      "notes.pdf",
		ContentType:   "application/pdf",
		SizeBytes:     11,
		StagingKey:    "staging/x/y/notes.pdf",
		Status:        models.AttachmentPending,
	}
}

func newTestProcessor(store *fakeStore, stager *fakeStager, client *fakeFileClient, events *fakeEvents) *AttachmentProcessor {
	creds := &fakeCreds{creds: talk.Credentials{BaseURL: "https://cloud.example.com", Username: "jane", AppPassword: "p"}}
	factory := func(c talk.Credentials) FileClient { return client }
	var pub realtime.Publisher
	if events != nil {
		pub = events
	}
	return NewAttachmentProcessor(store, stager, creds, factory, nil, pub, "Appointments", nil)
}

func TestProcessSharesAttachment(t *testing.T) {
	a := pendingAttachment()
	store := &fakeStore{attachment: a}
	stager := &fakeStager{content: "hello world"}
	client := &fakeFileClient{shareURL: "https://cloud.example.com/s/AbC"}
	events := &fakeEvents{}
	p := newTestProcessor(store, stager, client, events)

	if err := p.Process(context.Background(), shareJob(t, a)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	wantDir := "Appointments/" + a.AppointmentID.String()
	if len(client.dirs) != 1 || client.dirs[0] != wantDir {
		t.Fatalf("dirs = %v, want [%s]", client.dirs, wantDir)
	}
	wantPath := wantDir + "/notes.pdf"
	if client.uploaded != wantPath {
		t.Fatalf("uploaded = %q, want %q", client.uploaded, wantPath)
	}
	if client.body != "hello world" {
		t.Fatalf("uploaded body = %q", client.body)
	}
	if store.sharedPath != wantPath || store.sharedURL != "https://cloud.example.com/s/AbC" {
		t.Fatalf("share recorded as %q / %q", store.sharedPath, store.sharedURL)
	}
	if len(stager.deleted) != 1 || stager.deleted[0] != a.StagingKey {
		t.Fatalf("staged cleanup = %v", stager.deleted)
	}

	var sawProgress, sawShared bool
	for _, e := range events.events {
		switch e {
		case realtime.EventAttachmentProgress:
			sawProgress = true
		case realtime.EventAttachmentShared:
			sawShared = true
		}
	}
	if !sawProgress || !sawShared {
		t.Fatalf("events = %v, want progress and shared", events.events)
	}
}

func TestProcessSkipsDeletedAttachment(t *testing.T) {
	a := pendingAttachment()
	store := &fakeStore{} // nothing stored
	p := newTestProcessor(store, &fakeStager{}, &fakeFileClient{}, nil)

	if err := p.Process(context.Background(), shareJob(t, a)); err != nil {
		t.Fatalf("deleted attachment must not error: %v", err)
	}
}

func TestProcessSkipsAlreadyShared(t *testing.T) {
	a := pendingAttachment()
	a.Status = models.AttachmentShared
	store := &fakeStore{attachment: a}
	client := &fakeFileClient{}
	p := newTestProcessor(store, &fakeStager{content: "x"}, client, nil)

	if err := p.Process(context.Background(), shareJob(t, a)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(client.dirs) != 0 || client.uploaded != "" {
		t.Fatal("already shared attachment must not touch the server")
	}
}

func TestProcessUploadFailure(t *testing.T) {
	a := pendingAttachment()
	store := &fakeStore{attachment: a}
	stager := &fakeStager{content: "x"}
	client := &fakeFileClient{uploadErr: errors.New("507 quota exceeded")}
	p := newTestProcessor(store, stager, client, nil)

	err := p.Process(context.Background(), shareJob(t, a))
	if err == nil {
		t.Fatal("expected upload failure")
	}
	if store.sharedURL != "" {
		t.Fatal("failed share must not be recorded")
	}
	if len(stager.deleted) != 0 {
		t.Fatal("staged object must survive a failed share for the retry")
	}
}

func TestFailMarksAttachment(t *testing.T) {
	a := pendingAttachment()
	store := &fakeStore{attachment: a}
	events := &fakeEvents{}
	p := newTestProcessor(store, &fakeStager{}, &fakeFileClient{}, events)

	p.fail(context.Background(), shareJob(t, a), errors.New("share link rejected"))

	if store.failedMsg != "share link rejected" {
		t.Fatalf("failure message = %q", store.failedMsg)
	}
	if len(events.events) != 1 || events.events[0] != realtime.EventAttachmentFailed {
		t.Fatalf("events = %v, want attachment_failed", events.events)
	}
}

func TestProcessRejectsUnknownJobType(t *testing.T) {
	p := newTestProcessor(&fakeStore{}, &fakeStager{}, &fakeFileClient{}, nil)
	err := p.Process(context.Background(), &queue.Job{Type: "mystery"})
	if err == nil {
		t.Fatal("unknown job type must error")
	}
}
