package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/internal/realtime"
	"github.com/caltalk/bridge/internal/talk"
	"github.com/caltalk/bridge/internal/uploads"
	"github.com/caltalk/bridge/pkg/queue"
)

// AttachmentStore is the attachment persistence the processor needs.
type AttachmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Attachment, error)
	MarkShared(ctx context.Context, id uuid.UUID, remotePath, shareURL string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// Stager reads and cleans up staged attachment objects.
type Stager interface {
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, string, int64, error)
	StagingBucket() string
	DeleteStaged(ctx context.Context, key string) error
}

// CredentialsSource resolves the owner's collaboration server credentials.
type CredentialsSource interface {
	CredentialsFor(ctx context.Context, userID uuid.UUID) (talk.Credentials, error)
}

// FileClient is the per-user file storage surface used for one share.
type FileClient interface {
	MkDir(ctx context.Context, dir string) error
	Upload(ctx context.Context, path, contentType string, size int64, body io.Reader, progress func(written int64)) error
	CreateShareLink(ctx context.Context, path string) (string, error)
}

// FileClientFactory builds a file client for one user's credentials. Each
// job resolves fresh credentials, so a changed app password takes effect on
// the next share.
type FileClientFactory func(creds talk.Credentials) FileClient

// AttachmentProcessor moves staged attachments to the owner's collaboration
// server: download from staging, upload over WebDAV, create a public share
// link, record the result.
type AttachmentProcessor struct {
	store        AttachmentStore
	stager       Stager
	creds        CredentialsSource
	newClient    FileClientFactory
	queue        *queue.Queue
	events       realtime.Publisher
	remoteFolder string
	logger       *zap.Logger
}

// NewAttachmentProcessor creates an attachment share processor. events may
// be nil; progress is then only logged.
func NewAttachmentProcessor(store AttachmentStore, stager Stager, creds CredentialsSource, newClient FileClientFactory, q *queue.Queue, events realtime.Publisher, remoteFolder string, logger *zap.Logger) *AttachmentProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if remoteFolder == "" {
		remoteFolder = "Appointments"
	}
	return &AttachmentProcessor{
		store:        store,
		stager:       stager,
		creds:        creds,
		newClient:    newClient,
		queue:        q,
		events:       events,
		remoteFolder: remoteFolder,
		logger:       logger,
	}
}

// Process executes one attachment share job.
func (p *AttachmentProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAttachmentShare {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AttachmentSharePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	a, err := p.store.GetByID(ctx, payload.AttachmentID)
	if errors.Is(err, uploads.ErrNotFound) {
		// Deleted while queued; nothing left to share.
		p.logger.Info("attachment gone, skipping", zap.String("attachment_id", payload.AttachmentID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load attachment: %w", err)
	}
	if a.Status == models.AttachmentShared {
		p.logger.Info("attachment already shared", zap.String("attachment_id", a.ID.String()))
		return nil
	}

	creds, err := p.creds.CredentialsFor(ctx, a.UserID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	client := p.newClient(creds)

	body, contentType, size, err := p.stager.GetObjectStream(ctx, p.stager.StagingBucket(), a.StagingKey)
	if err != nil {
		return fmt.Errorf("read staged object: %w", err)
	}
	defer body.Close()
	if contentType == "" {
		contentType = a.ContentType
	}
	if size <= 0 {
		size = a.SizeBytes
	}

	dir := p.remoteFolder + "/" + a.AppointmentID.String()
	if err := client.MkDir(ctx, dir); err != nil {
		return fmt.Errorf("create remote folder: %w", err)
	}

	remotePath := dir + "/" + a.Filename
	if err := client.Upload(ctx, remotePath, contentType, size, body, p.progressFunc(a, size)); err != nil {
		return fmt.Errorf("upload to server: %w", err)
	}

	shareURL, err := client.CreateShareLink(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("create share link: %w", err)
	}

	if err := p.store.MarkShared(ctx, a.ID, remotePath, shareURL); err != nil {
		return fmt.Errorf("record share: %w", err)
	}

	// The staged copy is transient; losing this cleanup only costs storage.
	if err := p.stager.DeleteStaged(ctx, a.StagingKey); err != nil {
		p.logger.Warn("staged object left behind", zap.String("key", a.StagingKey), zap.Error(err))
	}

	p.publish(a.UserID, realtime.EventAttachmentShared, map[string]any{
		"attachment_id":  a.ID,
		"appointment_id": a.AppointmentID,
		"share_url":      shareURL,
	})
	p.logger.Info("attachment shared",
		zap.String("attachment_id", a.ID.String()),
		zap.String("remote_path", remotePath))
	return nil
}

// progressFunc emits attachment_progress events in 10 percent steps.
func (p *AttachmentProcessor) progressFunc(a *models.Attachment, size int64) func(int64) {
	if size <= 0 {
		return nil
	}
	lastStep := -1
	return func(written int64) {
		pct := int(written * 100 / size)
		if pct > 100 {
			pct = 100
		}
		step := pct / 10
		if step == lastStep {
			return
		}
		lastStep = step
		p.publish(a.UserID, realtime.EventAttachmentProgress, map[string]any{
			"attachment_id":  a.ID,
			"appointment_id": a.AppointmentID,
			"percent":        pct,
		})
	}
}

func (p *AttachmentProcessor) publish(userID uuid.UUID, event string, payload map[string]any) {
	if p.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := p.events.PublishUserEvent(userID, event, data); err != nil {
		p.logger.Debug("event publish failed", zap.String("event", event), zap.Error(err))
	}
}

// fail records the terminal failure and tells the owner.
func (p *AttachmentProcessor) fail(ctx context.Context, job *queue.Job, cause error) {
	var payload queue.AttachmentSharePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return
	}
	if err := p.store.MarkFailed(ctx, payload.AttachmentID, cause.Error()); err != nil && !errors.Is(err, uploads.ErrNotFound) {
		p.logger.Error("mark attachment failed", zap.Error(err))
	}
	p.publish(payload.UserID, realtime.EventAttachmentFailed, map[string]any{
		"attachment_id":  payload.AttachmentID,
		"appointment_id": payload.AppointmentID,
		"error":          cause.Error(),
	})
}

// Run starts the worker loop: dequeue, process, retry on error. A job that
// exhausts its retries lands in the DLQ and the attachment is marked failed.
func (p *AttachmentProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("attachment worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			if job.Attempt >= queue.MaxRetries {
				p.fail(ctx, job, err)
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
