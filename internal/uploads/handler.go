package uploads

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caltalk/bridge/config"
	"github.com/caltalk/bridge/internal/appointments"
	"github.com/caltalk/bridge/internal/middleware"
	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/pkg/queue"
	"github.com/caltalk/bridge/pkg/response"
	"github.com/caltalk/bridge/pkg/storage"
)

// Handler handles attachment endpoints. Files are staged to S3 and shared to
// the owner's collaboration server by the worker; the upload request returns
// as soon as staging is done.
type Handler struct {
	repo   *Repository
	appts  *appointments.Repository
	s3     *storage.S3
	queue  *queue.Queue
	cfg    config.UploadsConfig
	logger *zap.Logger
}

// NewHandler creates an attachment handler. s3 may be nil when staging is
// not configured; uploads are then rejected with 503.
func NewHandler(repo *Repository, appts *appointments.Repository, s3 *storage.S3, q *queue.Queue, cfg config.UploadsConfig, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, appts: appts, s3: s3, queue: q, cfg: cfg, logger: logger}
}

// Upload handles POST /appointments/:id/attachments (multipart, field "file").
func (h *Handler) Upload(c *gin.Context) {
	row, ok := h.loadAppointment(c)
	if !ok {
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "attachment staging not configured")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file field required")
		return
	}
	maxBytes := int64(h.cfg.MaxAttachmentMB) << 20
	if fileHeader.Size > maxBytes {
		response.BadRequest(c, fmt.Sprintf("file exceeds %d MB limit", h.cfg.MaxAttachmentMB))
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !h.typeAllowed(contentType) {
		response.BadRequest(c, "file type not allowed: "+contentType)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "could not read upload")
		return
	}
	defer src.Close()

	filename := filepath.Base(fileHeader.Filename)
	key := storage.StagingKey(row.ID.String(), uuid.NewString(), filename)
	if _, err := h.s3.Upload(c.Request.Context(), h.s3.StagingBucket(), key, contentType, src, fileHeader.Size); err != nil {
		h.logger.Error("stage attachment", zap.Error(err), zap.String("key", key))
		response.Internal(c, "could not stage attachment")
		return
	}

	a := &models.Attachment{
		AppointmentID: row.ID,
		UserID:        row.UserID,
		Filename:      filename,
		ContentType:   contentType,
		SizeBytes:     fileHeader.Size,
		StagingKey:    key,
		Status:        models.AttachmentPending,
	}
	if err := h.repo.Create(c.Request.Context(), a); err != nil {
		if delErr := h.s3.DeleteStaged(c.Request.Context(), key); delErr != nil {
			h.logger.Warn("staged object left behind", zap.String("key", key), zap.Error(delErr))
		}
		h.logger.Error("create attachment", zap.Error(err))
		response.Internal(c, "could not create attachment")
		return
	}

	err = h.queue.EnqueueAttachmentShare(c.Request.Context(), queue.AttachmentSharePayload{
		AttachmentID:  a.ID,
		AppointmentID: a.AppointmentID,
		UserID:        a.UserID,
	})
	if err != nil {
		h.logger.Error("enqueue attachment share", zap.Error(err), zap.String("attachment_id", a.ID.String()))
		_ = h.repo.MarkFailed(c.Request.Context(), a.ID, "share job could not be queued")
		response.Internal(c, "could not queue attachment for sharing")
		return
	}
	response.Accepted(c, a)
}

// List handles GET /appointments/:id/attachments.
func (h *Handler) List(c *gin.Context) {
	row, ok := h.loadAppointment(c)
	if !ok {
		return
	}
	list, err := h.repo.ListByAppointment(c.Request.Context(), row.ID)
	if err != nil {
		h.logger.Error("list attachments", zap.Error(err))
		response.Internal(c, "could not list attachments")
		return
	}
	response.OK(c, list)
}

// Download handles GET /attachments/:id/download. Shared attachments point
// at their public link; staged ones get a short-lived presigned URL.
func (h *Handler) Download(c *gin.Context) {
	a, ok := h.loadAttachment(c)
	if !ok {
		return
	}
	if a.Status == models.AttachmentShared && a.ShareURL != "" {
		response.OK(c, gin.H{"download_url": a.ShareURL, "shared": true})
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "attachment staging not configured")
		return
	}
	// Presigning does not touch S3, so check the staged object is still there.
	if _, err := h.s3.HeadObject(c.Request.Context(), h.s3.StagingBucket(), a.StagingKey); err != nil {
		response.NotFound(c, "staged file no longer available")
		return
	}
	expire := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.StagingBucket(), a.StagingKey, expire)
	if err != nil {
		h.logger.Error("presign staged attachment", zap.Error(err), zap.String("attachment_id", a.ID.String()))
		response.Internal(c, "could not generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "shared": false, "expires_in": int(expire.Seconds())})
}

// Delete handles DELETE /attachments/:id. Removes the record and its staged
// object; a file already shared stays in the owner's cloud storage.
func (h *Handler) Delete(c *gin.Context) {
	a, ok := h.loadAttachment(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), a.ID); err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("delete attachment", zap.Error(err))
		response.Internal(c, "could not delete attachment")
		return
	}
	if h.s3 != nil && a.StagingKey != "" {
		if err := h.s3.DeleteStaged(c.Request.Context(), a.StagingKey); err != nil {
			h.logger.Warn("staged object left behind", zap.String("key", a.StagingKey), zap.Error(err))
		}
	}
	response.NoContent(c)
}

func (h *Handler) typeAllowed(contentType string) bool {
	if len(h.cfg.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
		// "image/*" style entries match by prefix.
		if strings.HasSuffix(allowed, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}
	return false
}

// loadAppointment parses :id and loads the appointment scoped to the caller.
func (h *Handler) loadAppointment(c *gin.Context) (*models.Appointment, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid appointment id")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	row, err := h.appts.GetForUser(c.Request.Context(), id, userID)
	if errors.Is(err, appointments.ErrNotFound) {
		response.NotFound(c, "appointment not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load appointment", zap.Error(err))
		response.Internal(c, "could not load appointment")
		return nil, false
	}
	return row, true
}

// loadAttachment parses :id and loads the attachment scoped to the caller.
func (h *Handler) loadAttachment(c *gin.Context) (*models.Attachment, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid attachment id")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	a, err := h.repo.GetForUser(c.Request.Context(), id, userID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "attachment not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load attachment", zap.Error(err))
		response.Internal(c, "could not load attachment")
		return nil, false
	}
	return a, true
}
