package models

import (
	"time"

	"github.com/google/uuid"
)

// AttachmentStatus tracks an attachment through the share pipeline.
type AttachmentStatus string

const (
	// AttachmentPending is staged locally and waiting for the share worker.
	AttachmentPending AttachmentStatus = "pending"
	// AttachmentShared has been uploaded to the collaboration server and
	// carries a public share link.
	AttachmentShared AttachmentStatus = "shared"
	// AttachmentFailed exhausted its retries.
	AttachmentFailed AttachmentStatus = "failed"
)

// Attachment is a file attached to an appointment. Files are staged in
// object storage first and shared to the owner's collaboration server by a
// background worker.
type Attachment struct {
	ID            uuid.UUID        `json:"id"`
	AppointmentID uuid.UUID        `json:"appointment_id"`
	UserID        uuid.UUID        `json:"user_id"`
	Filename      string           `json:"filename"`
	ContentType   string           `json:"content_type"`
	SizeBytes     int64            `json:"size_bytes"`
	StagingKey    string           `json:"-"`
	RemotePath    string           `json:"remote_path,omitempty"`
	ShareURL      string           `json:"share_url,omitempty"`
	Status        AttachmentStatus `json:"status"`
	LastError     string           `json:"last_error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
