package models

import (
	"time"

	"github.com/google/uuid"
)

// TalkConnection holds one user's collaboration server account: base URL,
// login and an app password generated on the server. At most one row per
// user.
type TalkConnection struct {
	UserID      uuid.UUID  `json:"user_id"`
	BaseURL     string     `json:"base_url"`
	Username    string     `json:"username"`
	AppPassword string     `json:"-"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	ServerInfo  string     `json:"server_info,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Masked returns the connection safe for API responses: the app password is
// reduced to a fixed-width placeholder when set.
func (t *TalkConnection) Masked() TalkConnectionPublic {
	masked := ""
	if t.AppPassword != "" {
		masked = "********"
	}
	return TalkConnectionPublic{
		BaseURL:     t.BaseURL,
		Username:    t.Username,
		AppPassword: masked,
		VerifiedAt:  t.VerifiedAt,
		ServerInfo:  t.ServerInfo,
		UpdatedAt:   t.UpdatedAt,
	}
}

// TalkConnectionPublic is TalkConnection for API responses.
type TalkConnectionPublic struct {
	BaseURL     string     `json:"base_url"`
	Username    string     `json:"username"`
	AppPassword string     `json:"app_password,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	ServerInfo  string     `json:"server_info,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
