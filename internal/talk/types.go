package talk

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RoomType selects how a conversation should be created on the server.
type RoomType int

const (
	// StandardRoom is a plain public conversation; the client fully controls
	// its description, lobby and search visibility.
	StandardRoom RoomType = iota
	// EventConversation is bound to a calendar event object. The server
	// manages its description and parts of its lobby behaviour through that
	// binding. Not every server supports it; creation falls back to a
	// standard room when rejected.
	EventConversation
)

// ErrIncompleteCredentials marks connection settings that are missing a
// required field. No server call is attempted with incomplete credentials.
var ErrIncompleteCredentials = errors.New("talk: connection settings incomplete")

// Credentials identify one Nextcloud account. AppPassword is an app password
// generated under the account's security settings, never the login password.
type Credentials struct {
	BaseURL     string
	Username    string
	AppPassword string
}

// Validate checks that every field is present and the base URL is an absolute
// http(s) URL.
func (c Credentials) Validate() error {
	switch {
	case strings.TrimSpace(c.BaseURL) == "":
		return fmt.Errorf("%w: base URL missing", ErrIncompleteCredentials)
	case strings.TrimSpace(c.Username) == "":
		return fmt.Errorf("%w: username missing", ErrIncompleteCredentials)
	case strings.TrimSpace(c.AppPassword) == "":
		return fmt.Errorf("%w: app password missing", ErrIncompleteCredentials)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: base URL must be absolute http(s)", ErrIncompleteCredentials)
	}
	return nil
}

// RoomRequest describes the room to create. Values are read once during
// CreateRoom and never mutated.
type RoomRequest struct {
	Title         string
	Password      string
	LobbyEnabled  bool
	SearchVisible bool
	Type          RoomType
	Start         time.Time // zero when the appointment has no fixed slot
	End           time.Time
	Description   string
}

// RoomCreationResult reports what the server actually created. The type may
// differ from the requested one when event-conversation creation fell back to
// a standard room.
type RoomCreationResult struct {
	Token                      string `json:"token"`
	URL                        string `json:"url"`
	CreatedAsEventConversation bool   `json:"event_conversation"`
	LobbyEnabled               bool   `json:"lobby_enabled"`
	SearchVisible              bool   `json:"search_visible"`
}
