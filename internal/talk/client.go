// Package talk implements the Nextcloud Talk room protocol: creating,
// updating and deleting conversation rooms over the OCS REST API.
package talk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every server call. Room operations are synchronous
	// and generously bounded; callers show a busy indicator instead of
	// cancelling mid-flight.
	DefaultTimeout = time.Minute

	apiBase          = "/ocs/v2.php/apps/spreed/api/v4"
	capabilitiesPath = "/ocs/v2.php/cloud/capabilities"

	// publicRoomType is the Talk numeric type for a public conversation.
	publicRoomType = 3
	// objectTypeEvent binds a room to an external calendar event.
	objectTypeEvent = "event"
	// lobbyNonModerators keeps non-moderators in the lobby until the timer.
	lobbyNonModerators = 1

	listableScopeNone  = 0
	listableScopeUsers = 1

	maxResponseBytes = 4 << 20
)

// Client talks to one Nextcloud server with one account. Calls carry no
// session state; a Client is safe for concurrent use.
type Client struct {
	creds  Credentials
	httpc  *http.Client
	logger *zap.Logger
}

// NewClient creates a room protocol client for the given account.
func NewClient(creds Credentials, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		creds:  creds,
		httpc:  &http.Client{Timeout: DefaultTimeout},
		logger: logger,
	}
}

// RoomURL returns the browser URL of a room on this client's server.
func (c *Client) RoomURL(token string) string {
	return c.base() + "/call/" + url.PathEscape(token)
}

// CreateRoom creates a conversation room for req.
//
// When an event conversation is requested and the appointment has a time
// slot, creation is attempted with an event object binding first. Servers
// that do not support event objects reject that attempt; the rejection is
// consumed and creation falls back to a plain standard room. The result
// reports which variant actually materialised.
func (c *Client) CreateRoom(ctx context.Context, req RoomRequest) (*RoomCreationResult, error) {
	attempts := []bool{false}
	if req.Type == EventConversation && !req.Start.IsZero() && !req.End.IsZero() {
		attempts = []bool{true, false}
	}

	var (
		token        string
		includeEvent bool
	)
	for i, withEvent := range attempts {
		status, body, err := c.send(ctx, http.MethodPost, c.apiURL("/room"), c.createPayload(req, withEvent))
		if err != nil {
			return nil, err
		}
		if !isSuccess(status) {
			svcErr := reject(status, body)
			if withEvent && i < len(attempts)-1 && fallbackEligible(status, svcErr.Message) {
				c.logger.Debug("event conversation rejected, retrying as standard room",
					zap.Int("status", status),
					zap.String("message", svcErr.Message))
				continue
			}
			return nil, svcErr
		}
		token = extractToken(body)
		if token == "" {
			return nil, &ServiceError{
				Kind:       ErrorProtocol,
				StatusCode: status,
				Message:    "creation response carries no room token",
				Body:       snippet(body),
			}
		}
		includeEvent = withEvent
		break
	}

	if req.LobbyEnabled {
		if err := c.UpdateLobby(ctx, token, req.Start, req.End, includeEvent); err != nil {
			return nil, err
		}
	}
	if !includeEvent {
		// Search visibility is cosmetic; the outcome is deliberately ignored.
		c.applyListable(ctx, token, req.SearchVisible)
		if desc := strings.TrimSpace(req.Description); desc != "" {
			if err := c.UpdateDescription(ctx, token, desc, false); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Info("talk room created",
		zap.String("token", token),
		zap.Bool("event_conversation", includeEvent))
	return &RoomCreationResult{
		Token:                      token,
		URL:                        c.RoomURL(token),
		CreatedAsEventConversation: includeEvent,
		LobbyEnabled:               req.LobbyEnabled,
		SearchVisible:              req.SearchVisible,
	}, nil
}

// UpdateLobby moves the room's lobby timer to the given start time.
//
// For event conversations the external event binding is refreshed first; a
// server that rejects the binding outright (405, 501, 400) is tolerated. The
// lobby itself is then updated as two calls, a state-only toggle followed by
// the timer update, and both are best effort because the server owns the
// lobby of event-bound rooms. For standard rooms the timer update failure is
// returned to the caller.
func (c *Client) UpdateLobby(ctx context.Context, token string, start, end time.Time, eventConversation bool) error {
	if eventConversation {
		if err := c.updateEventObject(ctx, token, start, end); err != nil {
			if !objectUpdateRecoverable(err) {
				return err
			}
			c.logger.Debug("event object refresh not supported by server",
				zap.String("token", token), zap.Error(err))
		}
		_ = c.putLobby(ctx, token, nil)
		_ = c.putLobby(ctx, token, &start)
		return nil
	}
	return c.putLobby(ctx, token, &start)
}

// UpdateDescription replaces the room description with the trimmed text.
// Event conversations keep their description through the bound calendar
// object; for them this is a no-op.
func (c *Client) UpdateDescription(ctx context.Context, token, text string, eventConversation bool) error {
	if eventConversation {
		return nil
	}
	payload := map[string]any{"description": strings.TrimSpace(text)}
	status, body, err := c.send(ctx, http.MethodPut, c.roomURL(token, "/description"), payload)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return reject(status, body)
	}
	return nil
}

// DeleteRoom removes the room. Deleting is idempotent: a room that is
// already gone (404) counts as success. Participant clearing and, for event
// conversations, detaching the event binding are cleanup steps that never
// block the delete itself.
func (c *Client) DeleteRoom(ctx context.Context, token string, eventConversation bool) error {
	if status, _, err := c.send(ctx, http.MethodDelete, c.roomURL(token, "/participants/active"), nil); err != nil || !isSuccess(status) {
		c.logger.Debug("participant clear ignored",
			zap.String("token", token), zap.Int("status", status), zap.Error(err))
	}
	if eventConversation {
		if status, _, err := c.send(ctx, http.MethodDelete, c.roomURL(token, "/object/event"), nil); err != nil || !isSuccess(status) {
			c.logger.Debug("event object detach ignored",
				zap.String("token", token), zap.Int("status", status), zap.Error(err))
		}
	}

	status, body, err := c.send(ctx, http.MethodDelete, c.roomURL(token, ""), nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return reject(status, body)
}

// VerifyConnection checks reachability and credentials against the
// capabilities endpoint. It returns whether the server answered successfully
// together with a human-readable server version when one could be extracted,
// falling back to the OCS status and finally a plain "OK".
func (c *Client) VerifyConnection(ctx context.Context) (bool, string) {
	status, body, err := c.send(ctx, http.MethodGet, c.base()+capabilitiesPath, nil)
	if err != nil {
		return false, err.Error()
	}
	if !isSuccess(status) {
		return false, fmt.Sprintf("HTTP %d", status)
	}
	if v := serverVersion(body); v != "" {
		return true, v
	}
	if s := metaStatus(body); s != "" {
		return true, s
	}
	return true, "OK"
}

func (c *Client) createPayload(req RoomRequest, withEvent bool) map[string]any {
	payload := map[string]any{
		"roomType": publicRoomType,
		"roomName": req.Title,
		"listable": listableScope(req.SearchVisible),
	}
	if req.Password != "" {
		payload["password"] = req.Password
	}
	if withEvent {
		payload["objectType"] = objectTypeEvent
		payload["objectId"] = eventObjectID(req.Start, req.End)
	}
	return payload
}

func (c *Client) updateEventObject(ctx context.Context, token string, start, end time.Time) error {
	payload := map[string]any{
		"objectType": objectTypeEvent,
		"objectId":   eventObjectID(start, end),
	}
	status, body, err := c.send(ctx, http.MethodPut, c.roomURL(token, "/object"), payload)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return reject(status, body)
	}
	return nil
}

// putLobby sends a lobby update; a nil timer sends the state-only toggle.
func (c *Client) putLobby(ctx context.Context, token string, timer *time.Time) error {
	payload := map[string]any{"state": lobbyNonModerators}
	if timer != nil {
		payload["timer"] = timer.Unix()
	}
	status, body, err := c.send(ctx, http.MethodPut, c.roomURL(token, "/webinar/lobby"), payload)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return reject(status, body)
	}
	return nil
}

func (c *Client) applyListable(ctx context.Context, token string, visible bool) {
	payload := map[string]any{"scope": listableScope(visible)}
	if status, _, err := c.send(ctx, http.MethodPut, c.roomURL(token, "/listable"), payload); err != nil || !isSuccess(status) {
		c.logger.Debug("listable update ignored",
			zap.String("token", token), zap.Int("status", status), zap.Error(err))
	}
}

// send performs one HTTP round trip. The returned error is non-nil only for
// transport-level failures; HTTP error statuses are returned to the caller
// for interpretation.
func (c *Client) send(ctx context.Context, method, rawURL string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, transportError(fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, transportError(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OCS-APIRequest", "true")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.creds.Username, c.creds.AppPassword)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, transportError(err)
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.creds.BaseURL, "/")
}

func (c *Client) apiURL(suffix string) string {
	return c.base() + apiBase + suffix
}

func (c *Client) roomURL(token, suffix string) string {
	return c.apiURL("/room/" + url.PathEscape(token) + suffix)
}

func reject(status int, body []byte) *ServiceError {
	return &ServiceError{
		Kind:       classifyStatus(status),
		StatusCode: status,
		Message:    serverMessage(body),
		Body:       snippet(body),
	}
}

// fallbackEligible reports whether a failed event-conversation attempt should
// fall back to plain room creation instead of surfacing the error.
func fallbackEligible(status int, message string) bool {
	switch status {
	case http.StatusConflict, http.StatusNotImplemented, http.StatusBadRequest, http.StatusUnprocessableEntity:
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "object") && strings.Contains(m, "event")
}

// objectUpdateRecoverable reports whether an event binding refresh failed in
// a way that means "server does not do event objects" rather than a real
// fault.
func objectUpdateRecoverable(err error) bool {
	var se *ServiceError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusBadRequest:
		return true
	}
	return false
}

func listableScope(visible bool) int {
	if visible {
		return listableScopeUsers
	}
	return listableScopeNone
}

// eventObjectID encodes the bound calendar slot as "{startEpoch}#{endEpoch}".
func eventObjectID(start, end time.Time) string {
	return fmt.Sprintf("%d#%d", start.Unix(), end.Unix())
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
