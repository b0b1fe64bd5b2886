package rooms

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caltalk/bridge/internal/appointments"
	"github.com/caltalk/bridge/internal/binding"
	"github.com/caltalk/bridge/internal/middleware"
	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/internal/realtime"
	"github.com/caltalk/bridge/internal/settings"
	"github.com/caltalk/bridge/internal/talk"
	"github.com/caltalk/bridge/pkg/response"
)

// CreateRequest is the body for POST /appointments/:id/room.
type CreateRequest struct {
	Password          string `json:"password"`
	LobbyEnabled      bool   `json:"lobby_enabled"`
	SearchVisible     bool   `json:"search_visible"`
	EventConversation *bool  `json:"event_conversation"` // defaults to true
}

// RoomState is the room section of an appointment as reported over the API.
type RoomState struct {
	Token             string     `json:"token"`
	URL               string     `json:"url"`
	EventConversation bool       `json:"event_conversation"`
	LobbyEnabled      bool       `json:"lobby_enabled"`
	SearchVisible     bool       `json:"search_visible"`
	LobbyTimer        *time.Time `json:"lobby_timer,omitempty"`
	Registered        bool       `json:"registered"`
}

// Handler handles room attach/detach endpoints.
type Handler struct {
	appts    *appointments.Repository
	provider *settings.Provider
	engine   *binding.Engine
	hub      *realtime.Hub
	logger   *zap.Logger
}

// NewHandler creates a room handler.
func NewHandler(appts *appointments.Repository, provider *settings.Provider, engine *binding.Engine, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{appts: appts, provider: provider, engine: engine, hub: hub, logger: logger}
}

// Create handles POST /appointments/:id/room. Creates the conversation on
// the collaboration server, persists its metadata on the appointment and
// registers the binding. If persisting fails the fresh room is deleted
// again so the server is not left with an orphan.
func (h *Handler) Create(c *gin.Context) {
	row, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if !row.Organizer {
		response.Forbidden(c, "only the organizer can create a room")
		return
	}
	if row.HasRoom() {
		response.Conflict(c, "appointment already has a room")
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	client, ok := h.clientFor(c)
	if !ok {
		return
	}

	roomType := talk.EventConversation
	if req.EventConversation != nil && !*req.EventConversation {
		roomType = talk.StandardRoom
	}
	result, err := client.CreateRoom(c.Request.Context(), talk.RoomRequest{
		Title:         row.Title,
		Password:      req.Password,
		LobbyEnabled:  req.LobbyEnabled,
		SearchVisible: req.SearchVisible,
		Type:          roomType,
		Start:         row.StartsAt,
		End:           row.EndsAt,
		Description:   row.Body,
	})
	if err != nil {
		h.logger.Warn("room creation failed",
			zap.String("appointment_id", row.ID.String()),
			zap.Error(err))
		talkErrorResponse(c, err, "room creation failed")
		return
	}

	meta := binding.Metadata{
		Token:             result.Token,
		URL:               result.URL,
		EventConversation: result.CreatedAsEventConversation,
		LobbyEnabled:      result.LobbyEnabled,
		SearchVisible:     result.SearchVisible,
	}
	if result.LobbyEnabled {
		meta.LobbyTimer = row.StartsAt
	}

	accessor := appointments.NewAccessor(row, h.appts)
	if err := accessor.SetMetadata(c.Request.Context(), meta); err != nil {
		// Roll the room back rather than leaving one nothing points at.
		if delErr := client.DeleteRoom(c.Request.Context(), result.Token, result.CreatedAsEventConversation); delErr != nil {
			h.logger.Error("orphaned room could not be removed",
				zap.String("token", result.Token),
				zap.Error(delErr))
		}
		h.logger.Error("persist room metadata", zap.Error(err))
		response.Internal(c, "could not persist room")
		return
	}

	if h.engine != nil {
		h.engine.Register(accessor)
	}
	if h.hub != nil {
		h.hub.SendToUser(row.UserID, realtime.EventRoomCreated, gin.H{
			"appointment_id": row.ID,
			"token":          result.Token,
			"url":            result.URL,
		})
	}
	response.Created(c, result)
}

// Get handles GET /appointments/:id/room.
func (h *Handler) Get(c *gin.Context) {
	row, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if !row.HasRoom() {
		response.NotFound(c, "appointment has no room")
		return
	}

	state := RoomState{
		Token:             row.RoomToken,
		URL:               row.RoomURL,
		EventConversation: row.RoomEventConversation,
		LobbyEnabled:      row.RoomLobbyEnabled,
		SearchVisible:     row.RoomSearchVisible,
		LobbyTimer:        row.RoomLobbyTimer,
	}
	if h.engine != nil {
		_, state.Registered = h.engine.LookupObject(row.ID)
	}
	response.OK(c, state)
}

// Delete handles DELETE /appointments/:id/room. Removes the conversation on
// the server, then the metadata and the binding. Deleting a room the server
// already lost is fine.
func (h *Handler) Delete(c *gin.Context) {
	row, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if !row.Organizer {
		response.Forbidden(c, "only the organizer can delete the room")
		return
	}
	if !row.HasRoom() {
		response.NotFound(c, "appointment has no room")
		return
	}

	client, ok := h.clientFor(c)
	if !ok {
		return
	}

	token := row.RoomToken
	if err := client.DeleteRoom(c.Request.Context(), token, row.RoomEventConversation); err != nil {
		h.logger.Warn("room deletion failed",
			zap.String("token", token),
			zap.Error(err))
		talkErrorResponse(c, err, "room deletion failed")
		return
	}

	accessor := appointments.NewAccessor(row, h.appts)
	if err := accessor.ClearMetadata(c.Request.Context()); err != nil {
		h.logger.Error("clear room metadata", zap.Error(err))
		response.Internal(c, "room deleted but metadata could not be cleared")
		return
	}
	if h.engine != nil {
		h.engine.DisposeObject(row.ID)
	}
	if h.hub != nil {
		h.hub.SendToUser(row.UserID, realtime.EventRoomDeleted, gin.H{
			"appointment_id": row.ID,
			"token":          token,
		})
	}
	response.NoContent(c)
}

// loadOwned parses :id and loads the appointment scoped to the caller.
func (h *Handler) loadOwned(c *gin.Context) (*models.Appointment, bool) {
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

// clientFor resolves the caller's room service client, writing the error
// response itself when that fails.
func (h *Handler) clientFor(c *gin.Context) (*talk.Client, bool) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	client, err := h.provider.ClientFor(c.Request.Context(), userID)
	if err == nil {
		return client, true
	}
	if errors.Is(err, talk.ErrIncompleteCredentials) {
		response.Conflict(c, err.Error())
		return nil, false
	}
	h.logger.Error("resolve talk credentials", zap.Error(err))
	response.Internal(c, "could not resolve connection settings")
	return nil, false
}

// talkErrorResponse maps a room service failure onto the API. Authentication
// failures are flagged so the UI can send the user to the connection
// settings.
func talkErrorResponse(c *gin.Context, err error, fallback string) {
	var se *talk.ServiceError
	if errors.As(err, &se) {
		if se.IsAuthentication() {
			response.BadGateway(c, "collaboration server rejected the credentials", gin.H{"authentication_error": true})
			return
		}
		if se.Message != "" {
			response.BadGateway(c, se.Message, nil)
			return
		}
	}
	response.BadGateway(c, fallback, nil)
}
