package appointments

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caltalk/bridge/internal/binding"
	"github.com/caltalk/bridge/internal/middleware"
	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/pkg/response"
)

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// CreateRequest is the body for POST /appointments.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Body        string `json:"body"`
	Location    string `json:"location"`
	StartsAt    string `json:"starts_at" binding:"required"`
	EndsAt      string `json:"ends_at" binding:"required"`
	Organizer   *bool  `json:"organizer"`    // defaults to true
	Saved       bool   `json:"saved"`        // create directly in saved state
	ExternalRef string `json:"external_ref"` // source-calendar id, saved entries only
}

// SaveRequest is the body for PUT /appointments/:id.
type SaveRequest struct {
	Title       string `json:"title" binding:"required"`
	Body        string `json:"body"`
	Location    string `json:"location"`
	StartsAt    string `json:"starts_at" binding:"required"`
	EndsAt      string `json:"ends_at" binding:"required"`
	ExternalRef string `json:"external_ref"`
}

// Handler handles appointment HTTP endpoints.
type Handler struct {
	repo       *Repository
	dispatcher *Dispatcher
	engine     *binding.Engine
	logger     *zap.Logger
}

// NewHandler creates an appointment handler.
func NewHandler(repo *Repository, dispatcher *Dispatcher, engine *binding.Engine, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, dispatcher: dispatcher, engine: engine, logger: logger}
}

// Create handles POST /appointments.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	startsAt, err := parseTime(req.StartsAt)
	if err != nil {
		response.BadRequest(c, "invalid starts_at")
		return
	}
	endsAt, err := parseTime(req.EndsAt)
	if err != nil {
		response.BadRequest(c, "invalid ends_at")
		return
	}
	if !endsAt.After(startsAt) {
		response.BadRequest(c, "ends_at must be after starts_at")
		return
	}

	organizer := true
	if req.Organizer != nil {
		organizer = *req.Organizer
	}

	a := &models.Appointment{
		UserID:    userID,
		Title:     req.Title,
		Body:      req.Body,
		Location:  req.Location,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		Organizer: organizer,
		Draft:     !req.Saved,
	}
	if !a.Draft {
		settleExternalRef(a, req.ExternalRef)
	}

	if err := h.repo.Create(c.Request.Context(), a); err != nil {
		h.logger.Error("create appointment", zap.Error(err))
		response.Internal(c, "could not create appointment")
		return
	}
	if !a.Draft {
		h.dispatcher.NotifyWrite(c.Request.Context(), NewAccessor(a, h.repo))
	}
	response.Created(c, a)
}

// List handles GET /appointments.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list appointments", zap.Error(err))
		response.Internal(c, "could not list appointments")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /appointments/:id. Fetching an appointment that
// carries room metadata re-registers its binding, so bindings survive a
// server restart.
func (h *Handler) GetByID(c *gin.Context) {
	row, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if h.engine != nil && row.HasRoom() {
		h.engine.Register(NewAccessor(row, h.repo))
	}
	response.OK(c, row)
}

// Save handles PUT /appointments/:id. The first save settles the external
// ref and flips the record out of draft state.
func (h *Handler) Save(c *gin.Context) {
	row, ok := h.loadOwned(c)
	if !ok {
		return
	}

	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	startsAt, err := parseTime(req.StartsAt)
	if err != nil {
		response.BadRequest(c, "invalid starts_at")
		return
	}
	endsAt, err := parseTime(req.EndsAt)
	if err != nil {
		response.BadRequest(c, "invalid ends_at")
		return
	}
	if !endsAt.After(startsAt) {
		response.BadRequest(c, "ends_at must be after starts_at")
		return
	}

	row.Title = req.Title
	row.Body = req.Body
	row.Location = req.Location
	row.StartsAt = startsAt
	row.EndsAt = endsAt
	row.Draft = false
	settleExternalRef(row, req.ExternalRef)

	if err := h.repo.Save(c.Request.Context(), row); err != nil {
		h.logger.Error("save appointment", zap.Error(err))
		response.Internal(c, "could not save appointment")
		return
	}
	h.dispatcher.NotifyWrite(c.Request.Context(), NewAccessor(row, h.repo))
	response.OK(c, row)
}

// Delete handles DELETE /appointments/:id. The binding engine hears about
// the deletion first so it can take the remote room down with the record.
func (h *Handler) Delete(c *gin.Context) {
	row, ok := h.loadOwned(c)
	if !ok {
		return
	}
	h.dispatcher.NotifyBeforeDelete(c.Request.Context(), NewAccessor(row, h.repo))
	if err := h.repo.Delete(c.Request.Context(), row.ID); err != nil && !errors.Is(err, ErrNotFound) {
		h.logger.Error("delete appointment", zap.Error(err))
		response.Internal(c, "could not delete appointment")
		return
	}
	response.NoContent(c)
}

// Discard handles POST /appointments/:id/discard, the editor closing
// without a save. Draft records are dropped together with any room created
// for them; saved records keep everything.
func (h *Handler) Discard(c *gin.Context) {
	row, ok := h.loadOwned(c)
	if !ok {
		return
	}
	h.dispatcher.NotifyClose(c.Request.Context(), NewAccessor(row, h.repo))
	if row.Draft {
		if err := h.repo.Delete(c.Request.Context(), row.ID); err != nil && !errors.Is(err, ErrNotFound) {
			h.logger.Error("discard appointment", zap.Error(err))
			response.Internal(c, "could not discard appointment")
			return
		}
	}
	response.NoContent(c)
}

// loadOwned parses :id and loads the appointment scoped to the caller.
// Responds and returns ok=false on any failure.
func (h *Handler) loadOwned(c *gin.Context) (*models.Appointment, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid appointment id")
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	row, err := h.repo.GetForUser(c.Request.Context(), id, userID)
	if errors.Is(err, ErrNotFound) {
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

// settleExternalRef assigns the source-calendar identifier on save. A ref
// passed by the client wins; otherwise one is generated on the first save
// and kept stable afterwards.
func settleExternalRef(a *models.Appointment, requested string) {
	if requested != "" {
		a.ExternalRef = requested
		return
	}
	if a.ExternalRef == "" {
		a.ExternalRef = "cal-" + uuid.NewString()
	}
}
