package settings

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caltalk/bridge/config"
	"github.com/caltalk/bridge/internal/middleware"
	"github.com/caltalk/bridge/internal/models"
	"github.com/caltalk/bridge/internal/talk"
	"github.com/caltalk/bridge/pkg/response"
)

// Handler serves the per-user collaboration server connection settings.
type Handler struct {
	repo     *Repository
	provider *Provider
	fallback config.TalkConfig
	logger   *zap.Logger
}

func NewHandler(repo *Repository, provider *Provider, fallback config.TalkConfig, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, provider: provider, fallback: fallback, logger: logger}
}

type connectionResponse struct {
	models.TalkConnectionPublic
	Source string `json:"source"`
}

// GetConnection returns the user's effective connection with the app
// password masked.
// GET /api/settings/connection
func (h *Handler) GetConnection(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	conn, err := h.repo.Get(c.Request.Context(), userID)
	if err == nil {
		response.OK(c, connectionResponse{TalkConnectionPublic: conn.Masked(), Source: "account"})
		return
	}
	if !errors.Is(err, ErrConnectionNotFound) {
		h.logger.Error("load talk connection", zap.Error(err))
		response.Internal(c, "could not load connection settings")
		return
	}

	if h.fallback.BaseURL == "" && h.fallback.Username == "" && h.fallback.AppPassword == "" {
		response.NotFound(c, "talk connection not configured")
		return
	}
	env := models.TalkConnection{
		BaseURL:     h.fallback.BaseURL,
		Username:    h.fallback.Username,
		AppPassword: h.fallback.AppPassword,
	}
	response.OK(c, connectionResponse{TalkConnectionPublic: env.Masked(), Source: "environment"})
}

// PutConnection stores the user's connection, replacing any previous one.
// PUT /api/settings/connection
func (h *Handler) PutConnection(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req struct {
		BaseURL     string `json:"base_url" binding:"required"`
		Username    string `json:"username" binding:"required"`
		AppPassword string `json:"app_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	creds := talk.Credentials{
		BaseURL:     strings.TrimSpace(req.BaseURL),
		Username:    strings.TrimSpace(req.Username),
		AppPassword: req.AppPassword,
	}
	if err := creds.Validate(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	conn := &models.TalkConnection{
		UserID:      userID,
		BaseURL:     creds.BaseURL,
		Username:    creds.Username,
		AppPassword: creds.AppPassword,
	}
	if err := h.repo.Upsert(c.Request.Context(), conn); err != nil {
		h.logger.Error("store talk connection", zap.Error(err))
		response.Internal(c, "could not store connection settings")
		return
	}
	response.OK(c, connectionResponse{TalkConnectionPublic: conn.Masked(), Source: "account"})
}

// DeleteConnection removes the stored connection; the user falls back to the
// instance defaults if any are configured.
// DELETE /api/settings/connection
func (h *Handler) DeleteConnection(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	err := h.repo.Delete(c.Request.Context(), userID)
	if errors.Is(err, ErrConnectionNotFound) {
		response.NotFound(c, "talk connection not configured")
		return
	}
	if err != nil {
		h.logger.Error("delete talk connection", zap.Error(err))
		response.Internal(c, "could not delete connection settings")
		return
	}
	response.NoContent(c)
}

// VerifyConnection performs a live round trip against the collaboration
// server and reports whether the credentials work. A successful check is
// recorded on the stored connection.
// POST /api/settings/connection/verify
func (h *Handler) VerifyConnection(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	client, err := h.provider.ClientFor(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, talk.ErrIncompleteCredentials) {
			response.Conflict(c, err.Error())
			return
		}
		h.logger.Error("resolve talk credentials", zap.Error(err))
		response.Internal(c, "could not resolve connection settings")
		return
	}

	ok, info := client.VerifyConnection(c.Request.Context())
	if ok {
		if err := h.repo.MarkVerified(c.Request.Context(), userID, info); err != nil && !errors.Is(err, ErrConnectionNotFound) {
			h.logger.Warn("persist verification result", zap.Error(err))
		}
	}
	response.OK(c, gin.H{"ok": ok, "server_info": info})
}
