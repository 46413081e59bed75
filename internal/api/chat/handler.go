package chat

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/condohub/condochat/internal/api/middleware"
	"github.com/condohub/condochat/internal/domain"
	"github.com/condohub/condochat/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles chat session API requests
type Handler struct {
	sessionService *service.SessionService
	logger         *zap.Logger
}

// NewHandler creates a new chat handler
func NewHandler(sessionService *service.SessionService, logger *zap.Logger) *Handler {
	return &Handler{
		sessionService: sessionService,
		logger:         logger,
	}
}

// RegisterRoutes registers chat routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/search", h.SearchSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.PATCH("/:id", h.UpdateSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.GET("/:id/messages", h.GetMessages)
		sessions.POST("/:id/messages", h.AddMessage)
		sessions.DELETE("/:id/messages", h.ClearSession)
		sessions.PATCH("/:id/messages/:messageId", h.UpdateMessage)
		sessions.GET("/:id/stats", h.GetStats)
		sessions.GET("/:id/export", h.ExportSession)
	}
}

func owner(c *gin.Context) service.Owner {
	companyID, userID := middleware.IdentityFrom(c)
	return service.Owner{CompanyID: companyID, UserID: userID}
}

// fail maps service errors onto HTTP status codes
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		h.logger.Error("chat request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Session handlers

func (h *Handler) CreateSession(c *gin.Context) {
	var req domain.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), owner(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListSessions(c.Request.Context(), owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) SearchSessions(c *gin.Context) {
	sessions, err := h.sessionService.SearchSessions(c.Request.Context(), owner(c), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.sessionService.GetSession(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) UpdateSession(c *gin.Context) {
	var req domain.SessionUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.UpdateSession(c.Request.Context(), owner(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessionService.DeleteSession(c.Request.Context(), owner(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "session deleted"})
}

// Message handlers

func (h *Handler) GetMessages(c *gin.Context) {
	messages, err := h.sessionService.GetMessages(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) AddMessage(c *gin.Context) {
	var req domain.AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.sessionService.AddMessage(c.Request.Context(), owner(c), c.Param("id"), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *Handler) UpdateMessage(c *gin.Context) {
	var req domain.MessageUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.sessionService.UpdateMessage(c.Request.Context(), owner(c), c.Param("id"), c.Param("messageId"), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *Handler) ClearSession(c *gin.Context) {
	session, err := h.sessionService.ClearSession(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.sessionService.GetStats(c.Request.Context(), owner(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ExportSession(c *gin.Context) {
	result, err := h.sessionService.ExportSession(c.Request.Context(), owner(c), c.Param("id"), c.DefaultQuery("format", "json"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Body)
}
