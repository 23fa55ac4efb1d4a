package http

import (
	"context"
	"encoding/json"
	"net/http"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	"livecast/internal/infrastructure/middleware"
	apperrors "livecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

// BroadcastController is the session surface the control API drives.
type BroadcastController interface {
	Start(ctx context.Context, targets ...domain.Connection) (domain.BroadcastSession, error)
	Stop(ctx context.Context)
	ToggleMute(muted bool) error
	ZoomTo(factor float64) error
	ApplySetting(ctx context.Context, key string, value interface{}, reason string) (domain.ConfigurationChange, error)
	Status() services.SessionStatus
}

type BroadcastHandler struct {
	controller BroadcastController
}

func NewBroadcastHandler(controller BroadcastController) *BroadcastHandler {
	return &BroadcastHandler{controller: controller}
}

// SetupRoutes registers the broadcast routes on an authenticated group.
func (h *BroadcastHandler) SetupRoutes(api gin.IRouter) {
	broadcast := api.Group("/broadcast")
	{
		broadcast.POST("/start", h.Start)
		broadcast.POST("/stop", h.Stop)
		broadcast.POST("/mute", h.Mute)
		broadcast.POST("/zoom", h.Zoom)
		broadcast.GET("/status", h.Status)
	}
	api.PUT("/settings/:key", h.ApplySetting)
}

type StartRequest struct {
	// Connections overrides the configured targets when non-empty.
	Connections []domain.Connection `json:"connections"`
}

type MuteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type ZoomRequest struct {
	Factor float64 `json:"factor" binding:"required"`
}

// SettingRequest keeps the raw value so null, false and 0 are told apart
// from a missing field.
type SettingRequest struct {
	Value  json.RawMessage `json:"value" binding:"required"`
	Reason string          `json:"reason" binding:"max=200"`
}

func (h *BroadcastHandler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(apperrors.NewInvalidInputError("invalid request format"))
			return
		}
	}

	session, err := h.controller.Start(c.Request.Context(), req.Connections...)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": session,
		"status":  h.controller.Status(),
	})
}

func (h *BroadcastHandler) Stop(c *gin.Context) {
	h.controller.Stop(c.Request.Context())
	c.JSON(http.StatusOK, h.controller.Status())
}

func (h *BroadcastHandler) Mute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("muted is required"))
		return
	}
	if err := h.controller.ToggleMute(*req.Muted); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

func (h *BroadcastHandler) Zoom(c *gin.Context) {
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("factor is required"))
		return
	}
	if err := h.controller.ZoomTo(req.Factor); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"factor": req.Factor})
}

func (h *BroadcastHandler) ApplySetting(c *gin.Context) {
	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("value is required"))
		return
	}
	var value interface{}
	if err := json.Unmarshal(req.Value, &value); err != nil {
		c.Error(apperrors.NewInvalidInputError("value is not valid JSON"))
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "control api"
		if op := middleware.Operator(c); op != "" {
			reason += " (" + op + ")"
		}
	}

	change, err := h.controller.ApplySetting(c.Request.Context(), c.Param("key"), value, reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (h *BroadcastHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}
