package http

import (
	"errors"
	"net/http"
	"strings"

	"livecast/internal/core/services"
	apperrors "livecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
		api.POST("/refresh", h.RefreshToken)
	}
}

type TokenRequest struct {
	OperatorKey string `json:"operator_key" binding:"required,max=256"`
	Operator    string `json:"operator" binding:"max=64"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

// IssueToken exchanges the operator key for a token pair.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	pair, err := h.authService.IssueToken(req.OperatorKey, strings.TrimSpace(req.Operator))
	if err != nil {
		if errors.Is(err, services.ErrIssuingDisabled) {
			c.Error(apperrors.NewServiceUnavailableError("token issuing is disabled"))
			return
		}
		c.Error(apperrors.NewUnauthorizedError("invalid operator key"))
		return
	}

	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	pair, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		c.Error(apperrors.NewUnauthorizedError(err.Error()))
		return
	}

	c.JSON(http.StatusOK, pair)
}
