package middleware

import (
	"strings"

	"livecast/internal/core/services"
	apperrors "livecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

const OperatorKey = "operator"

// AuthMiddleware requires a valid bearer access token.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, apperrors.NewUnauthorizedError("bearer token required"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWithError(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Set(OperatorKey, claims.Operator)
		c.Next()
	}
}

// OptionalAuthMiddleware records the operator when a valid token is present
// and lets the request through either way.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set(OperatorKey, claims.Operator)
			}
		}
		c.Next()
	}
}

// Operator returns the authenticated operator name, if any.
func Operator(c *gin.Context) string {
	return c.GetString(OperatorKey)
}

func bearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
