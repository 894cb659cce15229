package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/api/response"
	"github.com/chemviz/equipment-visualizer/internal/pkg/jwt"
	"github.com/chemviz/equipment-visualizer/internal/service"
)

// AuthMiddleware validates JWT token
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Fail(c, http.StatusUnauthorized, "Authorization header missing")
			return
		}

		token, err := jwt.ExtractTokenFromHeader(authHeader)
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := h.svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				response.Fail(c, http.StatusUnauthorized, "Token has expired")
			case errors.Is(err, service.ErrTokenRevoked), errors.Is(err, jwt.ErrInvalidToken):
				response.Fail(c, http.StatusUnauthorized, "Invalid token")
			default:
				h.log.Error("Token check failed", zap.Error(err))
				response.Fail(c, http.StatusServiceUnavailable, "Authentication unavailable")
			}
			return
		}

		// Set user context
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("claims", claims)
		c.Next()
	}
}

// AdminMiddleware checks the stored admin flag of the authenticated user
func (h *Handler) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, err := h.svc.IsAdmin(c.Request.Context(), response.UserID(c))
		if err != nil {
			h.log.Error("Admin check failed", zap.Int("user_id", response.UserID(c)), zap.Error(err))
			response.Fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !isAdmin {
			response.Fail(c, http.StatusForbidden, "Admin access required")
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware limits requests per client IP
func (h *Handler) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter != nil && !h.limiter.Allow(c.ClientIP()) {
			response.Fail(c, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
		c.Next()
	}
}
