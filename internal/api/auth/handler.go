package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/api/response"
	"github.com/chemviz/equipment-visualizer/internal/model"
	"github.com/chemviz/equipment-visualizer/internal/pkg/jwt"
	"github.com/chemviz/equipment-visualizer/internal/service"
)

// Handler serves the /api/auth routes and the auth middlewares
type Handler struct {
	svc     *service.AuthService
	limiter *service.IPRateLimiter
	log     *zap.Logger
}

// NewHandler creates an auth Handler
func NewHandler(svc *service.AuthService, limiter *service.IPRateLimiter, log *zap.Logger) *Handler {
	return &Handler{svc: svc, limiter: limiter, log: log}
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var req model.UserRegister
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.BindingMessage(err))
		return
	}

	tokenResp, err := h.svc.Register(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrUsernameExists) {
			response.Fail(c, http.StatusBadRequest, "Username already exists")
			return
		}
		if errors.Is(err, service.ErrUsernameReserved) {
			response.Fail(c, http.StatusBadRequest, "Username is not available")
			return
		}
		h.log.Error("Registration failed", zap.String("username", req.Username), zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "Registration failed")
		return
	}

	c.JSON(http.StatusCreated, tokenResp)
}

// Login handles user login
func (h *Handler) Login(c *gin.Context) {
	var req model.UserLogin
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.BindingMessage(err))
		return
	}

	tokenResp, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Fail(c, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		h.log.Error("Login failed", zap.String("username", req.Username), zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "Login failed")
		return
	}

	c.JSON(http.StatusOK, tokenResp)
}

// Logout revokes the token the request was authenticated with
func (h *Handler) Logout(c *gin.Context) {
	claims, ok := c.MustGet("claims").(*jwt.Claims)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, "Invalid token")
		return
	}

	if err := h.svc.Logout(c.Request.Context(), claims); err != nil {
		h.log.Error("Logout failed", zap.Int("user_id", claims.UserID), zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "Logout failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logout successful"})
}

// GetCurrentUser returns the current user
func (h *Handler) GetCurrentUser(c *gin.Context) {
	user, err := h.svc.GetUserByID(c.Request.Context(), response.UserID(c))
	if err != nil {
		response.Fail(c, http.StatusNotFound, "User not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": user.Info()})
}
