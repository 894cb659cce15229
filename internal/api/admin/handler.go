package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/api/response"
	"github.com/chemviz/equipment-visualizer/internal/service"
)

// Handler serves the /api/admin routes
type Handler struct {
	svc *service.AdminService
	log *zap.Logger
}

// NewHandler creates an admin Handler
func NewHandler(svc *service.AdminService, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// GetUsers returns all users
func (h *Handler) GetUsers(c *gin.Context) {
	users, err := h.svc.ListUsers(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list users", zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "Failed to list users")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}

// DeleteUser deletes a user with all of their datasets
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := response.ParamID(c, "user_id")
	if !ok {
		response.Fail(c, http.StatusBadRequest, "Invalid user ID")
		return
	}

	err := h.svc.DeleteUser(c.Request.Context(), response.UserID(c), id)
	switch {
	case errors.Is(err, service.ErrCannotDeleteSelf):
		response.Fail(c, http.StatusBadRequest, "Cannot delete self")
		return
	case errors.Is(err, service.ErrUserNotFound):
		response.Fail(c, http.StatusNotFound, "User not found")
		return
	case err != nil:
		h.log.Error("Failed to delete user", zap.Int("user_id", id), zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User deleted successfully"})
}

// GetAllDatasets returns every dataset in the system
func (h *Handler) GetAllDatasets(c *gin.Context) {
	datasets, err := h.svc.ListDatasets(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list datasets", zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "Failed to list datasets")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(datasets), "data": datasets})
}

// Prune enforces the retention cap for every user
func (h *Handler) Prune(c *gin.Context) {
	reports, err := h.svc.Prune(c.Request.Context())
	if err != nil {
		// Some users may still have been pruned; report what was done
		h.log.Error("Retention sweep finished with errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "detail": "Retention sweep incomplete", "reports": reports})
		return
	}

	evicted := 0
	for _, r := range reports {
		evicted += len(r.Evicted)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "evicted": evicted, "reports": reports})
}
