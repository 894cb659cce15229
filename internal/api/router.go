package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/api/admin"
	"github.com/chemviz/equipment-visualizer/internal/api/auth"
	"github.com/chemviz/equipment-visualizer/internal/api/data"
	"github.com/chemviz/equipment-visualizer/internal/api/response"
	"github.com/chemviz/equipment-visualizer/internal/pkg/metrics"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Deps are the handlers and collaborators the router needs
type Deps struct {
	Auth     *auth.Handler
	Datasets *data.Handler
	Admin    *admin.Handler
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	// Ping checks the database for /health; optional
	Ping func(ctx context.Context) error
}

// NewEngine creates a gin engine with recovery, logging and all routes
func NewEngine(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(deps.Log))
	if deps.Metrics != nil {
		r.Use(MetricsMiddleware(deps.Metrics))
	}
	SetupRouter(r, deps)
	return r
}

// SetupRouter configures all routes
func SetupRouter(r *gin.Engine, deps Deps) {
	response.UseJSONFieldNames()

	// CORS middleware
	r.Use(CORSMiddleware())

	// Health check
	r.GET("/health", healthHandler(deps.Ping))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	// Auth routes
	authRoutes := r.Group("/api/auth")
	{
		authRoutes.POST("/register", deps.Auth.RateLimitMiddleware(), deps.Auth.Register)
		authRoutes.POST("/login", deps.Auth.RateLimitMiddleware(), deps.Auth.Login)
		authRoutes.POST("/logout", deps.Auth.AuthMiddleware(), deps.Auth.Logout)
		authRoutes.GET("/me", deps.Auth.AuthMiddleware(), deps.Auth.GetCurrentUser)
	}

	// API routes that require authentication
	api := r.Group("/api")
	api.Use(deps.Auth.AuthMiddleware())
	{
		datasets := api.Group("/datasets")
		{
			datasets.POST("/upload", deps.Datasets.Upload)
			datasets.GET("/history", deps.Datasets.History)
			datasets.GET("", deps.Datasets.List)
			datasets.GET("/:id", deps.Datasets.Get)
			datasets.GET("/:id/summary", deps.Datasets.Summary)
			datasets.GET("/:id/report", deps.Datasets.Report)
			datasets.GET("/:id/file", deps.Datasets.Original)
			datasets.DELETE("/:id", deps.Datasets.Delete)
		}

		// Admin routes
		adminGroup := api.Group("/admin")
		adminGroup.Use(deps.Auth.AdminMiddleware())
		{
			adminGroup.GET("/users", deps.Admin.GetUsers)
			adminGroup.DELETE("/users/:user_id", deps.Admin.DeleteUser)
			adminGroup.GET("/datasets", deps.Admin.GetAllDatasets)
			adminGroup.POST("/prune", deps.Admin.Prune)
		}
	}
}

func healthHandler(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"message": "Database unavailable",
					"version": Version,
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"message": "Chemical Equipment Visualizer API is running",
			"version": Version,
		})
	}
}

// CORSMiddleware provides CORS support
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestLogger logs every request with zap
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := c.GetInt("user_id"); userID != 0 {
			fields = append(fields, zap.Int("user_id", userID))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("Request failed", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("Request rejected", fields...)
		default:
			log.Info("Request served", fields...)
		}
	}
}

// MetricsMiddleware records request counts and latency by route
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
