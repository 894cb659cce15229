package data

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chemviz/equipment-visualizer/internal/api/response"
	"github.com/chemviz/equipment-visualizer/internal/model"
	"github.com/chemviz/equipment-visualizer/internal/service"
)

// multipartOverhead is the room left for form boundaries and headers on
// top of the file size limit
const multipartOverhead = 64 * 1024

// Handler serves the /api/datasets routes
type Handler struct {
	svc *service.DatasetService
	log *zap.Logger
}

// NewHandler creates a dataset Handler
func NewHandler(svc *service.DatasetService, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Upload accepts a multipart CSV file in the "file" field
func (h *Handler) Upload(c *gin.Context) {
	userID := response.UserID(c)
	maxBytes := h.svc.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeUploadError(c, fmt.Errorf("%w: request body too large", service.ErrUploadTooLarge))
			return
		}
		response.Fail(c, http.StatusBadRequest, "No file provided")
		return
	}

	if err := h.svc.CheckUpload(fileHeader.Filename, fileHeader.Size); err != nil {
		h.writeUploadError(c, err)
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "Could not read uploaded file")
		return
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, "Could not read uploaded file")
		return
	}

	ds, summary, err := h.svc.Upload(c.Request.Context(), userID, fileHeader.Filename, body)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.UploadResponse{
		Success:  true,
		Message:  "CSV file uploaded and processed successfully",
		Data:     ds,
		Analysis: summary,
	})
}

func (h *Handler) writeUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUploadTooLarge):
		response.Fail(c, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrInvalidUpload):
		response.Fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTooManyUploads):
		response.Fail(c, http.StatusTooManyRequests, "Too many uploads in progress. Please wait and try again.")
	default:
		h.log.Error("Upload failed", zap.Int("user_id", response.UserID(c)), zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "Failed to process upload")
	}
}

// History returns the retained datasets, newest first
func (h *Handler) History(c *gin.Context) {
	datasets, err := h.svc.History(c.Request.Context(), response.UserID(c))
	if err != nil {
		h.internalError(c, "Failed to load history", err)
		return
	}

	c.JSON(http.StatusOK, model.HistoryResponse{Success: true, Count: len(datasets), Data: datasets})
}

// List returns every owned dataset
func (h *Handler) List(c *gin.Context) {
	datasets, err := h.svc.List(c.Request.Context(), response.UserID(c))
	if err != nil {
		h.internalError(c, "Failed to load datasets", err)
		return
	}

	c.JSON(http.StatusOK, model.HistoryResponse{Success: true, Count: len(datasets), Data: datasets})
}

// Get returns a dataset with its equipment items
func (h *Handler) Get(c *gin.Context) {
	id, ok := response.ParamID(c, "id")
	if !ok {
		response.Fail(c, http.StatusNotFound, "Dataset not found")
		return
	}

	ds, err := h.svc.Get(c.Request.Context(), response.UserID(c), id)
	if err != nil {
		h.lookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": ds})
}

// Summary returns the dataset with a freshly computed analysis
func (h *Handler) Summary(c *gin.Context) {
	id, ok := response.ParamID(c, "id")
	if !ok {
		response.Fail(c, http.StatusNotFound, "Dataset not found")
		return
	}

	ds, summary, err := h.svc.Summary(c.Request.Context(), response.UserID(c), id)
	if err != nil {
		h.lookupError(c, err)
		return
	}

	// The summary carries the rows' statistics; the rows themselves stay out
	ds.Rows = nil
	c.JSON(http.StatusOK, model.SummaryResponse{Success: true, Dataset: ds, Analysis: summary})
}

// Report streams the PDF report as an attachment
func (h *Handler) Report(c *gin.Context) {
	id, ok := response.ParamID(c, "id")
	if !ok {
		response.Fail(c, http.StatusNotFound, "Dataset not found")
		return
	}

	pdf, filename, err := h.svc.Report(c.Request.Context(), response.UserID(c), id)
	if err != nil {
		if errors.Is(err, service.ErrReportFailed) {
			response.Fail(c, http.StatusInternalServerError, "Failed to generate PDF report")
			return
		}
		h.lookupError(c, err)
		return
	}

	attachment(c, filename)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// Original streams the uploaded CSV back as an attachment
func (h *Handler) Original(c *gin.Context) {
	id, ok := response.ParamID(c, "id")
	if !ok {
		response.Fail(c, http.StatusNotFound, "Dataset not found")
		return
	}

	data, filename, err := h.svc.Original(c.Request.Context(), response.UserID(c), id)
	if err != nil {
		if errors.Is(err, service.ErrOriginalMissing) {
			response.Fail(c, http.StatusNotFound, "Original file not available")
			return
		}
		h.lookupError(c, err)
		return
	}

	attachment(c, filename)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// Delete removes a dataset
func (h *Handler) Delete(c *gin.Context) {
	id, ok := response.ParamID(c, "id")
	if !ok {
		response.Fail(c, http.StatusNotFound, "Dataset not found")
		return
	}

	if err := h.svc.Delete(c.Request.Context(), response.UserID(c), id); err != nil {
		h.lookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Dataset deleted successfully"})
}

func attachment(c *gin.Context, filename string) {
	quoted := strings.NewReplacer(`"`, "_", `\`, "_").Replace(filename)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		quoted, url.PathEscape(filename)))
}

func (h *Handler) lookupError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrDatasetNotFound) {
		response.Fail(c, http.StatusNotFound, "Dataset not found")
		return
	}
	h.internalError(c, "Internal server error", err)
}

func (h *Handler) internalError(c *gin.Context, detail string, err error) {
	h.log.Error(detail, zap.Int("user_id", response.UserID(c)), zap.String("path", c.FullPath()), zap.Error(err))
	response.Fail(c, http.StatusInternalServerError, detail)
}
