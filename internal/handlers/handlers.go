package handlers

import (
	"errors"
	"net/http"

	"github.com/Brownie44l1/skin-analyzer/internal/inference"
	"github.com/Brownie44l1/skin-analyzer/internal/intake"
	"github.com/Brownie44l1/skin-analyzer/internal/session"
	"github.com/Brownie44l1/skin-analyzer/internal/view"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Rejections counts uploads turned away before inference.
type Rejections interface {
	Rejected(reason string)
}

type nopRejections struct{}

func (nopRejections) Rejected(string) {}

type Handler struct {
	session    *session.Session
	rejections Rejections
	maxBytes   int64
	logger     *zap.Logger
}

func NewHandler(s *session.Session, maxBytes int64, rejections Rejections, logger *zap.Logger) *Handler {
	if rejections == nil {
		rejections = nopRejections{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		session:    s,
		rejections: rejections,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"model":  h.session.Snapshot().Phase,
	})
}

func (h *Handler) Page(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := view.WritePage(c.Writer, view.Render(h.session.Snapshot())); err != nil {
		h.logger.Error("failed to render page", zap.Error(err))
	}
}

func (h *Handler) State(c *gin.Context) {
	c.JSON(http.StatusOK, view.Render(h.session.Snapshot()))
}

func (h *Handler) Preview(c *gin.Context) {
	p, ok := h.session.Preview(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Preview not found"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, intake.PreviewType(p.Data), p.Data)
}

// Analyze accepts one image from the file picker or drop zone and classifies it.
// Non-image files are ignored with 204.
func (h *Handler) Analyze(c *gin.Context) {
	// room for the multipart envelope around the file
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejections.Rejected("too_large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image exceeds the upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided. Use 'image' as the form field name"})
		return
	}

	upload, err := intake.FromMultipart(fh, intake.ParseSource(c.PostForm("source")), h.maxBytes)
	switch {
	case errors.Is(err, intake.ErrNotImage), errors.Is(err, intake.ErrEmpty):
		h.rejections.Rejected("not_image")
		h.logger.Debug("ignoring non-image upload", zap.String("filename", fh.Filename), zap.Error(err))
		c.Status(http.StatusNoContent)
		return
	case errors.Is(err, intake.ErrTooLarge):
		h.rejections.Rejected("too_large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image exceeds the upload limit"})
		return
	case err != nil:
		h.logger.Error("failed to read upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return
	}

	h.logger.Info("received image",
		zap.String("filename", upload.Filename),
		zap.String("media_type", upload.MediaType),
		zap.String("source", string(upload.Source)),
		zap.Int("size", len(upload.Data)))

	snap, err := h.session.Analyze(c.Request.Context(), upload)
	switch {
	case errors.Is(err, session.ErrBusy):
		h.rejections.Rejected("busy")
		c.JSON(http.StatusConflict, gin.H{"error": "An image is already being analyzed"})
		return
	case errors.Is(err, inference.ErrModelNotReady):
		h.rejections.Rejected("model_not_ready")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Model is not loaded"})
		return
	}
	// inference failures are logged by the session; the page keeps its prior result
	c.JSON(http.StatusOK, view.Render(snap))
}
