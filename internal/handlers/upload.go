package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"course-chat-service/internal/models"
	"course-chat-service/internal/telemetry"
	"course-chat-service/internal/uploads"
)

// UploadHandler accepts attachment uploads and returns stored references.
type UploadHandler struct {
	store *uploads.Store
	audit *telemetry.AuditEmitter
}

// NewUploadHandler builds an UploadHandler.
func NewUploadHandler(store *uploads.Store, audit *telemetry.AuditEmitter) *UploadHandler {
	return &UploadHandler{store: store, audit: audit}
}

// Upload stores up to five files from the "files" multipart field. All
// files are validated before any blob is written, so a rejected batch
// leaves nothing behind.
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}
	if len(files) > models.MaxAttachments {
		h.emitAudit(c, "ERROR", "upload rejected: too many files")
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many files", "code": "TooManyAttachments"})
		return
	}
	for _, file := range files {
		if file.Size > uploads.MaxFileSize {
			h.emitAudit(c, "ERROR", "upload rejected: file too large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large", "code": "UploadFailed"})
			return
		}
	}

	attachments := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		src, err := file.Open()
		if err != nil {
			h.rollback(attachments)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read file", "code": "UploadFailed"})
			return
		}
		att, err := h.store.Save(file.Filename, src)
		src.Close()
		if err != nil {
			h.rollback(attachments)
			status := http.StatusInternalServerError
			if errors.Is(err, uploads.ErrTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			h.emitAudit(c, "ERROR", "upload failed")
			c.JSON(status, gin.H{"error": "upload failed", "code": "UploadFailed"})
			return
		}
		attachments = append(attachments, att)
	}

	h.emitAudit(c, "INFO", "Attachments uploaded")
	c.JSON(http.StatusCreated, gin.H{"attachments": attachments})
}

// rollback deletes blobs already written for a batch that failed midway.
func (h *UploadHandler) rollback(attachments []models.Attachment) {
	for _, att := range attachments {
		if err := h.store.Remove(att); err != nil {
			log.Printf("upload rollback failed url=%s: %v", att.URL, err)
		}
	}
}

func (h *UploadHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
