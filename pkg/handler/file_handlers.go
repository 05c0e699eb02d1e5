// File library HTTP handlers - multipart upload, listing, soft delete
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/store"
)

// FileHandler handles file library HTTP requests.
type FileHandler struct {
	files *store.FileStore
}

// NewFileHandler creates a new file handler.
func NewFileHandler(files *store.FileStore) *FileHandler {
	return &FileHandler{files: files}
}

// RegisterRoutes registers file routes.
func (h *FileHandler) RegisterRoutes(r *gin.RouterGroup) {
	files := r.Group("/files")
	{
		files.POST("/upload", h.Upload)
		files.GET("", h.List)
		files.POST("/reload", h.Reload)
		files.GET("/stats", h.Stats)
		files.GET("/:key", h.Get)
		files.PATCH("/:key", h.UpdateDescription)
		files.DELETE("/:key", h.Delete)
	}
}

// Upload handles POST /api/files/upload (multipart, repeatable "file" field).
// Each file is an independent mutation; the response reports per-file outcomes.
func (h *FileHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	headers := form.File["file"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files in request"})
		return
	}
	description := c.PostForm("description")

	items := make([]store.UploadItem, 0, len(headers))
	closers := make([]func() error, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			break
		}
		closers = append(closers, f.Close)
		items = append(items, store.UploadItem{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Description: description,
			Content:     f,
		})
	}
	defer func() {
		for _, cl := range closers {
			_ = cl()
		}
	}()
	if len(items) != len(headers) {
		return
	}

	results := h.files.UploadBatch(c.Request.Context(), items)
	out := make([]gin.H, 0, len(results))
	for i, r := range results {
		entry := gin.H{"filename": items[i].Filename}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		} else {
			entry["file"] = r.File
		}
		out = append(out, entry)
	}
	status := http.StatusCreated
	if err := store.BatchError(results); err != nil {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": out})
}

// List handles GET /api/files?category=document&q=report
func (h *FileHandler) List(c *gin.Context) {
	category := models.MimeCategory(c.Query("category"))
	query := c.Query("q")
	c.JSON(http.StatusOK, gin.H{"files": h.files.Find(category, query)})
}

// Reload handles POST /api/files/reload
func (h *FileHandler) Reload(c *gin.Context) {
	if err := h.files.Load(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": h.files.List()})
}

// Stats handles GET /api/files/stats?category=image&q=logo
func (h *FileHandler) Stats(c *gin.Context) {
	category := models.MimeCategory(c.Query("category"))
	query := c.Query("q")
	c.JSON(http.StatusOK, gin.H{
		"counts":     h.files.CountByCategory(),
		"total_size": h.files.TotalSize(category, query),
	})
}

// Get handles GET /api/files/:key. This is the audit path: it also returns
// soft-deleted records.
func (h *FileHandler) Get(c *gin.Context) {
	f, ok := h.files.Get(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.JSON(http.StatusOK, f)
}

// UpdateDescription handles PATCH /api/files/:key
func (h *FileHandler) UpdateDescription(c *gin.Context) {
	var req struct {
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.files.UpdateDescription(c.Request.Context(), c.Param("key"), req.Description); err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	f, _ := h.files.Get(c.Param("key"))
	c.JSON(http.StatusOK, f)
}

// Delete handles DELETE /api/files/:key (soft delete).
func (h *FileHandler) Delete(c *gin.Context) {
	if err := h.files.Delete(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
