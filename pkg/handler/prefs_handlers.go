// Preference HTTP handlers - typed set reads, field updates, export/import
package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimbusdesk/nimbusdesk/pkg/prefs"
)

// PrefsHandler handles preference HTTP requests.
type PrefsHandler struct {
	manager *prefs.Manager
}

// NewPrefsHandler creates a new preferences handler.
func NewPrefsHandler(manager *prefs.Manager) *PrefsHandler {
	return &PrefsHandler{manager: manager}
}

// RegisterRoutes registers preference routes.
func (h *PrefsHandler) RegisterRoutes(r *gin.RouterGroup) {
	p := r.Group("/preferences")
	{
		p.GET("", h.Get)
		p.POST("/reload", h.Reload)
		p.PATCH("", h.Update)
		p.POST("/reset/:category", h.ResetCategory)
		p.GET("/export", h.Export)
		p.POST("/import", h.Import)
	}
}

// Get handles GET /api/preferences
func (h *PrefsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Get())
}

// Reload handles POST /api/preferences/reload
func (h *PrefsHandler) Reload(c *gin.Context) {
	if err := h.manager.Load(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.manager.Get())
}

// Update handles PATCH /api/preferences
func (h *PrefsHandler) Update(c *gin.Context) {
	var req struct {
		Category string `json:"category" binding:"required"`
		Key      string `json:"key" binding:"required"`
		Value    any    `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.Update(c.Request.Context(), req.Category, req.Key, req.Value); err != nil {
		if errors.Is(err, prefs.ErrUnknownPreference) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.manager.Get())
}

// ResetCategory handles POST /api/preferences/reset/:category
func (h *PrefsHandler) ResetCategory(c *gin.Context) {
	if err := h.manager.ResetCategory(c.Request.Context(), c.Param("category")); err != nil {
		if errors.Is(err, prefs.ErrUnknownPreference) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.manager.Get())
}

// Export handles GET /api/preferences/export
func (h *PrefsHandler) Export(c *gin.Context) {
	doc, err := h.manager.Export()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="preferences.json"`)
	c.Data(http.StatusOK, "application/json", doc)
}

// Import handles POST /api/preferences/import
func (h *PrefsHandler) Import(c *gin.Context) {
	doc, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.manager.Import(c.Request.Context(), doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.manager.Get())
}
