// Email HTTP handlers - drafts, templates, sending, sent log
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/store"
)

// EmailHandler handles email HTTP requests.
type EmailHandler struct {
	emails *store.EmailStore
	files  *store.FileStore
}

// NewEmailHandler creates a new email handler.
func NewEmailHandler(emails *store.EmailStore, files *store.FileStore) *EmailHandler {
	return &EmailHandler{emails: emails, files: files}
}

// RegisterRoutes registers email routes.
func (h *EmailHandler) RegisterRoutes(r *gin.RouterGroup) {
	email := r.Group("/email")
	{
		email.GET("/drafts", h.ListDrafts)
		email.POST("/drafts", h.SaveDraft)
		email.GET("/drafts/:key", h.GetDraft)
		email.DELETE("/drafts/:key", h.DeleteDraft)
		email.POST("/drafts/:key/send", h.SendDraft)

		email.GET("/templates", h.ListTemplates)
		email.POST("/templates", h.SaveTemplate)
		email.DELETE("/templates/:key", h.DeleteTemplate)
		email.POST("/templates/:key/render", h.RenderTemplate)

		email.POST("/send", h.Send)
		email.GET("/log", h.SentLog)
	}
}

type draftRequest struct {
	RecordKey   string   `json:"record_key"`
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"` // file record keys
}

// draftFromRequest resolves attachment file keys into read-only references.
func (h *EmailHandler) draftFromRequest(req draftRequest) (*models.EmailDraft, error) {
	draft := &models.EmailDraft{
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	}
	draft.RecordKey = req.RecordKey
	for _, key := range req.Attachments {
		f, ok := h.files.Get(key)
		if !ok {
			return nil, &attachmentError{key: key}
		}
		draft.Attachments = append(draft.Attachments, models.AttachmentFromFile(f))
	}
	return draft, nil
}

type attachmentError struct{ key string }

func (e *attachmentError) Error() string { return "attachment file not found: " + e.key }

// ListDrafts handles GET /api/email/drafts
func (h *EmailHandler) ListDrafts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"drafts": h.emails.Drafts()})
}

// SaveDraft handles POST /api/email/drafts (create when record_key is empty).
func (h *EmailHandler) SaveDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft, err := h.draftFromRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := h.emails.SaveDraft(c.Request.Context(), draft)
	if err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, saved)
}

// GetDraft handles GET /api/email/drafts/:key
func (h *EmailHandler) GetDraft(c *gin.Context) {
	draft, ok := h.emails.GetDraft(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}
	c.JSON(http.StatusOK, draft)
}

// DeleteDraft handles DELETE /api/email/drafts/:key
func (h *EmailHandler) DeleteDraft(c *gin.Context) {
	if err := h.emails.DeleteDraft(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// SendDraft handles POST /api/email/drafts/:key/send
func (h *EmailHandler) SendDraft(c *gin.Context) {
	entry, err := h.emails.SendDraft(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListTemplates handles GET /api/email/templates
func (h *EmailHandler) ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": h.emails.Templates()})
}

// SaveTemplate handles POST /api/email/templates
func (h *EmailHandler) SaveTemplate(c *gin.Context) {
	var req models.EmailTemplate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := h.emails.SaveTemplate(c.Request.Context(), &req)
	if err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, saved)
}

// DeleteTemplate handles DELETE /api/email/templates/:key
func (h *EmailHandler) DeleteTemplate(c *gin.Context) {
	if err := h.emails.DeleteTemplate(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// RenderTemplate handles POST /api/email/templates/:key/render
func (h *EmailHandler) RenderTemplate(c *gin.Context) {
	var req struct {
		Vars map[string]string `json:"vars"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subject, body, err := h.emails.RenderTemplate(c.Param("key"), req.Vars)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": subject, "body": body})
}

// Send handles POST /api/email/send (one-off message, no draft involved).
func (h *EmailHandler) Send(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft, err := h.draftFromRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.emails.Send(c.Request.Context(), draft)
	if err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// SentLog handles GET /api/email/log
func (h *EmailHandler) SentLog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"log": h.emails.SentLog()})
}
