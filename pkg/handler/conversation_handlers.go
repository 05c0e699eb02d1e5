// Conversation HTTP handlers - thread CRUD plus the tool turns
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimbusdesk/nimbusdesk/pkg/models"
	"github.com/nimbusdesk/nimbusdesk/pkg/service"
	"github.com/nimbusdesk/nimbusdesk/pkg/store"
)

// ConversationHandler handles conversation HTTP requests.
type ConversationHandler struct {
	convs     *store.ConversationStore
	workbench *service.WorkbenchService
	state     *service.StateService
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(convs *store.ConversationStore, workbench *service.WorkbenchService, state *service.StateService) *ConversationHandler {
	return &ConversationHandler{convs: convs, workbench: workbench, state: state}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	conversations := r.Group("/conversations")
	{
		conversations.POST("", h.Create)
		conversations.GET("", h.List)
		conversations.POST("/reload", h.Reload)
		conversations.GET("/current", h.Current)
		conversations.PUT("/current", h.SetCurrent)
		conversations.GET("/:key", h.Get)
		conversations.PATCH("/:key", h.Rename)
		conversations.DELETE("/:key", h.Delete)

		conversations.POST("/:key/chat", h.Chat)
		conversations.POST("/:key/speak", h.Speak)
		conversations.POST("/:key/illustrate", h.Illustrate)
		conversations.POST("/:key/search", h.Search)
	}
}

func mutationStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotPersisted):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// Create handles POST /api/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
		Tool  string `json:"tool" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.convs.Create(c.Request.Context(), req.Title, models.ToolKind(req.Tool))
	if err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// List handles GET /api/conversations?tool=chat&q=lisbon
func (h *ConversationHandler) List(c *gin.Context) {
	tool := models.ToolKind(c.Query("tool"))
	query := c.Query("q")
	c.JSON(http.StatusOK, gin.H{"conversations": h.convs.Find(tool, query)})
}

// Reload handles POST /api/conversations/reload
func (h *ConversationHandler) Reload(c *gin.Context) {
	if err := h.convs.Load(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": h.convs.List()})
}

// Get handles GET /api/conversations/:key
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, ok := h.convs.Get(c.Param("key"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Rename handles PATCH /api/conversations/:key
func (h *ConversationHandler) Rename(c *gin.Context) {
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.convs.Rename(c.Request.Context(), c.Param("key"), req.Title); err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	conv, _ := h.convs.Get(c.Param("key"))
	c.JSON(http.StatusOK, conv)
}

// Delete handles DELETE /api/conversations/:key
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.convs.Delete(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Current handles GET /api/conversations/current
func (h *ConversationHandler) Current(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"record_key": h.convs.Current()})
}

// SetCurrent handles PUT /api/conversations/current
func (h *ConversationHandler) SetCurrent(c *gin.Context) {
	var req struct {
		RecordKey string `json:"record_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.convs.SetCurrent(req.RecordKey); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := h.state.SaveCurrentConversation(req.RecordKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record_key": req.RecordKey})
}

type turnRequest struct {
	Text string `json:"text" binding:"required"`
	Size string `json:"size"` // image turns only
}

func (h *ConversationHandler) runTurn(c *gin.Context, turn func(key, text string) (*models.Message, error)) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := turn(c.Param("key"), req.Text)
	if err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Chat handles POST /api/conversations/:key/chat
func (h *ConversationHandler) Chat(c *gin.Context) {
	h.runTurn(c, func(key, text string) (*models.Message, error) {
		return h.workbench.SendChat(c.Request.Context(), key, text)
	})
}

// Speak handles POST /api/conversations/:key/speak
func (h *ConversationHandler) Speak(c *gin.Context) {
	h.runTurn(c, func(key, text string) (*models.Message, error) {
		return h.workbench.Speak(c.Request.Context(), key, text)
	})
}

// Illustrate handles POST /api/conversations/:key/illustrate
func (h *ConversationHandler) Illustrate(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.workbench.Illustrate(c.Request.Context(), c.Param("key"), req.Text, req.Size)
	if err != nil {
		c.JSON(mutationStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Search handles POST /api/conversations/:key/search
func (h *ConversationHandler) Search(c *gin.Context) {
	h.runTurn(c, func(key, text string) (*models.Message, error) {
		return h.workbench.Search(c.Request.Context(), key, text)
	})
}
