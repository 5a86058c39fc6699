package copilot

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/PhupaSirirat/dbank-copilot/internal/registry"
	"github.com/PhupaSirirat/dbank-copilot/pkg/llm"
	"github.com/PhupaSirirat/dbank-copilot/pkg/logging"
)

// AskRequest is the body accepted by POST /ask.
type AskRequest struct {
	Question       string `json:"question" binding:"required,min=1,max=2000"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	MaxTokens      int    `json:"max_tokens"`
}

const (
	defaultMaxTokens = 2000
	minMaxTokens     = 100
	maxMaxTokens     = 4000
)

type toolServerClient interface {
	ListTools(ctx context.Context) ([]registry.Definition, error)
	Health(ctx context.Context) bool
}

// Handler is the copilot's HTTP surface: the /ask stream plus conversation
// management.
type Handler struct {
	assembler     *Assembler
	conversations *Manager
	tools         toolServerClient
	provider      llm.Provider
	logger        logging.Logger

	// one answer at a time per conversation
	locks sync.Map
}

type HandlerConfig struct {
	Assembler     *Assembler
	Conversations *Manager
	Tools         toolServerClient
	Provider      llm.Provider
	Logger        logging.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		assembler:     cfg.Assembler,
		conversations: cfg.Conversations,
		tools:         cfg.Tools,
		provider:      cfg.Provider,
		logger:        cfg.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/ask", h.ask)
	router.GET("/tools", h.listTools)

	conversations := router.Group("/conversations")
	{
		conversations.GET("", h.listConversations)
		conversations.GET("/:id", h.getConversation)
		conversations.DELETE("/:id", h.deleteConversation)
		conversations.POST("/cleanup", h.cleanupConversations)
	}
}

func (h *Handler) ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.MaxTokens < minMaxTokens || req.MaxTokens > maxMaxTokens {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_tokens must be between 100 and 4000"})
		return
	}

	conversationID := req.ConversationID
	if _, ok := h.conversations.Get(conversationID); conversationID == "" || !ok {
		conversationID = h.conversations.Create(req.UserID).ID
	}

	value, _ := h.locks.LoadOrStore(conversationID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	if !mu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is busy, try again shortly"})
		return
	}
	defer func() {
		mu.Unlock()
		// drop the lock entry when idle; a concurrent asker recreates it
		if mu.TryLock() {
			h.locks.Delete(conversationID)
			mu.Unlock()
		}
	}()

	if err := h.conversations.AddMessage(conversationID, Message{Role: "user", Content: req.Question}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record question"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Conversation-ID", conversationID)
	c.Status(http.StatusOK)

	writer := newSSEWriter(c.Writer)
	h.assembler.Answer(c.Request.Context(), writer, conversationID, req.UserID)
	writer.Close()
}

func (h *Handler) listTools(c *gin.Context) {
	tools, err := h.tools.ListTools(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch tool list")
		c.JSON(http.StatusBadGateway, gin.H{"error": "tool server unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools, "count": len(tools)})
}

func (h *Handler) listConversations(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := queryLimit(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		limit = n
	}
	summaries := h.conversations.List(c.Query("user_id"), limit)
	c.JSON(http.StatusOK, gin.H{"conversations": summaries, "count": len(summaries)})
}

func (h *Handler) getConversation(c *gin.Context) {
	summary, err := h.conversations.Summarize(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	if !h.conversations.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation " + id + " not found"})
		return
	}
	h.locks.Delete(id)
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) cleanupConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": h.conversations.CleanupExpired()})
}

func queryLimit(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}

// HealthStatus is reported alongside the standard health endpoint so
// operators can see each dependency at a glance.
type HealthStatus struct {
	Status     string `json:"status"`
	ToolServer bool   `json:"tool_server"`
	LLMClient  bool   `json:"llm_client"`
}

// Health probes the copilot's dependencies.
func (h *Handler) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		ToolServer: h.tools.Health(ctx),
		LLMClient:  h.provider != nil,
	}
	if status.ToolServer && status.LLMClient {
		status.Status = "healthy"
	} else {
		status.Status = "degraded"
	}
	return status
}
