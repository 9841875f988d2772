package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"modalhub/internal/logging"
	"modalhub/internal/metrics"
	"modalhub/internal/service/assistant"
	"modalhub/internal/service/todo"
	"modalhub/internal/worker"
)

// Handler wires HTTP routes to the todo store and the assistant service.
type Handler struct {
	todos     todo.Store
	assistant *assistant.Service
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// NewHandler constructs a Handler instance. metrics may be nil.
func NewHandler(todos todo.Store, service *assistant.Service, m *metrics.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		todos:     todos,
		assistant: service,
		metrics:   m,
		logger:    logger.Named("http"),
	}
}

// RegisterRoutes attaches middleware and all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestID(), RequestLogger(h.logger))
	if h.metrics != nil {
		router.Use(h.metrics.Middleware())
	}
	// innermost, so panics still reach the logger and metrics as a 500
	router.Use(Recovery(h.logger))

	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	todos := router.Group("/todos")
	todos.GET("", h.listTodos)
	todos.POST("", h.createTodo)
	todos.GET("/:id", h.getTodo)
	todos.PUT("/:id", h.updateTodo)
	todos.DELETE("/:id", h.deleteTodo)

	asst := router.Group("/api/v1/assistant")
	asst.POST("/chat", h.chat)
	asst.GET("/sessions/:session_id", h.getSession)
	asst.DELETE("/sessions/:session_id", h.deleteSession)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Todo interface
type createTodoRequest struct {
	Title *string `json:"title"`
}

type updateTodoRequest struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

func parseTodoID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid todo id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) todoError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, todo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Todo not found"})
	case errors.Is(err, todo.ErrTitleRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) listTodos(c *gin.Context) {
	items, err := h.todos.List(c.Request.Context())
	if err != nil {
		h.todoError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) getTodo(c *gin.Context) {
	id, ok := parseTodoID(c)
	if !ok {
		return
	}
	item, err := h.todos.Get(c.Request.Context(), id)
	if err != nil {
		h.todoError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) createTodo(c *gin.Context) {
	var req createTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Title == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
		return
	}
	item, err := h.todos.Create(c.Request.Context(), *req.Title)
	if err != nil {
		h.todoError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) updateTodo(c *gin.Context) {
	id, ok := parseTodoID(c)
	if !ok {
		return
	}
	var req updateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	item, err := h.todos.Update(c.Request.Context(), id, todo.UpdateParams{
		Title:     req.Title,
		Completed: req.Completed,
	})
	if err != nil {
		h.todoError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) deleteTodo(c *gin.Context) {
	id, ok := parseTodoID(c)
	if !ok {
		return
	}
	if err := h.todos.Delete(c.Request.Context(), id); err != nil {
		h.todoError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Assistant interface
type chatRequest struct {
	Message   *string `json:"message"`
	SessionID *string `json:"session_id"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	sessionID := ""
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}

	resp, err := h.assistant.HandleChat(c.Request.Context(), *req.Message, sessionID)
	if err != nil {
		var genErr *assistant.GenerationError
		switch {
		case errors.As(err, &genErr):
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Generation failed: " + genErr.Err.Error()})
		case errors.Is(err, worker.ErrDispatcherBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		case errors.Is(err, worker.ErrDispatcherStopped), errors.Is(err, worker.ErrJobCanceled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, assistant.ErrSessionNotFound):
			// deleted while the reply was being generated
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getSession(c *gin.Context) {
	se, err := h.assistant.History(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, assistant.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, se)
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.assistant.DeleteSession(c.Request.Context(), c.Param("session_id")); err != nil {
		if errors.Is(err, assistant.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
