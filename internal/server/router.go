package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/offlinefirst/todosync/internal/todo"
	"github.com/offlinefirst/todosync/internal/users"
)

const userIDContextKey = "todosync_user_id"

var (
	errMissingTokenIssuer  = errors.New("token issuer dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingNoteStore    = errors.New("note store dependency required")
	errMissingApplier      = errors.New("event applier dependency required")
)

// TokenAuthority issues api tokens at signup/login and validates them on
// every protected request.
type TokenAuthority interface {
	IssueToken(userID int64) (string, error)
	ValidateToken(token string) (int64, error)
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	Tokens       TokenAuthority
	UsersService *users.Service
	NoteStore    *todo.Store
	EventApplier *todo.Applier
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the full API surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.NoteStore == nil {
		return nil, errMissingNoteStore
	}
	if deps.EventApplier == nil {
		return nil, errMissingApplier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.Tokens,
		usersService: deps.UsersService,
		noteStore:    deps.NoteStore,
		applier:      deps.EventApplier,
		logger:       logger,
	}

	router.POST("/user/signup", handler.handleSignup)
	router.POST("/user/login", handler.handleLogin)

	protected := router.Group("/todonotes")
	protected.Use(handler.authorizeRequest)
	protected.GET("", handler.handleListNotes)
	protected.PUT("", handler.handleCreateNote)
	protected.POST("/events", handler.handleEvents)
	protected.POST("/mark/done/:id", handler.handleMarkDone)
	protected.POST("/mark/pending/:id", handler.handleMarkPending)
	protected.POST("/:id", handler.handleEditNote)
	protected.DELETE("/:id", handler.handleDeleteNote)

	return router, nil
}

type httpHandler struct {
	tokens       TokenAuthority
	usersService *users.Service
	noteStore    *todo.Store
	applier      *todo.Applier
	logger       *zap.Logger
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponsePayload struct {
	APIToken string `json:"api_token"`
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.usersService.Register(c.Request.Context(), request.Username, request.Password)
	switch {
	case errors.Is(err, users.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
		return
	case errors.Is(err, users.ErrInvalidUsername), errors.Is(err, users.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	token, err := h.tokens.IssueToken(account.ID)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err), zap.Int64("user_id", account.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusCreated, tokenResponsePayload{APIToken: token})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.usersService.Authenticate(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, err := h.tokens.IssueToken(account.ID)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err), zap.Int64("user_id", account.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{APIToken: token})
}

// authorizeRequest validates the api_token query parameter the way the
// protocol transports credentials.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := strings.TrimSpace(c.Query("api_token"))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) requestUserID(c *gin.Context) (int64, bool) {
	userID := c.GetInt64(userIDContextKey)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return userID, true
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	notes, err := h.noteStore.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list notes failed", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if notes == nil {
		notes = []todo.Note{}
	}
	c.JSON(http.StatusOK, notes)
}

type createNotePayload struct {
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request createNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	fieldErrors := map[string][]string{}
	if err := todo.ValidateText(request.Text); err != nil {
		fieldErrors["text"] = []string{err.Error()}
	}
	createdAt, err := todo.NewTimestamp(request.CreatedAt)
	if err != nil {
		fieldErrors["created_at"] = []string{err.Error()}
	}
	if len(fieldErrors) > 0 {
		c.JSON(http.StatusBadRequest, fieldErrors)
		return
	}

	note, err := h.noteStore.Create(c.Request.Context(), userID, request.Text, createdAt)
	if err != nil {
		h.logger.Error("create note failed", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	// The response body is the bare permanent identity.
	c.JSON(http.StatusCreated, note.ID.Int64())
}

type editNotePayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleEditNote(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	id, ok := pathNoteID(c)
	if !ok {
		return
	}

	var request editNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := todo.ValidateText(request.Text); err != nil {
		c.JSON(http.StatusBadRequest, map[string][]string{"text": {err.Error()}})
		return
	}

	h.finishItemCall(c, h.noteStore.Edit(c.Request.Context(), userID, id, request.Text), userID, id, "edit")
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	id, ok := pathNoteID(c)
	if !ok {
		return
	}
	h.finishItemCall(c, h.noteStore.Delete(c.Request.Context(), userID, id), userID, id, "delete")
}

func (h *httpHandler) handleMarkDone(c *gin.Context) {
	h.handleMark(c, true)
}

func (h *httpHandler) handleMarkPending(c *gin.Context) {
	h.handleMark(c, false)
}

func (h *httpHandler) handleMark(c *gin.Context, completed bool) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	id, ok := pathNoteID(c)
	if !ok {
		return
	}
	h.finishItemCall(c, h.noteStore.Mark(c.Request.Context(), userID, id, completed), userID, id, "mark")
}

func (h *httpHandler) finishItemCall(c *gin.Context, err error, userID int64, id todo.NoteID, operation string) {
	if errors.Is(err, todo.ErrNoteNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("note operation failed",
			zap.Error(err),
			zap.String("operation", operation),
			zap.Int64("user_id", userID),
			zap.Int64("note_id", id.Int64()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type eventsResponsePayload struct {
	IDs    map[string]int64 `json:"ids"`
	Errors []todo.BatchError `json:"errors"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var batch todo.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.applier.Apply(c.Request.Context(), userID, batch)
	if errors.Is(err, todo.ErrUnknownEventType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event_type"})
		return
	}
	if err != nil {
		h.logger.Error("event batch failed", zap.Error(err), zap.Int64("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "events_failed"})
		return
	}

	response := eventsResponsePayload{
		IDs:    result.WireIDs(),
		Errors: result.Errors,
	}
	if response.Errors == nil {
		response.Errors = []todo.BatchError{}
	}
	c.JSON(http.StatusOK, response)
}

func pathNoteID(c *gin.Context) (todo.NoteID, bool) {
	id, err := todo.ParseNoteID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return 0, false
	}
	return id, true
}
