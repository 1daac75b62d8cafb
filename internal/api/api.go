package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/mortgage-advisor/internal/auth"
	"github.com/wuwenbin0122/mortgage-advisor/internal/dialogue"
	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

// ChatService is the dialogue surface the HTTP layer drives.
type ChatService interface {
	ProcessMessage(ctx context.Context, text, conversationID, userID string) (*dialogue.Turn, error)
	StartConversation(ctx context.Context, userID string) (*models.Conversation, error)
	History(ctx context.Context, conversationID, userID string) ([]models.Message, error)
	Continue(ctx context.Context, conversationID, userID string) (*dialogue.Progress, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

type Handler struct {
	authService *auth.Service
	chat        ChatService
	limiter     *RateLimiter
	logger      *zap.Logger
}

// NewHandler builds the API. limiter may be nil to disable rate limiting.
func NewHandler(authService *auth.Service, chat ChatService, limiter *RateLimiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{authService: authService, chat: chat, limiter: limiter, logger: logger}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.POST("/register", h.handleRegister)
	authGroup.POST("/login", h.handleLogin)

	chatGroup := apiGroup.Group("")
	if h.limiter != nil {
		chatGroup.Use(h.limiter.Middleware())
	}
	chatGroup.POST("/chat", h.handleChat)
	chatGroup.GET("/chat/ws", h.handleChatWebsocket)
	chatGroup.POST("/conversation/reset", h.handleReset)

	convGroup := apiGroup.Group("/conversations")
	convGroup.GET("", h.handleListConversations)
	convGroup.GET("/:id", h.handleContinue)
	convGroup.GET("/:id/messages", h.handleHistory)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *Handler) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	result, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordTooWeak):
			writeError(c, http.StatusBadRequest, err.Error(), err)
		case errors.Is(err, auth.ErrUserExists), errors.Is(err, auth.ErrEmailExists):
			writeError(c, http.StatusConflict, err.Error(), err)
		default:
			writeError(c, http.StatusInternalServerError, "failed to register user", err)
		}
		return
	}

	c.JSON(http.StatusCreated, newAuthResponse(result))
}

func (h *Handler) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	if req.Identifier == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "identifier and password are required", auth.ErrInvalidCredentials)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), auth.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(c, http.StatusUnauthorized, err.Error(), err)
			return
		}
		writeError(c, http.StatusInternalServerError, "failed to login", err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

// optionalUser returns the caller's user id, or "" for anonymous callers.
// A header that is present but invalid is an error.
func (h *Handler) optionalUser(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			header = "Bearer " + token
		}
	}
	if h.authService == nil {
		return "", nil
	}
	userID, err := h.authService.UserFromHeader(header)
	if errors.Is(err, auth.ErrMissingToken) {
		return "", nil
	}
	return userID, err
}

func newAuthResponse(result *auth.AuthResult) gin.H {
	return gin.H{
		"token":     result.Token,
		"expiresAt": result.ExpiresAt.Format(time.RFC3339),
		"user": gin.H{
			"id":        result.User.ID,
			"username":  result.User.Username,
			"email":     result.User.Email,
			"createdAt": result.User.CreatedAt.Format(time.RFC3339),
			"updatedAt": result.User.UpdatedAt.Format(time.RFC3339),
		},
	}
}

func writeError(c *gin.Context, status int, message string, err error) {
	details := message
	if err != nil {
		details = err.Error()
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": details,
	})
}
