package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/mortgage-advisor/internal/dialogue"
	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type chatResponse struct {
	Response             string                   `json:"response"`
	ConversationID       string                   `json:"conversation_id"`
	ConversationComplete bool                     `json:"conversation_complete"`
	AssessmentResult     *models.AssessmentResult `json:"assessment_result,omitempty"`
}

func newChatResponse(turn *dialogue.Turn) chatResponse {
	return chatResponse{
		Response:             turn.Response,
		ConversationID:       turn.ConversationID,
		ConversationComplete: turn.Complete,
		AssessmentResult:     turn.Assessment,
	}
}

func (h *Handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(c, http.StatusBadRequest, "message cannot be empty", dialogue.ErrEmptyMessage)
		return
	}

	userID, err := h.optionalUser(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid token", err)
		return
	}

	turn, err := h.chat.ProcessMessage(c.Request.Context(), req.Message, req.ConversationID, userID)
	if err != nil {
		h.writeDialogueError(c, err)
		return
	}

	c.JSON(http.StatusOK, newChatResponse(turn))
}

func (h *Handler) handleReset(c *gin.Context) {
	userID, err := h.optionalUser(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid token", err)
		return
	}

	conv, err := h.chat.StartConversation(c.Request.Context(), userID)
	if err != nil {
		h.writeDialogueError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Conversation reset successfully",
		"conversation_id": conv.ID,
	})
}

func (h *Handler) handleHistory(c *gin.Context) {
	userID, err := h.optionalUser(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid token", err)
		return
	}

	history, err := h.chat.History(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeDialogueError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": c.Param("id"),
		"messages":        history,
	})
}

func (h *Handler) handleContinue(c *gin.Context) {
	userID, err := h.optionalUser(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid token", err)
		return
	}

	progress, err := h.chat.Continue(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.writeDialogueError(c, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

func (h *Handler) handleListConversations(c *gin.Context) {
	userID, err := h.optionalUser(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid token", err)
		return
	}
	if userID == "" {
		writeError(c, http.StatusUnauthorized, "authentication required", dialogue.ErrForbidden)
		return
	}

	conversations, err := h.chat.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.writeDialogueError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *Handler) writeDialogueError(c *gin.Context, err error) {
	status, message := dialogueErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("chat request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	writeError(c, status, message, err)
}

func dialogueErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, dialogue.ErrEmptyMessage):
		return http.StatusBadRequest, "message cannot be empty"
	case errors.Is(err, dialogue.ErrConversationNotFound):
		return http.StatusNotFound, "conversation not found"
	case errors.Is(err, dialogue.ErrForbidden):
		return http.StatusForbidden, "conversation belongs to another user"
	case errors.Is(err, dialogue.ErrConversationCompleted):
		return http.StatusConflict, "conversation already completed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
