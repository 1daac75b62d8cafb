package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const maxChatFrame = 16 * 1024

type wsError struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// handleChatWebsocket answers each text frame as one chat turn. A frame
// without conversation_id continues the conversation most recently used on
// this socket.
func (h *Handler) handleChatWebsocket(c *gin.Context) {
	userID, err := h.optionalUser(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid token", err)
		return
	}

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("chat websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxChatFrame)

	ctx := c.Request.Context()
	current := ""

	sendError := func(message string, cause error) error {
		frame := wsError{Type: "error", Error: message}
		if cause != nil {
			frame.Details = cause.Error()
		}
		return conn.WriteJSON(frame)
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("chat websocket closed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			if err := sendError("only text frames are supported", nil); err != nil {
				return
			}
			continue
		}

		var req chatRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			if err := sendError("invalid payload", err); err != nil {
				return
			}
			continue
		}
		if strings.TrimSpace(req.ConversationID) == "" {
			req.ConversationID = current
		}

		turn, err := h.chat.ProcessMessage(ctx, req.Message, req.ConversationID, userID)
		if err != nil {
			_, message := dialogueErrorStatus(err)
			if err := sendError(message, err); err != nil {
				return
			}
			continue
		}
		current = turn.ConversationID
		if turn.Complete {
			current = ""
		}

		if err := conn.WriteJSON(newChatResponse(turn)); err != nil {
			h.logger.Warn("chat websocket write failed", zap.Error(err))
			return
		}
	}
}

