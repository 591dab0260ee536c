package handler

import (
	"errors"
	"io"
	"net/http"

	"directchat/internal/service"
	apperrors "directchat/pkg/errors"
	"directchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	messageService service.MessageService
	log            logger.Logger
}

func NewMessageHandler(messageService service.MessageService, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		log:            log,
	}
}

type EditMessageRequest struct {
	Text string `json:"text"`
}

// Contacts lists every other user for the sidebar, with unread counts.
func (h *MessageHandler) Contacts(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	contacts, err := h.messageService.Contacts(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, contacts)
}

func (h *MessageHandler) Online(c *gin.Context) {
	online, err := h.messageService.Online(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, online)
}

func (h *MessageHandler) Conversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	counterpartID, ok := pathID(c, "id")
	if !ok {
		return
	}

	messages, err := h.messageService.Conversation(c.Request.Context(), userID, counterpartID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	receiverID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req service.SendMessageInput
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Warn("Invalid send request", "error", err)
		_ = c.Error(apperrors.NewValidationError("body", err.Error()))
		return
	}

	message, err := h.messageService.Send(c.Request.Context(), userID, receiverID, req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}

	message, err := h.messageService.MarkRead(c.Request.Context(), messageID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Edit(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(apperrors.NewValidationError("body", err.Error()))
		return
	}

	message, err := h.messageService.Edit(c.Request.Context(), messageID, userID, service.EditMessageInput{Text: req.Text})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, message)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}

	if err := h.messageService.Delete(c.Request.Context(), messageID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Message deleted successfully",
		"id":      messageID,
	})
}

func (h *MessageHandler) Forward(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "messageId")
	if !ok {
		return
	}
	receiverID, ok := pathID(c, "id")
	if !ok {
		return
	}

	message, err := h.messageService.Forward(c.Request.Context(), messageID, userID, receiverID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, message)
}
