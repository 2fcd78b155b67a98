package handler

import (
	"net/http"
	"strings"

	"chatfront/internal/model"
	"chatfront/internal/service"
	"chatfront/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与会话相关的 JSON API 请求。
// 写操作完成后同步 session，页面看到的状态与存储保持一致。
type ConversationHandler struct {
	service service.ConversationService
	session *service.ChatSession
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService, session *service.ChatSession) *ConversationHandler {
	return &ConversationHandler{service: service, session: session}
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// ListConversations 返回按最近更新倒序排列的会话列表。
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	respond(c, http.StatusOK, "success", h.service.ListConversations(c.Request.Context()))
}

// ListMessages 返回指定会话的消息，按时间正序。
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	respond(c, http.StatusOK, "success", h.service.ListMessages(c.Request.Context(), c.Param("id")))
}

// CreateConversationRequest 定义了创建会话的请求体。
type CreateConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateConversation 新建一个会话。
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		log.Warnf("CreateConversation: Invalid request payload, error: %v", err)
		respond(c, http.StatusBadRequest, "title is required", nil)
		return
	}

	conversation := h.service.CreateConversation(c.Request.Context(), req.Title)
	if conversation == nil {
		respond(c, http.StatusInternalServerError, "Failed to create conversation", nil)
		return
	}
	h.session.Refresh(c.Request.Context(), "")
	respond(c, http.StatusCreated, "success", conversation)
}

// AppendMessageRequest 定义了追加消息的请求体。
type AppendMessageRequest struct {
	Role    model.Role `json:"role" binding:"required"`
	Content string     `json:"content" binding:"required"`
}

// AppendMessage 向会话追加一条消息并刷新会话的更新时间。
func (h *ConversationHandler) AppendMessage(c *gin.Context) {
	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
		log.Warnf("AppendMessage: Invalid request payload, error: %v", err)
		respond(c, http.StatusBadRequest, "role must be user or assistant and content is required", nil)
		return
	}

	message := h.service.AppendMessage(c.Request.Context(), c.Param("id"), req.Role, req.Content)
	if message == nil {
		respond(c, http.StatusInternalServerError, "Failed to save message", nil)
		return
	}
	h.session.Refresh(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusCreated, "success", message)
}

// RenameConversationRequest 定义了修改标题的请求体。
type RenameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

// RenameConversation 修改会话标题。
func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	var req RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		respond(c, http.StatusBadRequest, "title is required", nil)
		return
	}

	if !h.service.RenameConversation(c.Request.Context(), c.Param("id"), req.Title) {
		respond(c, http.StatusNotFound, "Failed to rename conversation", nil)
		return
	}
	h.session.Refresh(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, "success", nil)
}

// DeleteConversation 删除会话及其全部消息。
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	if !h.session.RemoveConversation(c.Request.Context(), c.Param("id")) {
		respond(c, http.StatusNotFound, "Failed to delete", nil)
		return
	}
	respond(c, http.StatusOK, "Conversation deleted", nil)
}
