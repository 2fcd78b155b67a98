package handler

import (
	"errors"
	"net/http"

	"chatfront/internal/service"
	"chatfront/pkg/log"

	"github.com/gin-gonic/gin"
)

// UIHandler 渲染聊天页面并把表单动作转交给 ChatSession。
type UIHandler struct {
	session         *service.ChatSession
	defaultEndpoint string
}

// NewUIHandler 创建一个新的 UIHandler。defaultEndpoint 仅用作设置框的占位提示。
func NewUIHandler(session *service.ChatSession, defaultEndpoint string) *UIHandler {
	return &UIHandler{session: session, defaultEndpoint: defaultEndpoint}
}

func backToIndex(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/")
}

// Index 根据当前会话快照渲染页面，并取走待展示的提示。
func (h *UIHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"State":           h.session.Snapshot(),
		"Notices":         h.session.DrainNotices(),
		"DefaultEndpoint": h.defaultEndpoint,
	})
}

// NewChat 回到新会话状态。
func (h *UIHandler) NewChat(c *gin.Context) {
	h.session.StartNewChat()
	backToIndex(c)
}

// SelectConversation 切换当前会话。
func (h *UIHandler) SelectConversation(c *gin.Context) {
	h.session.SelectConversation(c.Request.Context(), c.Param("id"))
	backToIndex(c)
}

// Send 登记乐观消息后立即返回，页面在加载期间轮询 /api/session 直到回复到达。
func (h *UIHandler) Send(c *gin.Context) {
	err := h.session.SendMessageAsync(c.PostForm("content"))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrSendInProgress):
		log.Infof("Send: ignored, %v", err)
	default:
		log.Errorf("Send: failed to start, error: %v", err)
	}
	backToIndex(c)
}

// DeleteConversation 只有在表单携带 confirm=true 时才删除。
func (h *UIHandler) DeleteConversation(c *gin.Context) {
	h.session.DeleteConversation(c.Request.Context(), c.Param("id"), c.PostForm("confirm") == "true")
	backToIndex(c)
}

// RenameConversation 修改会话标题。
func (h *UIHandler) RenameConversation(c *gin.Context) {
	h.session.RenameConversation(c.Request.Context(), c.Param("id"), c.PostForm("title"))
	backToIndex(c)
}

// SaveSettings 保存端点偏好，空值会以提示的形式拒绝。
func (h *UIHandler) SaveSettings(c *gin.Context) {
	_ = h.session.SaveSettings(c.Request.Context(), c.PostForm("endpoint"))
	backToIndex(c)
}

// Session 以 JSON 返回当前状态快照，不会取走提示。
func (h *UIHandler) Session(c *gin.Context) {
	respond(c, http.StatusOK, "success", h.session.Snapshot())
}
