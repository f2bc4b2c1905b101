package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/chatweb/auth"
	"github.com/KodaTao/chatweb/chat"
	"github.com/KodaTao/chatweb/llm"
	"github.com/KodaTao/chatweb/model"
)

// ChatHandler 处理会话页面、发送消息和流式回复
type ChatHandler struct {
	Store   *chat.Store
	Backend llm.Backend
	Guard   *StreamGuard
	Log     *zap.Logger
}

func NewChatHandler(store *chat.Store, backend llm.Backend, log *zap.Logger) *ChatHandler {
	return &ChatHandler{
		Store:   store,
		Backend: backend,
		Guard:   NewStreamGuard(),
		Log:     log,
	}
}

func conversationURL(id uint) string {
	return fmt.Sprintf("/chat/%d", id)
}

func streamURL(convID, msgID uint) string {
	return fmt.Sprintf("/chat/%d/stream?message_id=%d", convID, msgID)
}

// Index 跳转到最近的会话，没有则新建一个
func (h *ChatHandler) Index(c *gin.Context) {
	ctx := c.Request.Context()
	p := auth.PrincipalFrom(c)

	conv, err := h.Store.MostRecentConversation(ctx, p)
	if errors.Is(err, chat.ErrNotFound) {
		conv, err = h.Store.CreateConversationFor(ctx, p)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, conversationURL(conv.ID))
}

// Detail 渲染会话和消息列表
func (h *ChatHandler) Detail(c *gin.Context) {
	ctx := c.Request.Context()
	p := auth.PrincipalFrom(c)

	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	msgs, err := h.Store.ConversationMessages(ctx, conv)
	if err != nil {
		h.fail(c, err)
		return
	}
	convs, err := h.Store.UserConversations(ctx, p)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.HTML(http.StatusOK, "conversation.html", gin.H{
		"Title":         conv.DisplayTitle(),
		"Username":      p.Username,
		"Conversation":  conv,
		"Messages":      msgs,
		"Conversations": convs,
	})
}

// New 新建空会话并跳转
func (h *ChatHandler) New(c *gin.Context) {
	conv, err := h.Store.CreateConversationFor(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, conversationURL(conv.ID))
}

// Send 保存用户消息，返回客户端用于拉取回复的 stream_url
func (h *ChatHandler) Send(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}

	text := strings.TrimSpace(c.PostForm("text"))
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": chat.ErrEmptyMessage.Error()})
		return
	}

	msg, err := h.Store.AddUserMessage(c.Request.Context(), conv, text)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.Log.Debug("user message stored",
		zap.Uint("conversation_id", conv.ID),
		zap.Uint("message_id", msg.ID))
	c.JSON(http.StatusOK, gin.H{"ok": true, "stream_url": streamURL(conv.ID, msg.ID)})
}

// conversation 解析路径中的会话 ID 并检查归属；失败时已写入 404
func (h *ChatHandler) conversation(c *gin.Context) (*model.Conversation, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, chat.ErrNotFound)
		return nil, false
	}
	conv, err := h.Store.ConversationFor(c.Request.Context(), auth.PrincipalFrom(c), uint(id))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return conv, true
}

// fail 把领域错误映射为 HTTP 响应
func (h *ChatHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		if wantsJSON(c) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"ok": false, "error": "Not found."})
		} else {
			c.String(http.StatusNotFound, "Not found.")
			c.Abort()
		}
	case errors.Is(err, chat.ErrAnonymous):
		c.Redirect(http.StatusFound, auth.LoginPath)
		c.Abort()
	default:
		h.Log.Error("chat request failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
		_ = c.Error(err)
		if wantsJSON(c) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Internal server error."})
		} else {
			c.String(http.StatusInternalServerError, "Internal server error.")
			c.Abort()
		}
	}
}

// wantsJSON 发送和流式接口返回 JSON 错误，页面返回纯文本
func wantsJSON(c *gin.Context) bool {
	switch c.FullPath() {
	case "/chat/:id/send", "/chat/:id/stream":
		return true
	}
	return false
}
