package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/chatweb/chat"
	"github.com/KodaTao/chatweb/model"
)

// SSE 错误事件中的错误类别
const (
	kindBackend = "BackendError"
	kindStorage = "StorageError"
)

// streamError 带类别的流式错误，写入 error 事件时格式为 "<kind>: <message>"
type streamError struct {
	kind string
	err  error
}

func (e *streamError) Error() string { return e.kind + ": " + e.err.Error() }

func (e *streamError) Unwrap() error { return e.err }

// Stream 以 SSE 推送助手回复；只有完整生成成功后才保存助手消息
func (h *ChatHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	msgID, err := strconv.ParseUint(c.Query("message_id"), 10, 64)
	if err != nil {
		h.fail(c, chat.ErrNotFound)
		return
	}
	if _, err := h.Store.UserMessage(ctx, conv, uint(msgID)); err != nil {
		h.fail(c, err)
		return
	}

	if !h.Guard.Acquire(conv.ID) {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": "A reply is already streaming."})
		return
	}
	defer h.Guard.Release(conv.ID)

	msgs, err := h.Store.ConversationMessages(ctx, conv)
	if err != nil {
		h.fail(c, err)
		return
	}
	history := chat.AsHistory(msgs)

	setSSEHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	sw, ok := newSSEWriter(c.Writer)
	if !ok {
		h.Log.Error("streaming unsupported by response writer")
		return
	}

	log := h.Log.With(zap.Uint("conversation_id", conv.ID), zap.Uint("message_id", uint(msgID)))
	log.Info("stream started", zap.Int("history", len(history)))

	reply, tokens, err := h.relay(ctx, sw, history)
	if err != nil {
		log.Warn("stream failed", zap.Error(err), zap.Int("tokens", tokens))
		h.writeError(sw, err, log)
		return
	}

	// 生成已完整结束，即使客户端此刻断开也要保存
	saved, err := h.Store.AddAssistantMessage(context.WithoutCancel(ctx), conv, reply)
	if err != nil {
		log.Error("persist assistant message failed", zap.Error(err))
		h.writeError(sw, &streamError{kind: kindStorage, err: errors.New("could not save reply")}, log)
		return
	}

	if err := sw.Event("done", "end"); err != nil {
		log.Debug("client gone before done event", zap.Error(err))
	}
	log.Info("stream completed", zap.Int("tokens", tokens), zap.Uint("assistant_message_id", saved.ID))
}

// relay 逐个拉取 token 并立即转发，返回拼接后的完整回复和 token 数
func (h *ChatHandler) relay(ctx context.Context, sw *sseWriter, history []model.Turn) (string, int, error) {
	stream, err := h.Backend.Stream(ctx, history)
	if err != nil {
		return "", 0, &streamError{kind: kindBackend, err: err}
	}
	defer stream.Close()

	var reply strings.Builder
	tokens := 0
	for stream.Next() {
		tok := stream.Token()
		// 保存的内容与客户端收到的换行保持一致
		reply.WriteString(newlines.Replace(tok))
		tokens++
		if err := sw.Data(tok); err != nil {
			return "", tokens, fmt.Errorf("write token: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return "", tokens, &streamError{kind: kindBackend, err: err}
	}
	// 客户端已断开：不保存部分或完整的回复
	if err := ctx.Err(); err != nil {
		return "", tokens, fmt.Errorf("client disconnected: %w", err)
	}
	return reply.String(), tokens, nil
}

func (h *ChatHandler) writeError(sw *sseWriter, err error, log *zap.Logger) {
	var se *streamError
	if !errors.As(err, &se) {
		se = &streamError{kind: kindBackend, err: err}
	}
	if werr := sw.Event("error", se.Error()); werr != nil {
		log.Debug("client gone before error event", zap.Error(werr))
	}
}
