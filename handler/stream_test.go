package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/KodaTao/chatweb/llm"
	"github.com/KodaTao/chatweb/model"
)

// send 保存一条用户消息，返回对应的 stream_url
func (e *testEnv) send(t *testing.T, conv *model.Conversation, text string) string {
	t.Helper()
	msg, err := e.store.AddUserMessage(context.Background(), conv, text)
	require.NoError(t, err)
	return streamURL(conv.ID, msg.ID)
}

func TestStreamPersistsReplyOnSuccess(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "Hello")
	env.backend.tokens = []string{"Hi", " there", "!"}

	w := env.request(t, http.MethodGet, target, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "data: Hi\n\ndata:  there\n\ndata: !\n\nevent: done\ndata: end\n\n", w.Body.String())

	replies := env.messages(t, conv.ID, model.RoleAssistant)
	require.Len(t, replies, 1)
	assert.Equal(t, "Hi there!", replies[0].Content)

	assert.Equal(t, []model.Turn{{Role: model.RoleUser, Content: "Hello"}}, env.backend.history)
	assert.Equal(t, 0, env.guard.Active())
}

func TestStreamSendsFullHistory(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	ctx := context.Background()

	_, err := env.store.AddUserMessage(ctx, conv, "one")
	require.NoError(t, err)
	_, err = env.store.AddAssistantMessage(ctx, conv, "two")
	require.NoError(t, err)
	target := env.send(t, conv, "three")
	env.backend.tokens = []string{"four"}

	w := env.request(t, http.MethodGet, target, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []model.Turn{
		{Role: model.RoleUser, Content: "one"},
		{Role: model.RoleAssistant, Content: "two"},
		{Role: model.RoleUser, Content: "three"},
	}, env.backend.history)
}

func TestStreamBackendFailureDiscardsReply(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "Hello")
	env.backend.tokens = []string{"Par", "tial"}
	env.backend.err = errors.New("upstream closed")

	w := env.request(t, http.MethodGet, target, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data: Par\n\ndata: tial\n\nevent: error\ndata: BackendError: upstream closed\n\n", w.Body.String())
	assert.Empty(t, env.messages(t, conv.ID, model.RoleAssistant))
	assert.Equal(t, 0, env.guard.Active())
}

func TestStreamBackendStartFailure(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "Hello")
	env.backend.startErr = errors.New("connection refused")

	w := env.request(t, http.MethodGet, target, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "event: error\ndata: BackendError: connection refused\n\n", w.Body.String())
	assert.Empty(t, env.messages(t, conv.ID, model.RoleAssistant))
}

func TestStreamMultilineToken(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "code please")
	env.backend.tokens = []string{"line1\nline2"}

	w := env.request(t, http.MethodGet, target, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data: line1\ndata: line2\n\nevent: done\ndata: end\n\n", w.Body.String())

	replies := env.messages(t, conv.ID, model.RoleAssistant)
	require.Len(t, replies, 1)
	assert.Equal(t, "line1\nline2", replies[0].Content)
}

func TestStreamCarriageReturnsMatchStoredReply(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "windows text")
	env.backend.tokens = []string{"a\r\nb", "\rc"}

	w := env.request(t, http.MethodGet, target, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data: a\ndata: b\n\ndata: \ndata: c\n\nevent: done\ndata: end\n\n", w.Body.String())

	replies := env.messages(t, conv.ID, model.RoleAssistant)
	require.Len(t, replies, 1)
	assert.Equal(t, "a\nb\nc", replies[0].Content)
}

// failCreate 让助手消息写入失败
func failCreate(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_create", func(tx *gorm.DB) {
		if msg, ok := tx.Statement.Dest.(*model.Message); ok && msg.Role == model.RoleAssistant {
			tx.AddError(errors.New("disk full"))
		}
	}))
	t.Cleanup(func() { _ = db.Callback().Create().Remove("test:fail_create") })
}

func TestStreamStorageFailureSendsError(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "Hello")
	env.backend.tokens = []string{"Hi", "!"}
	failCreate(t, env.db)

	w := env.request(t, http.MethodGet, target, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data: Hi\n\ndata: !\n\nevent: error\ndata: StorageError: could not save reply\n\n", w.Body.String())
	assert.NotContains(t, w.Body.String(), "event: done")
	assert.Empty(t, env.messages(t, conv.ID, model.RoleAssistant))
	assert.Equal(t, 0, env.guard.Active())
}

// cancelStream 产出全部 token 后取消请求上下文，模拟客户端断开
type cancelStream struct {
	*llm.SliceStream
	cancel context.CancelFunc
}

func (s *cancelStream) Next() bool {
	if s.SliceStream.Next() {
		return true
	}
	s.cancel()
	return false
}

func TestStreamClientDisconnectDiscardsReply(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "Hello")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.backend.stream = func(context.Context) llm.TokenStream {
		return &cancelStream{SliceStream: llm.NewSliceStream([]string{"Hi"}, nil), cancel: cancel}
	}

	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	req.AddCookie(env.cookie(t, alice))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.NotContains(t, w.Body.String(), "event: done")
	assert.Empty(t, env.messages(t, conv.ID, model.RoleAssistant))
	assert.Equal(t, 0, env.guard.Active())
}

func TestStreamNotFound(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	aliceConv := env.conversation(t, alice)
	otherConv := env.conversation(t, alice)
	bobConv := env.conversation(t, bob)

	bobMsg, err := env.store.AddUserMessage(context.Background(), bobConv, "secret")
	require.NoError(t, err)
	otherMsg, err := env.store.AddUserMessage(context.Background(), otherConv, "elsewhere")
	require.NoError(t, err)
	reply, err := env.store.AddAssistantMessage(context.Background(), aliceConv, "not a prompt")
	require.NoError(t, err)

	targets := []string{
		streamURL(bobConv.ID, bobMsg.ID),
		streamURL(aliceConv.ID, otherMsg.ID),
		streamURL(aliceConv.ID, reply.ID),
		streamURL(aliceConv.ID, 9999),
		fmt.Sprintf("/chat/%d/stream", aliceConv.ID),
		fmt.Sprintf("/chat/%d/stream?message_id=abc", aliceConv.ID),
	}
	for _, target := range targets {
		w := env.request(t, http.MethodGet, target, alice, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.Equal(t, map[string]any{"ok": false, "error": "Not found."}, decodeJSON(t, w), target)
	}
	assert.Equal(t, 0, env.backend.calls)
}

func TestStreamRejectsConcurrentReply(t *testing.T) {
	env := setupTest(t)
	alice := env.user(t, "alice")
	conv := env.conversation(t, alice)
	target := env.send(t, conv, "Hello")

	require.True(t, env.guard.Acquire(conv.ID))
	w := env.request(t, http.MethodGet, target, alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "A reply is already streaming."}, decodeJSON(t, w))
	assert.Equal(t, 0, env.backend.calls)

	env.guard.Release(conv.ID)
	env.backend.tokens = []string{"ok"}
	w = env.request(t, http.MethodGet, target, alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env.messages(t, conv.ID, model.RoleAssistant), 1)
}

func TestStreamGuard(t *testing.T) {
	g := NewStreamGuard()
	assert.True(t, g.Acquire(1))
	assert.False(t, g.Acquire(1))
	assert.True(t, g.Acquire(2))
	assert.Equal(t, 2, g.Active())

	g.Release(1)
	assert.True(t, g.Acquire(1))
	g.Release(1)
	g.Release(2)
	assert.Equal(t, 0, g.Active())
}

func TestStreamGuardConcurrent(t *testing.T) {
	g := NewStreamGuard()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire(7) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSSEWriterEvent(t *testing.T) {
	cases := []struct {
		name  string
		event string
		data  string
		want  string
	}{
		{"plain", "", "Hi", "data: Hi\n\n"},
		{"leading space", "", " there", "data:  there\n\n"},
		{"empty", "", "", "data: \n\n"},
		{"multiline", "", "a\nb", "data: a\ndata: b\n\n"},
		{"crlf", "", "a\r\nb\rc", "data: a\ndata: b\ndata: c\n\n"},
		{"named", "done", "end", "event: done\ndata: end\n\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sw, ok := newSSEWriter(rec)
			require.True(t, ok)
			require.NoError(t, sw.Event(tc.event, tc.data))
			assert.Equal(t, tc.want, rec.Body.String())
			assert.True(t, rec.Flushed)
		})
	}
}

func TestSSEHeaders(t *testing.T) {
	h := http.Header{}
	setSSEHeaders(h)
	assert.Equal(t, "text/event-stream", h.Get("Content-Type"))
	assert.Equal(t, "no-cache", h.Get("Cache-Control"))
	assert.Equal(t, "no", h.Get("X-Accel-Buffering"))
}
