package handler

import "sync"

// StreamGuard 保证同一会话同时只有一个回复在流式生成
type StreamGuard struct {
	mu     sync.Mutex
	active map[uint]struct{}
}

func NewStreamGuard() *StreamGuard {
	return &StreamGuard{
		active: make(map[uint]struct{}),
	}
}

// Acquire 占用会话；已被占用时返回 false
func (g *StreamGuard) Acquire(conversationID uint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[conversationID]; busy {
		return false
	}
	g.active[conversationID] = struct{}{}
	return true
}

// Release 释放会话
func (g *StreamGuard) Release(conversationID uint) {
	g.mu.Lock()
	delete(g.active, conversationID)
	g.mu.Unlock()
}

// Active 当前正在生成回复的会话数
func (g *StreamGuard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
