package llm

import (
	"context"
	"fmt"

	"github.com/KodaTao/chatweb/config"
	"github.com/KodaTao/chatweb/model"
)

// Backend 根据有序的历史消息生成回复 token 流
type Backend interface {
	Stream(ctx context.Context, history []model.Turn) (TokenStream, error)
}

// TokenStream 是一次性的、按需拉取的 token 序列
//
//	for s.Next() {
//		tok := s.Token()
//	}
//	if err := s.Err(); err != nil { ... }
type TokenStream interface {
	// Next 阻塞直到下一个 token 可用；序列结束或出错时返回 false
	Next() bool
	Token() string
	Err() error
	Close() error
}

// New 按 provider 构造后端
func New(cfg config.LLMConfig) (Backend, error) {
	switch cfg.Provider {
	case "echo", "":
		return NewEcho(), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "langchain":
		return NewLangChain(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// SliceStream 依次返回预先给定的 token，最后返回 err（可为 nil）
type SliceStream struct {
	tokens []string
	err    error
	pos    int
	cur    string
}

func NewSliceStream(tokens []string, err error) *SliceStream {
	return &SliceStream{tokens: tokens, err: err}
}

func (s *SliceStream) Next() bool {
	if s.pos >= len(s.tokens) {
		return false
	}
	s.cur = s.tokens[s.pos]
	s.pos++
	return true
}

func (s *SliceStream) Token() string { return s.cur }

func (s *SliceStream) Err() error {
	if s.pos < len(s.tokens) {
		return nil
	}
	return s.err
}

func (s *SliceStream) Close() error { return nil }
