package llm

import (
	"context"
	"strings"

	"github.com/KodaTao/chatweb/model"
)

// Echo 开发用后端：把最后一条用户消息按词回显
type Echo struct{}

var _ Backend = (*Echo)(nil)

func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Stream(ctx context.Context, history []model.Turn) (TokenStream, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			last = strings.TrimSpace(history[i].Content)
			break
		}
	}
	if last == "" {
		return &ctxStream{ctx: ctx, inner: NewSliceStream(nil, nil)}, nil
	}

	words := strings.Fields(last)
	tokens := make([]string, 0, len(words)+1)
	tokens = append(tokens, "You said:")
	for _, w := range words {
		tokens = append(tokens, " "+w)
	}
	return &ctxStream{ctx: ctx, inner: NewSliceStream(tokens, nil)}, nil
}

// ctxStream 在上下文取消后停止产出
type ctxStream struct {
	ctx   context.Context
	inner TokenStream
	err   error
}

func (s *ctxStream) Next() bool {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	return s.inner.Next()
}

func (s *ctxStream) Token() string { return s.inner.Token() }

func (s *ctxStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.inner.Err()
}

func (s *ctxStream) Close() error { return s.inner.Close() }
