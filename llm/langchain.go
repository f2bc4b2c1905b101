package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/KodaTao/chatweb/config"
	"github.com/KodaTao/chatweb/model"
)

// LangChain 使用 langchaingo 模型，把回调式的流式输出转换为按需拉取
type LangChain struct {
	model        llms.Model
	systemPrompt string
}

var _ Backend = (*LangChain)(nil)

func NewLangChain(cfg config.LLMConfig) (*LangChain, error) {
	token := cfg.APIKey
	if token == "" {
		// 本地 ollama 等兼容服务不校验 key，但 langchaingo 要求非空
		token = "unused"
	}
	opts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}

	m, err := lcopenai.New(opts...)
	if err != nil {
		return nil, err
	}
	return NewLangChainWithModel(m, cfg.SystemPrompt), nil
}

func NewLangChainWithModel(m llms.Model, systemPrompt string) *LangChain {
	return &LangChain{model: m, systemPrompt: systemPrompt}
}

func (l *LangChain) Stream(ctx context.Context, history []model.Turn) (TokenStream, error) {
	msgs := make([]llms.MessageContent, 0, len(history)+1)
	if l.systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, l.systemPrompt))
	}
	for _, t := range history {
		typ := llms.ChatMessageTypeHuman
		if t.Role == model.RoleAssistant {
			typ = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(typ, t.Content))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{tokens: make(chan string), cancel: cancel}

	go func() {
		var err error
		defer func() {
			s.err = err
			close(s.tokens)
		}()

		_, err = l.model.GenerateContent(ctx, msgs, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			select {
			case s.tokens <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))
	}()

	return s, nil
}

// chanStream 从生产者 goroutine 接收 token；Err 在 Next 返回 false 后才有意义
type chanStream struct {
	tokens chan string
	cancel context.CancelFunc
	cur    string
	done   bool
	err    error
}

func (s *chanStream) Next() bool {
	if s.done {
		return false
	}
	tok, ok := <-s.tokens
	if !ok {
		s.done = true
		return false
	}
	s.cur = tok
	return true
}

func (s *chanStream) Token() string { return s.cur }

func (s *chanStream) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}

// Close 取消生成并等待生产者退出
func (s *chanStream) Close() error {
	s.cancel()
	for !s.done {
		if _, ok := <-s.tokens; !ok {
			s.done = true
		}
	}
	return nil
}
