package llm

import (
	"context"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/KodaTao/chatweb/config"
	"github.com/KodaTao/chatweb/model"
)

// OpenAI 通过 OpenAI 兼容的 chat completions 接口流式生成
type OpenAI struct {
	client       openai.Client
	model        string
	systemPrompt string
}

var _ Backend = (*OpenAI)(nil)

func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	opts := []option.RequestOption{
		// 失败的流不重试，由客户端重新发起请求
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &OpenAI{
		client:       openai.NewClient(opts...),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}
}

func (o *OpenAI) Stream(ctx context.Context, history []model.Turn) (TokenStream, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: o.messages(history),
	})
	return &openAIStream{stream: stream}, nil
}

func (o *OpenAI) messages(history []model.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(o.systemPrompt))
	}
	for _, t := range history {
		if t.Role == model.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return msgs
}

// openAIStream 跳过只有 role 或 finish_reason 的空 chunk
type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cur    string
}

func (s *openAIStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		var delta string
		for _, choice := range chunk.Choices {
			delta += choice.Delta.Content
		}
		if delta != "" {
			s.cur = delta
			return true
		}
	}
	return false
}

func (s *openAIStream) Token() string { return s.cur }

func (s *openAIStream) Err() error { return s.stream.Err() }

func (s *openAIStream) Close() error { return s.stream.Close() }
