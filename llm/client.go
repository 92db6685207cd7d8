package llm

import (
	"context"
	"fmt"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/errors"
	"github.com/m4xw311/tadpole/session"
)

// Client is a text chat model. Chat gets the whole history, the newest user
// message last, and returns the assistant reply.
type Client interface {
	Chat(ctx context.Context, messages []session.Message) (*session.Message, error)
}

// New returns the client named by cfg.LLMClient.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.LLMClient {
	case "", "mock":
		return &MockClient{}, nil
	case "anthropic":
		return NewAnthropicClient(ctx, modelOr(cfg.Model, "claude-sonnet-4-20250514"))
	case "openai":
		return NewOpenAIClient(ctx, modelOr(cfg.Model, "gpt-4o"))
	case "gemini":
		return NewGeminiClient(ctx, modelOr(cfg.Model, "gemini-1.5-flash"))
	case "bedrock":
		return NewBedrockClient(ctx, modelOr(cfg.Model, "anthropic.claude-3-5-sonnet-20240620-v1:0"))
	default:
		return nil, errors.New("unknown llm client %q", cfg.LLMClient)
	}
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

// MockClient parrots the last message back. It needs no credentials and is
// what the tests run against.
type MockClient struct{}

func (m *MockClient) Chat(ctx context.Context, messages []session.Message) (*session.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, errors.New("no messages to answer")
	}
	last := messages[len(messages)-1].Content
	return &session.Message{
		Role:    session.RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", last),
	}, nil
}
