package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/session"
)

func TestNewSelectsClient(t *testing.T) {
	cfg := config.Default()
	client, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, client)

	cfg.LLMClient = "carrier-pigeon"
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	for _, name := range []string{"anthropic", "openai", "gemini"} {
		cfg := config.Default()
		cfg.LLMClient = name
		_, err := New(context.Background(), cfg)
		assert.ErrorContains(t, err, "environment variable not set", name)
	}
}

func TestMockClient(t *testing.T) {
	m := &MockClient{}
	reply, err := m.Chat(context.Background(), []session.Message{{Role: session.RoleUser, Content: "ping"}})
	require.NoError(t, err)
	assert.Equal(t, session.RoleAssistant, reply.Role)
	assert.Contains(t, reply.Content, "'ping'")

	_, err = m.Chat(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Chat(ctx, []session.Message{{Role: session.RoleUser, Content: "ping"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvertMessagesToOpenaiContent(t *testing.T) {
	got := convertMessagesToOpenaiContent([]session.Message{
		{Role: session.RoleSystem, Content: "s"},
		{Role: session.RoleUser, Content: "u"},
		{Role: session.RoleAssistant, Content: "a"},
	})
	require.Len(t, got, 3)
	assert.NotNil(t, got[0].OfSystem)
	assert.NotNil(t, got[1].OfUser)
	assert.NotNil(t, got[2].OfAssistant)
}

func TestConvertMessagesToGeminiContent(t *testing.T) {
	history, system := convertMessagesToGeminiContent([]session.Message{
		{Role: session.RoleSystem, Content: "s"},
		{Role: session.RoleUser, Content: "u"},
		{Role: session.RoleAssistant, Content: "a"},
	})
	require.NotNil(t, system)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
}

func TestConvertMessagesToAnthropicMessages(t *testing.T) {
	msgs, system := convertMessagesToAnthropicMessages([]session.Message{
		{Role: session.RoleSystem, Content: "s"},
		{Role: session.RoleUser, Content: "u"},
		{Role: session.RoleAssistant, Content: "a"},
	})
	assert.Equal(t, "s", system)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", string(msgs[1].Role))
}
