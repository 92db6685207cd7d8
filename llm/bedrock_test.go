package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/tadpole/session"
)

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleSystem, Content: "be brief"},
		{Role: session.RoleUser, Content: "Hello, world!"},
		{Role: session.RoleAssistant, Content: ""},
		{Role: session.RoleAssistant, Content: "Hello! How can I help you?"},
	}

	result, system := convertMessagesToAnthropicFormat(messages)
	assert.Equal(t, "be brief", system)
	require.Len(t, result, 2)
	assert.Equal(t, "user", result[0].Role)
	assert.Equal(t, "assistant", result[1].Role)
	assert.Equal(t, "Hello! How can I help you?", result[1].Content[0].Text)
}

func TestCreateAnthropicRequest(t *testing.T) {
	body, err := createAnthropicRequest([]session.Message{{Role: session.RoleUser, Content: "Hello!"}})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "bedrock-2023-05-31", got["anthropic_version"])
	assert.NotContains(t, got, "system")
	assert.Len(t, got["messages"], 1)
}

func TestProcessBedrockResponse(t *testing.T) {
	msg, err := processBedrockResponse([]byte(`{"content":[{"type":"text","text":"a"},{"type":"tool_use"},{"type":"text","text":"b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "ab", msg.Content)
	assert.Equal(t, session.RoleAssistant, msg.Role)

	_, err = processBedrockResponse([]byte(`{"error":{"message":"throttled"}}`))
	assert.ErrorContains(t, err, "throttled")

	_, err = processBedrockResponse([]byte(`not json`))
	assert.Error(t, err)
}
