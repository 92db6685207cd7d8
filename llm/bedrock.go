package llm

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/m4xw311/tadpole/errors"
	"github.com/m4xw311/tadpole/session"
)

// BedrockClient talks to Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient creates a new BedrockClient from the default AWS
// credential chain.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// Chat sends a chat request to the model via AWS Bedrock.
func (b *BedrockClient) Chat(ctx context.Context, messages []session.Message) (*session.Message, error) {
	body, err := createAnthropicRequest(messages)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

type bedrockContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []bedrockContent `json:"content"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// convertMessagesToAnthropicFormat converts the history to the Anthropic
// messages format Bedrock expects, returning the system prompt separately.
func convertMessagesToAnthropicFormat(messages []session.Message) ([]bedrockMessage, string) {
	var out []bedrockMessage
	var system string
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			system = msg.Content
		case session.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			out = append(out, bedrockMessage{Role: "assistant", Content: []bedrockContent{{Type: "text", Text: msg.Content}}})
		default:
			out = append(out, bedrockMessage{Role: "user", Content: []bedrockContent{{Type: "text", Text: msg.Content}}})
		}
	}
	return out, system
}

func createAnthropicRequest(messages []session.Message) ([]byte, error) {
	converted, system := convertMessagesToAnthropicFormat(messages)
	return json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		System:           system,
		Messages:         converted,
	})
}

func processBedrockResponse(body []byte) (*session.Message, error) {
	var resp bedrockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if resp.Error != nil {
		return nil, errors.New("Bedrock API error: %s", resp.Error.Message)
	}
	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return &session.Message{Role: session.RoleAssistant, Content: text}, nil
}
