package extract

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ErrNoChoices is returned when the service answers without a completion.
var ErrNoChoices = errors.New("completion returned no choices")

// OpenAICompleter calls the OpenAI chat completions API.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

var _ Completer = (*OpenAICompleter)(nil)

// NewOpenAICompleter creates a completer. Extra request options (base URL,
// HTTP client, retries) are passed through to the SDK.
func NewOpenAICompleter(apiKey, model string, opts ...option.RequestOption) *OpenAICompleter {
	if model == "" {
		model = DefaultModel
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAICompleter{
		client: openai.NewClient(all...),
		model:  model,
	}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(model),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	return &CompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		Duration: time.Since(start),
	}, nil
}
