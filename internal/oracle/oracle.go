// Package oracle wraps the external natural-language completion capability
// the orchestration engine consumes. Callers own their fallback values:
// a transport failure or malformed structured output surfaces as an error
// and must never abort the surrounding workflow.
package oracle

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Oracle maps a prompt to free text or to structured fields.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteStructured parses the completion as JSON into out, rejecting
	// payloads that do not conform.
	CompleteStructured(ctx context.Context, prompt string, out any) error
}

// Config configures the chat-model-backed oracle.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatOracle implements Oracle over an eino chat model.
type ChatOracle struct {
	model model.BaseChatModel
}

// NewChatOracle creates an oracle backed by an OpenAI-compatible endpoint.
func NewChatOracle(ctx context.Context, config Config) (*ChatOracle, error) {
	maxTokens := config.MaxTokens
	temperature := float32(config.Temperature)

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      config.APIKey,
		BaseURL:     config.BaseURL,
		Model:       config.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}

	return &ChatOracle{model: chatModel}, nil
}

// NewFromModel wraps an existing chat model, mainly for tests.
func NewFromModel(m model.BaseChatModel) *ChatOracle {
	return &ChatOracle{model: m}
}

func (o *ChatOracle) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := o.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return out.Content, nil
}

func (o *ChatOracle) CompleteStructured(ctx context.Context, prompt string, out any) error {
	text, err := o.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	if err := UnmarshalLoose(text, out); err != nil {
		return fmt.Errorf("structured completion did not parse: %w", err)
	}
	return nil
}
