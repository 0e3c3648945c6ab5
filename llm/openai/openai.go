// Package openai implements llm.Reasoner with the OpenAI chat completions
// API (or any compatible endpoint).
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/llm"
)

// Config is the configuration for the OpenAI reasoner.
type Config struct {
	APIKey       string
	Model        string // defaults to gpt-4o-mini
	BaseURL      string
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

// Reasoner is an OpenAI backed llm.Reasoner.
type Reasoner struct {
	client *openai.Client
	cfg    Config
}

var _ llm.Reasoner = (*Reasoner)(nil)

// New creates an OpenAI reasoner.
func New(cfg Config) (*Reasoner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Reasoner{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}, nil
}

// Reason sends the history, recalled memories and message to the model.
func (r *Reasoner) Reason(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: llm.SystemPrompt(r.cfg.SystemPrompt, req),
	})
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == core.RoleAI {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Message})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Text,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		Messages:    messages,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat completion: no choices returned")
	}

	return &llm.Result{
		Output: resp.Choices[0].Message.Content,
		Steps: []core.Step{{
			Action:      "chat_completion",
			Input:       r.cfg.Model,
			Observation: string(resp.Choices[0].FinishReason),
		}},
	}, nil
}
