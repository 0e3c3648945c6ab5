// Package anthropic implements llm.Reasoner with the Claude Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/llm"
)

// Defaults for the Claude reasoner.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Config configures the Claude reasoner.
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// Reasoner is a Claude backed llm.Reasoner.
type Reasoner struct {
	client anthropic.Client
	cfg    Config
}

var _ llm.Reasoner = (*Reasoner)(nil)

// New creates a Claude reasoner.
func New(cfg Config) (*Reasoner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Reasoner{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:    cfg,
	}, nil
}

// Reason sends the history, recalled memories and message to Claude.
func (r *Reasoner) Reason(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		block := anthropic.NewTextBlock(turn.Message)
		if turn.Role == core.RoleAI {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)))

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Model),
		MaxTokens: r.cfg.MaxTokens,
		Messages:  messages,
		System: []anthropic.TextBlockParam{
			{Text: llm.SystemPrompt(r.cfg.SystemPrompt, req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Result{
		Output: text.String(),
		Steps: []core.Step{{
			Action:      "messages",
			Input:       r.cfg.Model,
			Observation: fmt.Sprintf("stop=%s input_tokens=%d output_tokens=%d", resp.StopReason, resp.Usage.InputTokens, resp.Usage.OutputTokens),
		}},
	}, nil
}
