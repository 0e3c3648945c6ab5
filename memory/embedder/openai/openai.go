// Package openai embeds text through the OpenAI embeddings API or any
// compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Config is the configuration for the OpenAI embedder.
type Config struct {
	// APIKey is required.
	APIKey string

	// Model defaults to text-embedding-3-small.
	Model string

	// BaseURL overrides the API address for compatible providers.
	BaseURL string

	// Dimensions defaults to 1536.
	Dimensions int
}

// Client is an OpenAI embedder.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// NewClient creates a new OpenAI embedder.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("openai embedder: APIKey is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Name identifies the embedder in recall reports.
func (c *Client) Name() string {
	return "OpenAIEmbedder"
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding generation failed: no data returned from OpenAI API")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}
