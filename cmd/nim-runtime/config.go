package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/becomeliminal/nim-runtime/core"
)

// config is the resolved runtime configuration.
type config struct {
	Addr      string
	LogLevel  string
	LogFormat string

	DataDir     string
	Compress    bool
	Collections []string

	Embedder       string
	EmbeddingModel string
	EmbeddingCache int64
	ONNXModel      string
	ONNXTokenizer  string
	ONNXLibrary    string

	Reasoner     string
	Model        string
	SystemPrompt string

	AnthropicKey  string
	OpenAIKey     string
	OpenAIBaseURL string

	StageTimeout   time.Duration
	RateLimit      int
	RateBurst      int
	EpisodicWrites bool
}

func loadConfig(v *viper.Viper) (*config, error) {
	cfg := &config{
		Addr:           v.GetString("addr"),
		LogLevel:       v.GetString("log-level"),
		LogFormat:      v.GetString("log-format"),
		DataDir:        v.GetString("data"),
		Compress:       v.GetBool("compress"),
		Collections:    splitList(v.GetStringSlice("collections")),
		Embedder:       strings.ToLower(v.GetString("embedder")),
		EmbeddingModel: v.GetString("embedding-model"),
		EmbeddingCache: v.GetInt64("embedding-cache"),
		ONNXModel:      v.GetString("onnx-model"),
		ONNXTokenizer:  v.GetString("onnx-tokenizer"),
		ONNXLibrary:    v.GetString("onnx-library"),
		Reasoner:       strings.ToLower(v.GetString("reasoner")),
		Model:          v.GetString("model"),
		SystemPrompt:   v.GetString("system-prompt"),
		AnthropicKey:   v.GetString("anthropic-api-key"),
		OpenAIKey:      v.GetString("openai-api-key"),
		OpenAIBaseURL:  v.GetString("openai-base-url"),
		StageTimeout:   v.GetDuration("stage-timeout"),
		RateLimit:      v.GetInt("rate-limit"),
		RateBurst:      v.GetInt("rate-burst"),
		EpisodicWrites: v.GetBool("episodic-writes"),
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = core.DefaultCollections
	}
	return cfg, cfg.validate()
}

func (c *config) validate() error {
	switch c.Embedder {
	case "mock", "onnx":
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("embedder openai requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown embedder %q (mock, openai, onnx)", c.Embedder)
	}

	switch c.Reasoner {
	case "echo":
	case "anthropic":
		if c.AnthropicKey == "" {
			return fmt.Errorf("reasoner anthropic requires ANTHROPIC_API_KEY")
		}
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("reasoner openai requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown reasoner %q (echo, anthropic, openai)", c.Reasoner)
	}

	if c.StageTimeout <= 0 {
		return fmt.Errorf("stage-timeout must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate-limit must not be negative")
	}
	return nil
}

// splitList accepts both repeated flags and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
