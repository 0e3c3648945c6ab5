package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-runtime/core"
)

func baseViper() *viper.Viper {
	v := viper.New()
	v.Set("embedder", "mock")
	v.Set("reasoner", "echo")
	v.Set("stage-timeout", time.Second)
	return v
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(baseViper())
	require.NoError(t, err)
	assert.Equal(t, core.DefaultCollections, cfg.Collections)
	assert.Equal(t, time.Second, cfg.StageTimeout)
}

func TestLoadConfig_Collections(t *testing.T) {
	v := baseViper()
	v.Set("collections", []string{"episodic, facts", "", "tools"})
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"episodic", "facts", "tools"}, cfg.Collections)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
	}{
		{"unknown embedder", map[string]any{"embedder": "word2vec"}},
		{"openai embedder without key", map[string]any{"embedder": "openai"}},
		{"unknown reasoner", map[string]any{"reasoner": "gpt"}},
		{"anthropic without key", map[string]any{"reasoner": "anthropic"}},
		{"openai reasoner without key", map[string]any{"reasoner": "openai"}},
		{"zero stage timeout", map[string]any{"stage-timeout": time.Duration(0)}},
		{"negative rate limit", map[string]any{"rate-limit": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := baseViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := loadConfig(v)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_ProviderKeys(t *testing.T) {
	v := baseViper()
	v.Set("reasoner", "ANTHROPIC")
	v.Set("anthropic-api-key", "sk-test")
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Reasoner)
}

func TestBuild_InMemory(t *testing.T) {
	cfg, err := loadConfig(baseViper())
	require.NoError(t, err)
	cfg.EmbeddingCache = 100
	cfg.RateLimit = 60

	rt, err := build(cfg)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, core.DefaultCollections, rt.engine.Vectors().Collections())
	assert.NotNil(t, rt.server.Handler())
}

func TestBuild_ONNXUnavailable(t *testing.T) {
	cfg, err := loadConfig(baseViper())
	require.NoError(t, err)
	cfg.Embedder = "onnx"
	cfg.ONNXModel = ""

	_, err = build(cfg)
	assert.Error(t, err)
}
