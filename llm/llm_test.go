package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-runtime/core"
)

func TestEcho(t *testing.T) {
	res, err := Echo{}.Reason(context.Background(), &Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Echo{}.Reason(ctx, &Request{Text: "hello"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSystemPrompt(t *testing.T) {
	req := &Request{
		Collections: []string{"episodic", "declarative"},
		Memories: map[string][]core.MemoryPoint{
			"declarative": {{ID: "d1", Score: 0.91, Metadata: map[string]any{"text": "Paris is in France"}}},
			"episodic":    {},
		},
	}

	prompt := SystemPrompt("base", req)
	assert.Contains(t, prompt, "base\n\n## Recalled memories")
	assert.Contains(t, prompt, "### declarative")
	assert.Contains(t, prompt, "- Paris is in France (score 0.91)")
	assert.NotContains(t, prompt, "### episodic")

	assert.Equal(t, DefaultSystemPrompt, SystemPrompt("", &Request{}))
}
