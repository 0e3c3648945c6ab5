package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/memory"
)

func TestUserFilter(t *testing.T) {
	assert.Equal(t, map[string]any{"source": "alice"}, memory.UserFilter(core.CollectionEpisodic, "alice"))
	assert.Nil(t, memory.UserFilter(core.CollectionDeclarative, "alice"))
}

func TestRecallAll(t *testing.T) {
	vm := newVectors(t)
	add(t, vm, "episodic", "alice", v90, map[string]any{"source": "alice"})
	add(t, vm, "episodic", "bob", v90, map[string]any{"source": "bob"})
	add(t, vm, "declarative", "d90", v90, nil)
	add(t, vm, "declarative", "d75", v75, nil)
	add(t, vm, "procedural", "p50", v50, nil)

	recaller := memory.NewRecaller(vm)
	recalled, err := recaller.RecallAll(context.Background(), memory.RecallRequest{
		Vector: query,
		UserID: "alice",
		Params: map[string]core.RecallParams{
			"declarative": {K: 1, Threshold: 0.5},
		},
	})
	require.NoError(t, err)

	require.Len(t, recalled, 3)
	assert.Equal(t, []string{"alice"}, ids(recalled["episodic"]))
	assert.Equal(t, []string{"d90"}, ids(recalled["declarative"]))
	// Default threshold 0.7 excludes the 0.5 point.
	assert.Empty(t, recalled["procedural"])
}

func TestRecallAll_InvalidParams(t *testing.T) {
	vm := newVectors(t)
	_, err := memory.NewRecaller(vm).RecallAll(context.Background(), memory.RecallRequest{
		Vector: query,
		UserID: "alice",
		Params: map[string]core.RecallParams{"episodic": {K: -1}},
	})
	assert.True(t, core.IsValidation(err))
}
