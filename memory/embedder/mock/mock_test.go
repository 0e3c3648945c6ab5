package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewWithDimensions(16)
	assert.Equal(t, 16, e.Dimensions())
	assert.Equal(t, DefaultDimensions, New().Dimensions())

	a, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	again, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	other, err := e.Embed(ctx, "goodbye")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, other)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestMockEmbedder_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}
