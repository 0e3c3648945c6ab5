package chromem

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/memory"
)

func TestChromemStore(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Count(ctx, "facts")
	assert.ErrorIs(t, err, core.ErrCollectionNotFound)

	require.NoError(t, s.CreateCollection(ctx, "facts"))
	require.NoError(t, s.Insert(ctx, "facts", memory.Point{
		ID:       "a",
		Vector:   []float32{1, 0},
		Metadata: map[string]any{"text": "alpha", "n": float64(1)},
	}))
	require.NoError(t, s.Insert(ctx, "facts", memory.Point{
		ID:     "b",
		Vector: []float32{0, 1},
	}))

	count, err := s.Count(ctx, "facts")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Limit above the collection size is clamped.
	hits, err := s.Search(ctx, "facts", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, float64(1), hits[0].Metadata["n"])
	assert.Contains(t, hits[0].Metadata, seqKey)

	hits, err = s.Search(ctx, "facts", []float32{1, 0}, 2, map[string]any{"n": float64(1)})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	ok, err := s.Exists(ctx, "facts", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "facts", "zzz")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "facts", "a"))
	count, err = s.Count(ctx, "facts")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.DeleteCollection(ctx, "facts"))
	_, err = s.Count(ctx, "facts")
	assert.ErrorIs(t, err, core.ErrCollectionNotFound)
}

func TestNextSeqIsIncreasing(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	prev := s.nextSeq()
	for i := 0; i < 1000; i++ {
		next := s.nextSeq()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestSearch_LimitCutsTiesByInsertion(t *testing.T) {
	ctx := context.Background()
	s, err := New()
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "facts"))

	for i := 0; i < 30; i++ {
		require.NoError(t, s.Insert(ctx, "facts", memory.Point{
			ID:       fmt.Sprintf("t%02d", i),
			Vector:   []float32{1, 0},
			Metadata: map[string]any{"even": i%2 == 0},
		}))
	}

	hits, err := s.Search(ctx, "facts", []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"t00", "t01", "t02"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})

	// Filtered candidates fewer than the collection size.
	hits, err = s.Search(ctx, "facts", []float32{1, 0}, 2, map[string]any{"even": false})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "t01", hits[0].ID)
	assert.Equal(t, "t03", hits[1].ID)
}
