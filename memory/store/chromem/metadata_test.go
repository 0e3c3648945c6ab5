package chromem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTrip(t *testing.T) {
	md := map[string]any{
		"source": "alice",
		"when":   float64(1700000000),
		"tags":   []any{"a", "b"},
		"ok":     true,
	}

	stored, err := encodeMetadata(md)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored["source"])
	assert.Equal(t, "1700000000", stored["when"])
	assert.Equal(t, "ok,tags,when", stored[jsonKey])

	decoded, err := decodeMetadata(stored)
	require.NoError(t, err)
	assert.Equal(t, "ok,tags,when", decoded[jsonKey])
	delete(decoded, jsonKey)
	assert.Equal(t, md, decoded)
}

func TestEncodeMetadata_RejectsCommaKeys(t *testing.T) {
	_, err := encodeMetadata(map[string]any{"a,b": 1})
	assert.Error(t, err)
}

func TestEncodeFilter(t *testing.T) {
	where, err := encodeFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, where)

	where, err = encodeFilter(map[string]any{"source": "bob", "when": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "bob", "when": "3"}, where)
}
