package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/becomeliminal/nim-runtime/core"
)

// Index is the vector index backend. It owns similarity search; VectorMemory
// owns collection bookkeeping, thresholds and locking.
// Implementations: chromem.Store (embedded, optionally persistent).
type Index interface {
	// CreateCollection ensures an empty or existing collection named name.
	CreateCollection(ctx context.Context, name string) error

	// DeleteCollection drops the collection and all of its points.
	DeleteCollection(ctx context.Context, name string) error

	// Insert stores a point. The point must carry its vector.
	Insert(ctx context.Context, collection string, point Point) error

	// Search returns up to limit points ordered by descending similarity,
	// ties broken by insertion order. Only points whose metadata equals every
	// filter entry are eligible.
	Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]core.MemoryPoint, error)

	// Exists reports whether a point id is stored in the collection.
	Exists(ctx context.Context, collection string, id string) (bool, error)

	// Delete removes a point by id.
	Delete(ctx context.Context, collection string, id string) error

	// Count returns the number of stored points.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases resources.
	Close() error
}

// Point is a vector with metadata to be stored in a collection.
type Point struct {
	// ID is generated when empty.
	ID string

	// Content is the source text, if any.
	Content string

	Vector   []float32
	Metadata map[string]any
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local model), openai (API), cache
// (ristretto wrapper around any of them).
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// EmbedderName returns a short display name for an embedder.
func EmbedderName(e Embedder) string {
	if named, ok := e.(interface{ Name() string }); ok {
		return named.Name()
	}
	name := fmt.Sprintf("%T", e)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// InternalMetadataPrefix marks index bookkeeping keys that never leave the
// memory package.
const InternalMetadataPrefix = "_"

// legacyMetadataKeys are serialisation leftovers of older stores.
var legacyMetadataKeys = map[string]bool{"lc_kwargs": true}

// PublicMetadata returns metadata without index-internal keys.
func PublicMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if strings.HasPrefix(k, InternalMetadataPrefix) || legacyMetadataKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}
