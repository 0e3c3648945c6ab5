package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/logger"
)

// Recaller runs the per-message recall over every collection.
//
// Collections are queried independently and concurrently; there is no
// ranking across collections. Only the episodic collection is scoped to the
// requesting user.
type Recaller struct {
	vectors *VectorMemory
	log     zerolog.Logger
}

// NewRecaller creates a recaller over vectors.
func NewRecaller(vectors *VectorMemory) *Recaller {
	return &Recaller{
		vectors: vectors,
		log:     logger.For("memory"),
	}
}

// RecallRequest describes one recall across collections.
type RecallRequest struct {
	// Vector is the embedded query.
	Vector []float32

	// UserID scopes the episodic collection through metadata source.
	UserID string

	// Params holds k and threshold per collection. Collections without an
	// entry use core.DefaultRecallParams.
	Params map[string]core.RecallParams
}

// UserFilter returns the metadata filter applied to a collection for userID.
func UserFilter(collection, userID string) map[string]any {
	if collection != core.CollectionEpisodic {
		return nil
	}
	return map[string]any{core.MetadataSource: userID}
}

// RecallAll recalls from every registered collection. The result has one
// entry per collection, empty when nothing qualified.
func (r *Recaller) RecallAll(ctx context.Context, req RecallRequest) (map[string][]core.MemoryPoint, error) {
	names := r.vectors.Collections()

	var mu sync.Mutex
	recalled := make(map[string][]core.MemoryPoint, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		params, ok := req.Params[name]
		if !ok {
			params = core.DefaultRecallParams()
		}
		g.Go(func() error {
			points, err := r.vectors.Recall(gctx, name, req.Vector, params.K, params.Threshold, UserFilter(name, req.UserID))
			if err != nil {
				return fmt.Errorf("recall %s: %w", name, err)
			}
			mu.Lock()
			recalled[name] = points
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, points := range recalled {
		total += len(points)
	}
	r.log.Info().Str("user_id", req.UserID).Int("collections", len(names)).Int("points", total).Msg("recalled memories")
	return recalled, nil
}
