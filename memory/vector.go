package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/logger"
)

// CollectionInfo is a collection name with its current point count.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"vectors_count"`
}

// VectorMemory is the shared, collection-partitioned long term memory.
// The set of collections is fixed at construction; names are unique.
type VectorMemory struct {
	index       Index
	names       []string
	collections map[string]*collection
	log         zerolog.Logger
}

// collection carries the lock and bootstrap state of one partition.
type collection struct {
	name string

	// mu is read-held by recall and add, write-held by delete and wipe.
	mu sync.RWMutex

	stateMu sync.Mutex
	stale   bool
	fresh   chan struct{} // closed while the collection is servable
}

func newCollection(name string) *collection {
	// Collections start stale: nothing is servable before the first bootstrap.
	return &collection{
		name:  name,
		stale: true,
		fresh: make(chan struct{}),
	}
}

func (c *collection) markStale() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.stale {
		c.stale = true
		c.fresh = make(chan struct{})
	}
}

func (c *collection) markFresh() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.stale {
		c.stale = false
		close(c.fresh)
	}
}

func (c *collection) state() (bool, <-chan struct{}) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.stale, c.fresh
}

// acquireRead waits until the collection is servable and returns with the
// read lock held.
func (c *collection) acquireRead(ctx context.Context) error {
	for {
		stale, fresh := c.state()
		if stale {
			select {
			case <-fresh:
			case <-ctx.Done():
				return fmt.Errorf("collection %q awaiting bootstrap: %w", c.name, core.ErrNotReady)
			}
		}

		c.mu.RLock()
		if stale, _ := c.state(); !stale {
			return nil
		}
		// Wiped between the wait and the lock.
		c.mu.RUnlock()
	}
}

// NewVectorMemory creates a vector memory over index with the given
// collection names (core.DefaultCollections when none are given).
// No collection is servable until Bootstrap succeeds.
func NewVectorMemory(index Index, names ...string) (*VectorMemory, error) {
	if len(names) == 0 {
		names = core.DefaultCollections
	}
	vm := &VectorMemory{
		index:       index,
		collections: make(map[string]*collection, len(names)),
		log:         logger.For("memory"),
	}
	for _, name := range names {
		if name == "" {
			return nil, &core.ValidationError{Field: "collection", Message: "collection name is empty"}
		}
		if _, dup := vm.collections[name]; dup {
			return nil, &core.ValidationError{Field: "collection", Message: fmt.Sprintf("duplicate collection %q", name)}
		}
		vm.names = append(vm.names, name)
		vm.collections[name] = newCollection(name)
	}
	return vm, nil
}

// Collections returns the registered collection names in registration order.
func (vm *VectorMemory) Collections() []string {
	return append([]string(nil), vm.names...)
}

// Has reports whether name is a registered collection.
func (vm *VectorMemory) Has(name string) bool {
	_, ok := vm.collections[name]
	return ok
}

func (vm *VectorMemory) lookup(name string) (*collection, error) {
	c, ok := vm.collections[name]
	if !ok {
		return nil, core.NewCollectionNotFound(name)
	}
	return c, nil
}

// Bootstrap (re)creates every collection in the index and marks them
// servable. Called by the engine during its bootstrap stage.
func (vm *VectorMemory) Bootstrap(ctx context.Context) error {
	for _, name := range vm.names {
		c := vm.collections[name]
		c.mu.Lock()
		err := vm.index.CreateCollection(ctx, name)
		if err == nil {
			c.markFresh()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
	}
	vm.log.Debug().Int("collections", len(vm.names)).Msg("vector memory bootstrapped")
	return nil
}

// Ready reports whether every collection is servable.
func (vm *VectorMemory) Ready() bool {
	for _, c := range vm.collections {
		if stale, _ := c.state(); stale {
			return false
		}
	}
	return true
}

// Recall returns at most k points from the collection whose similarity to
// vector is at least threshold, best first. When filter is non-empty only
// points whose metadata equals every filter entry are eligible.
func (vm *VectorMemory) Recall(ctx context.Context, name string, vector []float32, k int, threshold float64, filter map[string]any) ([]core.MemoryPoint, error) {
	c, err := vm.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := (core.RecallParams{K: k, Threshold: threshold}).Validate(); err != nil {
		return nil, err
	}
	if k == 0 {
		return []core.MemoryPoint{}, nil
	}

	if err := c.acquireRead(ctx); err != nil {
		return nil, err
	}
	defer c.mu.RUnlock()

	hits, err := vm.index.Search(ctx, name, vector, k, filter)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}

	points := make([]core.MemoryPoint, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		hit.Metadata = PublicMetadata(hit.Metadata)
		points = append(points, hit)
		if len(points) == k {
			break
		}
	}

	vm.log.Debug().
		Str("collection", name).
		Int("k", k).
		Float64("threshold", threshold).
		Int("hits", len(hits)).
		Int("returned", len(points)).
		Msg("recall")
	return points, nil
}

// Add stores a point in the collection and returns its id.
func (vm *VectorMemory) Add(ctx context.Context, name string, point Point) (string, error) {
	c, err := vm.lookup(name)
	if err != nil {
		return "", err
	}
	if len(point.Vector) == 0 {
		return "", &core.ValidationError{Field: "vector", Message: "point vector is empty"}
	}
	if point.ID == "" {
		point.ID = uuid.New().String()
	}

	if err := c.acquireRead(ctx); err != nil {
		return "", err
	}
	defer c.mu.RUnlock()

	if err := vm.index.Insert(ctx, name, point); err != nil {
		return "", fmt.Errorf("insert into %s: %w", name, err)
	}
	return point.ID, nil
}

// DeletePoint removes one point and reports whether it was actually removed.
// It never fails the caller: a missing id, an unknown collection or a backend
// error all yield false.
func (vm *VectorMemory) DeletePoint(ctx context.Context, name string, id string) bool {
	c, ok := vm.collections[name]
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := vm.index.Exists(ctx, name, id)
	if err != nil {
		vm.log.Warn().Err(err).Str("collection", name).Str("id", id).Msg("point lookup failed")
		return false
	}
	if !exists {
		return false
	}
	if err := vm.index.Delete(ctx, name, id); err != nil {
		vm.log.Warn().Err(err).Str("collection", name).Str("id", id).Msg("point delete failed")
		return false
	}
	vm.log.Info().Str("collection", name).Str("id", id).Msg("point deleted")
	return true
}

// ListCollections returns every collection with its point count.
func (vm *VectorMemory) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	infos := make([]CollectionInfo, 0, len(vm.names))
	for _, name := range vm.names {
		c := vm.collections[name]
		c.mu.RLock()
		count, err := vm.index.Count(ctx, name)
		c.mu.RUnlock()
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		infos = append(infos, CollectionInfo{Name: name, PointCount: count})
	}
	return infos, nil
}

// WipeCollection drops every point of the collection and recreates it empty.
// The collection stays stale, and recall against it waits, until the next
// Bootstrap.
func (vm *VectorMemory) WipeCollection(ctx context.Context, name string) bool {
	c, ok := vm.collections[name]
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.markStale()
	if err := vm.index.DeleteCollection(ctx, name); err != nil {
		vm.log.Error().Err(err).Str("collection", name).Msg("delete collection failed")
		return false
	}
	if err := vm.index.CreateCollection(ctx, name); err != nil {
		vm.log.Error().Err(err).Str("collection", name).Msg("recreate collection failed")
		return false
	}
	vm.log.Info().Str("collection", name).Msg("collection wiped")
	return true
}

// WipeAll wipes every collection. All collections are marked stale before
// any of them is dropped.
func (vm *VectorMemory) WipeAll(ctx context.Context) map[string]bool {
	for _, name := range vm.names {
		vm.collections[name].markStale()
	}
	result := make(map[string]bool, len(vm.names))
	for _, name := range vm.names {
		result[name] = vm.WipeCollection(ctx, name)
	}
	return result
}

// Close closes the underlying index.
func (vm *VectorMemory) Close() error {
	return vm.index.Close()
}
