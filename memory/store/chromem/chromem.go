package chromem

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/logger"
	"github.com/becomeliminal/nim-runtime/memory"
)

// ChromemStore wraps chromem-go as a memory.Index.
// chromem-go is a pure Go, embedded vector database; similarity is cosine.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	lastSeq     atomic.Int64
	log         zerolog.Logger
}

var _ memory.Index = (*ChromemStore)(nil)

// New creates an in-memory store.
func New() (*ChromemStore, error) {
	return newStore(chromem.NewDB()), nil
}

// NewPersistent creates a store persisted under path. Existing collections
// are loaded from disk.
func NewPersistent(path string, compress bool) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *chromem.DB) *ChromemStore {
	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		log:         logger.For("chromem"),
	}
}

// nextSeq returns a process-wide increasing insertion sequence. It is seeded
// from the wall clock so points persisted by an earlier process sort first.
func (s *ChromemStore) nextSeq() int64 {
	for {
		last := s.lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if s.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	// Persistent databases may already hold the collection.
	col = s.db.GetCollection(name, nil)
	if col == nil {
		return nil, core.NewCollectionNotFound(name)
	}

	s.mu.Lock()
	s.collections[name] = col
	s.mu.Unlock()
	return col, nil
}

// CreateCollection ensures the collection exists.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(
		name,
		nil, // No collection metadata
		nil, // No embedding func (we provide embeddings)
	)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	s.collections[name] = col
	return nil
}

// DeleteCollection drops the collection.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(s.collections, name)
	return nil
}

// Insert stores a point.
func (s *ChromemStore) Insert(ctx context.Context, name string, point memory.Point) error {
	col, err := s.collection(name)
	if err != nil {
		return err
	}

	metadata, err := encodeMetadata(point.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	metadata[seqKey] = strconv.FormatInt(s.nextSeq(), 10)

	content := point.Content
	if content == "" {
		// chromem requires content or embedding; keep a readable copy.
		if text, ok := point.Metadata["text"].(string); ok {
			content = text
		}
	}

	doc := chromem.Document{
		ID:        point.ID,
		Content:   content,
		Embedding: point.Vector,
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.log.Debug().Str("collection", name).Str("id", point.ID).Msg("stored point")
	return nil
}

// Search retrieves points by vector similarity.
func (s *ChromemStore) Search(ctx context.Context, name string, vector []float32, limit int, filter map[string]any) ([]core.MemoryPoint, error) {
	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}

	where, err := encodeFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}

	// chromem picks an arbitrary subset among equal scores at the nResults
	// cutoff, so rank every candidate and cut after ordering by seq.
	results, err := col.QueryEmbedding(ctx, vector, count, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	type hit struct {
		point core.MemoryPoint
		seq   int64
	}
	hits := make([]hit, 0, len(results))
	for _, result := range results {
		metadata, err := decodeMetadata(result.Metadata)
		if err != nil {
			s.log.Warn().Err(err).Str("id", result.ID).Msg("skipping result with bad metadata")
			continue
		}
		seq, _ := strconv.ParseInt(result.Metadata[seqKey], 10, 64)
		hits = append(hits, hit{
			point: core.MemoryPoint{
				ID:       result.ID,
				Vector:   result.Embedding,
				Metadata: metadata,
				Score:    float64(result.Similarity),
			},
			seq: seq,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].point.Score != hits[j].point.Score {
			return hits[i].point.Score > hits[j].point.Score
		}
		return hits[i].seq < hits[j].seq
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	points := make([]core.MemoryPoint, len(hits))
	for i, h := range hits {
		points[i] = h.point
	}
	return points, nil
}

// Exists reports whether a point id is stored.
func (s *ChromemStore) Exists(ctx context.Context, name string, id string) (bool, error) {
	col, err := s.collection(name)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}
	if _, err := col.GetByID(ctx, id); err != nil {
		// chromem-go reports a missing id as an error
		return false, nil
	}
	return true, nil
}

// Delete removes a point by id.
func (s *ChromemStore) Delete(ctx context.Context, name string, id string) error {
	col, err := s.collection(name)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Count returns the number of stored points.
func (s *ChromemStore) Count(ctx context.Context, name string) (int, error) {
	col, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go writes through on every change, nothing to flush
	return nil
}
