// Package admin implements memory administration: point deletion, recall
// inspection, collection listing, wipes and history reset.
package admin

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/engine"
	"github.com/becomeliminal/nim-runtime/logger"
	"github.com/becomeliminal/nim-runtime/memory"
)

// Recall inspection defaults.
const (
	DefaultRecallK = 100
	DefaultUserID  = "user"
)

// Operation names reported to the Recorder.
const (
	OpDeletePoint     = "delete_point"
	OpRecall          = "recall"
	OpListCollections = "list_collections"
	OpWipeCollection  = "wipe_collection"
	OpWipeAll         = "wipe_all"
	OpClearHistory    = "clear_history"
)

// Recorder counts administration operations.
type Recorder interface {
	ObserveAdmin(operation string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAdmin(string, bool) {}

// Service exposes administration over an engine.
type Service struct {
	engine   *engine.Engine
	recaller *memory.Recaller
	metrics  Recorder
	log      zerolog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithRecorder sets the operation recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// New creates a service over e.
func New(e *engine.Engine, opts ...Option) *Service {
	s := &Service{
		engine:   e,
		recaller: memory.NewRecaller(e.Vectors()),
		metrics:  nopRecorder{},
		log:      logger.For("admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecallQuery describes a recall inspection.
type RecallQuery struct {
	Text      string
	K         int
	Threshold float64
	UserID    string
}

// RecallResult is the outcome of a recall inspection.
type RecallResult struct {
	Text        string
	Vector      []float32
	Embedder    string
	Collections map[string][]core.MemoryPoint
}

func (s *Service) record(op string, err error) {
	s.metrics.ObserveAdmin(op, err == nil)
}

func (s *Service) requireCollection(name string) error {
	if !s.engine.Vectors().Has(name) {
		return core.NewCollectionNotFound(name)
	}
	return nil
}

// DeletePoint removes one point. It reports false when nothing was removed;
// only an unknown collection is an error.
func (s *Service) DeletePoint(ctx context.Context, collection, id string) (bool, error) {
	if err := s.requireCollection(collection); err != nil {
		s.record(OpDeletePoint, err)
		return false, err
	}
	deleted := s.engine.Vectors().DeletePoint(ctx, collection, id)
	s.record(OpDeletePoint, nil)
	s.log.Info().Str("collection", collection).Str("id", id).Bool("deleted", deleted).Msg("delete point")
	return deleted, nil
}

// Recall embeds q.Text and recalls from every collection, episodic scoped to
// q.UserID.
func (s *Service) Recall(ctx context.Context, q RecallQuery) (res *RecallResult, err error) {
	defer func() { s.record(OpRecall, err) }()

	if strings.TrimSpace(q.Text) == "" {
		return nil, &core.ValidationError{Field: "text", Message: "recall text is empty", Err: core.ErrEmptyMessage}
	}
	if q.UserID == "" {
		q.UserID = DefaultUserID
	}
	params := core.RecallParams{K: q.K, Threshold: q.Threshold}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if s.engine.State() == engine.StateIdle {
		return nil, core.ErrNotReady
	}

	embedder := s.engine.Embedder()
	vector, err := embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	perCollection := make(map[string]core.RecallParams)
	for _, name := range s.engine.Vectors().Collections() {
		perCollection[name] = params
	}
	recalled, err := s.recaller.RecallAll(ctx, memory.RecallRequest{
		Vector: vector,
		UserID: q.UserID,
		Params: perCollection,
	})
	if err != nil {
		return nil, err
	}

	return &RecallResult{
		Text:        q.Text,
		Vector:      vector,
		Embedder:    memory.EmbedderName(embedder),
		Collections: recalled,
	}, nil
}

// ListCollections returns every collection with its point count.
func (s *Service) ListCollections(ctx context.Context) ([]memory.CollectionInfo, error) {
	infos, err := s.engine.Vectors().ListCollections(ctx)
	s.record(OpListCollections, err)
	return infos, err
}

// WipeCollection empties one collection and re-bootstraps the engine.
func (s *Service) WipeCollection(ctx context.Context, name string) (map[string]bool, error) {
	deleted, err := s.engine.WipeCollection(ctx, name)
	s.record(OpWipeCollection, err)
	if err == nil {
		s.log.Warn().Str("collection", name).Msg("collection wiped")
	}
	return deleted, err
}

// WipeAll empties every collection and re-bootstraps the engine once.
func (s *Service) WipeAll(ctx context.Context) (map[string]bool, error) {
	deleted, err := s.engine.WipeAll(ctx)
	s.record(OpWipeAll, err)
	if err == nil {
		s.log.Warn().Msg("all collections wiped")
	}
	return deleted, err
}

// ClearHistory empties the conversation history of userID.
func (s *Service) ClearHistory(ctx context.Context, userID string) error {
	if userID == "" {
		userID = DefaultUserID
	}
	err := s.engine.ClearHistory(ctx, userID)
	s.record(OpClearHistory, err)
	return err
}
