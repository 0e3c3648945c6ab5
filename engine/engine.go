// Package engine runs the hook-mediated message pipeline.
//
// An Engine moves from Idle to Ready through Bootstrap. Every message then
// runs intake, recall, reasoning and response stages; each stage is bounded
// by the stage timeout and a failure aborts the run without committing any
// working memory change. Wiping a collection forces a new bootstrap.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/hooks"
	"github.com/becomeliminal/nim-runtime/llm"
	"github.com/becomeliminal/nim-runtime/logger"
	"github.com/becomeliminal/nim-runtime/memory"
)

// DefaultStageTimeout bounds every pipeline stage.
const DefaultStageTimeout = 30 * time.Second

// State is the engine lifecycle state.
type State int

const (
	// StateIdle means not bootstrapped, or the last bootstrap failed.
	StateIdle State = iota

	// StateBootstrapping means a bootstrap is in progress.
	StateBootstrapping

	// StateReady means messages are accepted.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine is the pipeline executor.
type Engine struct {
	vectors  *memory.VectorMemory
	embedder memory.Embedder
	recaller *memory.Recaller
	registry *hooks.Registry
	sessions *memory.SessionStore

	reasoner       llm.Reasoner
	plugins        []hooks.Plugin
	guardrails     Guardrails  // Optional: per-user rate limiting
	metrics        Recorder    // Optional: pipeline metrics
	stageTimeout   time.Duration
	episodicWrites bool

	log zerolog.Logger

	// runMu is read-held by every message run and write-held by bootstrap
	// and wipes, so a bootstrap never interleaves with a run.
	runMu sync.RWMutex

	stateMu sync.Mutex
	state   State
	changed chan struct{} // closed and replaced on every state change
}

// Option configures the engine.
type Option func(*Engine)

// WithReasoner sets the reasoning collaborator. Defaults to llm.Echo.
func WithReasoner(r llm.Reasoner) Option {
	return func(e *Engine) {
		if r != nil {
			e.reasoner = r
		}
	}
}

// WithPlugins adds plugins registered on every bootstrap.
func WithPlugins(plugins ...hooks.Plugin) Option {
	return func(e *Engine) {
		e.plugins = append(e.plugins, plugins...)
	}
}

// WithGuardrails sets the guardrails implementation for rate limiting.
func WithGuardrails(g Guardrails) Option {
	return func(e *Engine) {
		e.guardrails = g
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Recorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithStageTimeout sets the per-stage timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

// WithEpisodicWrites toggles storing user messages in the episodic
// collection after successful runs. Enabled by default.
func WithEpisodicWrites(enabled bool) Option {
	return func(e *Engine) {
		e.episodicWrites = enabled
	}
}

// WithSessions shares a session store with the engine.
func WithSessions(s *memory.SessionStore) Option {
	return func(e *Engine) {
		if s != nil {
			e.sessions = s
		}
	}
}

// WithRegistry uses r instead of a private registry.
func WithRegistry(r *hooks.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// New creates an idle engine. Call Bootstrap before handling messages.
func New(vectors *memory.VectorMemory, embedder memory.Embedder, opts ...Option) *Engine {
	e := &Engine{
		vectors:        vectors,
		embedder:       embedder,
		recaller:       memory.NewRecaller(vectors),
		registry:       hooks.NewRegistry(),
		sessions:       memory.NewSessionStore(),
		reasoner:       llm.Echo{},
		metrics:        nopRecorder{},
		stageTimeout:   DefaultStageTimeout,
		episodicWrites: true,
		log:            logger.For("engine"),
		changed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the hook registry.
func (e *Engine) Registry() *hooks.Registry {
	return e.registry
}

// Vectors returns the vector memory.
func (e *Engine) Vectors() *memory.VectorMemory {
	return e.vectors
}

// Embedder returns the embedder.
func (e *Engine) Embedder() memory.Embedder {
	return e.embedder
}

// Sessions returns the session store.
func (e *Engine) Sessions() *memory.SessionStore {
	return e.sessions
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	s, _ := e.snapshot()
	return s
}

func (e *Engine) snapshot() (State, <-chan struct{}) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state, e.changed
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state == s {
		return
	}
	e.state = s
	close(e.changed)
	e.changed = make(chan struct{})
}

// waitReady blocks while a bootstrap is in progress.
func (e *Engine) waitReady(ctx context.Context) error {
	for {
		state, changed := e.snapshot()
		switch state {
		case StateReady:
			return nil
		case StateIdle:
			return core.ErrNotReady
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("waiting for bootstrap: %w", core.ErrNotReady)
		}
	}
}

// beginRun returns with runMu read-held and the engine ready.
func (e *Engine) beginRun(ctx context.Context) error {
	for {
		if err := e.waitReady(ctx); err != nil {
			return err
		}
		e.runMu.RLock()
		if e.State() == StateReady {
			return nil
		}
		e.runMu.RUnlock()
	}
}

// Bootstrap initializes the runtime: it resets the registry, registers every
// plugin, runs before_bootstrap, probes the embedder, ensures the vector
// collections, runs after_bootstrap and freezes the registry. On failure the
// engine stays not ready and the error is a *core.BootstrapError.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.setState(StateBootstrapping)
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.bootstrapLocked(ctx)
}

func (e *Engine) bootstrapLocked(ctx context.Context) error {
	e.setState(StateBootstrapping)
	start := time.Now()

	err := e.runSettledStage(ctx, core.StageBootstrap, func(ctx context.Context) error {
		return e.bootstrapSteps(ctx)
	})
	e.metrics.ObserveBootstrap(time.Since(start), err)
	if err != nil {
		e.setState(StateIdle)
		e.log.Error().Err(err).Msg("bootstrap failed")
		var bootErr *core.BootstrapError
		if errors.As(err, &bootErr) {
			return bootErr
		}
		return &core.BootstrapError{Op: "timeout", Err: err}
	}

	e.setState(StateReady)
	e.log.Info().
		Str("embedder", memory.EmbedderName(e.embedder)).
		Strs("collections", e.vectors.Collections()).
		Int("plugins", len(e.plugins)).
		Dur("took", time.Since(start)).
		Msg("bootstrap complete")
	return nil
}

// bootstrapSteps stops at the first failing step. A step that overruns the
// stage timeout leaves the later steps unrun, so collections stay stale and
// the registry stays open.
func (e *Engine) bootstrapSteps(ctx context.Context) error {
	e.registry.Reset()
	for _, p := range e.plugins {
		if err := e.registry.RegisterPlugin(p); err != nil {
			return &core.BootstrapError{Op: "register plugins", Err: err}
		}
	}

	sys := &hooks.SystemContext{
		Vectors:     e.vectors,
		Collections: e.vectors.Collections(),
		Registry:    e.registry,
	}
	steps := []struct {
		op string
		fn func(context.Context) error
	}{
		{"before_bootstrap", func(ctx context.Context) error {
			return e.registry.RunBootstrap(ctx, hooks.BeforeBootstrap, sys)
		}},
		{"embedder", e.probeEmbedder},
		{"vector memory", e.vectors.Bootstrap},
		{"after_bootstrap", func(ctx context.Context) error {
			return e.registry.RunBootstrap(ctx, hooks.AfterBootstrap, sys)
		}},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return &core.BootstrapError{Op: step.op, Err: err}
		}
		if err := step.fn(ctx); err != nil {
			return &core.BootstrapError{Op: step.op, Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return &core.BootstrapError{Op: "after_bootstrap", Err: err}
	}
	e.registry.Freeze()
	return nil
}

func (e *Engine) probeEmbedder(ctx context.Context) error {
	vec, err := e.embedder.Embed(ctx, "hello")
	if err != nil {
		return err
	}
	if dims := e.embedder.Dimensions(); dims > 0 && len(vec) != dims {
		return fmt.Errorf("embedder returned %d dimensions, expected %d", len(vec), dims)
	}
	return nil
}

// WipeCollection empties one collection and bootstraps again. It returns
// whether the wipe succeeded, keyed by collection name. An unknown name is a
// validation error.
func (e *Engine) WipeCollection(ctx context.Context, name string) (map[string]bool, error) {
	if !e.vectors.Has(name) {
		return nil, core.NewCollectionNotFound(name)
	}

	e.setState(StateBootstrapping)
	e.runMu.Lock()
	defer e.runMu.Unlock()

	result := map[string]bool{name: e.vectors.WipeCollection(ctx, name)}
	if err := e.bootstrapLocked(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// WipeAll empties every collection and bootstraps once.
func (e *Engine) WipeAll(ctx context.Context) (map[string]bool, error) {
	e.setState(StateBootstrapping)
	e.runMu.Lock()
	defer e.runMu.Unlock()

	result := e.vectors.WipeAll(ctx)
	if err := e.bootstrapLocked(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// ClearHistory empties a session's conversation history. Sessions that never
// ran are left alone.
func (e *Engine) ClearHistory(ctx context.Context, userID string) error {
	sess, ok := e.sessions.Get(userID)
	if !ok {
		return nil
	}
	return sess.ClearHistory(ctx)
}
