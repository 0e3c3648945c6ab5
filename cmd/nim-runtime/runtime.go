package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/becomeliminal/nim-runtime/admin"
	"github.com/becomeliminal/nim-runtime/engine"
	"github.com/becomeliminal/nim-runtime/llm"
	"github.com/becomeliminal/nim-runtime/llm/anthropic"
	llmopenai "github.com/becomeliminal/nim-runtime/llm/openai"
	"github.com/becomeliminal/nim-runtime/memory"
	"github.com/becomeliminal/nim-runtime/memory/embedder/cache"
	"github.com/becomeliminal/nim-runtime/memory/embedder/mock"
	embedopenai "github.com/becomeliminal/nim-runtime/memory/embedder/openai"
	chromemstore "github.com/becomeliminal/nim-runtime/memory/store/chromem"
	"github.com/becomeliminal/nim-runtime/metrics"
	"github.com/becomeliminal/nim-runtime/server"
)

// runtime holds the assembled components and what must be released on exit.
type runtime struct {
	engine  *engine.Engine
	server  *server.Server
	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func build(cfg *config) (_ *runtime, err error) {
	rt := &runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	var store *chromemstore.ChromemStore
	if cfg.DataDir != "" {
		store, err = chromemstore.NewPersistent(cfg.DataDir, cfg.Compress)
	} else {
		store, err = chromemstore.New()
	}
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	vectors, err := memory.NewVectorMemory(store, cfg.Collections...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create vector memory: %w", err)
	}
	rt.closers = append(rt.closers, vectors.Close)

	embedder, err := newEmbedder(cfg, rt)
	if err != nil {
		return nil, err
	}

	reasoner, err := newReasoner(cfg)
	if err != nil {
		return nil, err
	}

	exporter := metrics.NewExporter(metrics.DefaultConfig())

	opts := []engine.Option{
		engine.WithReasoner(reasoner),
		engine.WithMetrics(exporter),
		engine.WithStageTimeout(cfg.StageTimeout),
		engine.WithEpisodicWrites(cfg.EpisodicWrites),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, engine.WithGuardrails(engine.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)))
	}
	rt.engine = engine.New(vectors, embedder, opts...)

	rt.server, err = server.New(server.Config{
		Engine:  rt.engine,
		Admin:   admin.New(rt.engine, admin.WithRecorder(exporter)),
		Metrics: exporter.Handler(),
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func newEmbedder(cfg *config, rt *runtime) (memory.Embedder, error) {
	var base memory.Embedder
	switch cfg.Embedder {
	case "openai":
		client, err := embedopenai.NewClient(&embedopenai.Config{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.EmbeddingModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		base = client
	case "onnx":
		e, closeFn, err := newONNXEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, closeFn)
		base = e
	default:
		base = mock.New()
	}

	if cfg.EmbeddingCache <= 0 {
		return base, nil
	}
	cached, err := cache.New(base, cache.Config{MaxEntries: cfg.EmbeddingCache})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error {
		cached.Close()
		return nil
	})
	return cached, nil
}

func newReasoner(cfg *config) (llm.Reasoner, error) {
	switch cfg.Reasoner {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:       cfg.AnthropicKey,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
		})
	case "openai":
		return llmopenai.New(llmopenai.Config{
			APIKey:       cfg.OpenAIKey,
			Model:        cfg.Model,
			BaseURL:      cfg.OpenAIBaseURL,
			SystemPrompt: cfg.SystemPrompt,
		})
	default:
		return llm.Echo{}, nil
	}
}

// start bootstraps the engine and serves until ctx is cancelled.
func (r *runtime) start(ctx context.Context, addr string) error {
	if err := r.engine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- r.server.Run(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
