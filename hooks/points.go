// Package hooks implements the pipeline's extension points.
//
// Every hook point has a fixed signature and a registration method on
// Registry. Entries run in ascending priority, ties in registration order.
// Transform hooks receive the previous entry's output; observer hooks see
// the shared context only. With no entries a transform hook is the identity
// and an observer hook does nothing.
//
// A failing entry aborts the remaining chain and its error is returned to
// the engine, which turns it into a stage failure. Later entries may rely on
// the postconditions of earlier ones, so nothing is skipped.
package hooks

import (
	"context"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/memory"
)

// Point names a hook point.
type Point string

// Hook points, in pipeline order.
const (
	BeforeBootstrap       Point = "before_bootstrap"
	AfterBootstrap        Point = "after_bootstrap"
	OnMessageReceived     Point = "on_message_received"
	BuildRecallQuery      Point = "build_recall_query"
	BeforeRecall          Point = "before_recall"
	AfterRecall           Point = "after_recall"
	AfterMemoriesRecalled Point = "after_memories_recalled"
	BeforeSendResponse    Point = "before_send_response"
)

// Points lists every hook point.
var Points = []Point{
	BeforeBootstrap,
	AfterBootstrap,
	OnMessageReceived,
	BuildRecallQuery,
	BeforeRecall,
	AfterRecall,
	AfterMemoriesRecalled,
	BeforeSendResponse,
}

// DefaultPriority is the baseline tier.
const DefaultPriority = 0

// Context is handed to every per-message hook. It replaces a global agent
// instance with exactly what a stage may touch.
type Context struct {
	SessionID string
	UserID    string

	// WorkingMemory is the run's draft; writes are committed only if the
	// whole run succeeds.
	WorkingMemory *memory.WorkingMemory

	// Vectors is the shared long term memory.
	Vectors *memory.VectorMemory
}

// SystemContext is handed to bootstrap hooks.
type SystemContext struct {
	Vectors     *memory.VectorMemory
	Collections []string

	// Registry is still open while before_bootstrap runs.
	Registry *Registry
}

// Hook signatures.
type (
	// BootstrapFunc observes bootstrap.
	BootstrapFunc func(ctx context.Context, sys *SystemContext) error

	// MessageFunc rewrites the incoming message. Returning nil keeps msg.
	MessageFunc func(ctx context.Context, hc *Context, msg *core.Message) (*core.Message, error)

	// QueryFunc rewrites the recall query text.
	QueryFunc func(ctx context.Context, hc *Context, query string) (string, error)

	// RecallParamsFunc adjusts per-collection k and threshold. It receives
	// the params produced so far; returning nil keeps them.
	RecallParamsFunc func(ctx context.Context, hc *Context, query string, params map[string]core.RecallParams) (map[string]core.RecallParams, error)

	// QueryObserverFunc observes the recall query after recall.
	QueryObserverFunc func(ctx context.Context, hc *Context, query string) error

	// ResponseFunc rewrites the outgoing message. Returning nil keeps resp.
	ResponseFunc func(ctx context.Context, hc *Context, resp *core.Response) (*core.Response, error)
)
