package hooks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/becomeliminal/nim-runtime/core"
)

// HookError wraps the failure of one hook entry.
type HookError struct {
	Point    Point
	Plugin   string
	Priority int
	Err      error
}

func (e *HookError) Error() string {
	plugin := e.Plugin
	if plugin == "" {
		plugin = "core"
	}
	return fmt.Sprintf("hook %s (plugin %s, priority %d): %v", e.Point, plugin, e.Priority, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

type entry struct {
	priority int
	order    int
	plugin   string
	fn       any
}

// EntryInfo describes a registered entry.
type EntryInfo struct {
	Plugin   string
	Priority int
	Order    int
}

// Registry maps hook points to their ordered entries.
// It is open for registration until Freeze; the engine freezes it when
// bootstrap completes and resets it before the next bootstrap.
type Registry struct {
	mu      sync.RWMutex
	entries map[Point][]entry
	seq     int
	frozen  bool

	// pluginMu serialises plugin registration so entries are stamped with
	// the right plugin name.
	pluginMu sync.Mutex
	current  string
}

// NewRegistry creates an empty, open registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Point][]entry)}
}

func (r *Registry) add(point Point, priority int, fn any) error {
	if fn == nil {
		return fmt.Errorf("hook %s: nil function", point)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %s: %w", point, core.ErrRegistryFrozen)
	}

	r.seq++
	// Running chains range over the old slice; never write into it.
	list := append(slices.Clone(r.entries[point]), entry{
		priority: priority,
		order:    r.seq,
		plugin:   r.current,
		fn:       fn,
	})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].order < list[j].order
	})
	r.entries[point] = list
	return nil
}

// RegisterPlugin lets p add its entries, stamped with p's name.
func (r *Registry) RegisterPlugin(p Plugin) error {
	r.pluginMu.Lock()
	defer r.pluginMu.Unlock()

	r.mu.Lock()
	r.current = p.Name()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.current = ""
		r.mu.Unlock()
	}()

	if err := p.Register(r); err != nil {
		return fmt.Errorf("plugin %s: %w", p.Name(), err)
	}
	return nil
}

// OnBeforeBootstrap registers a before_bootstrap observer.
func (r *Registry) OnBeforeBootstrap(priority int, fn BootstrapFunc) error {
	return r.add(BeforeBootstrap, priority, fn)
}

// OnAfterBootstrap registers an after_bootstrap observer.
func (r *Registry) OnAfterBootstrap(priority int, fn BootstrapFunc) error {
	return r.add(AfterBootstrap, priority, fn)
}

// OnMessageReceived registers an on_message_received transform.
func (r *Registry) OnMessageReceived(priority int, fn MessageFunc) error {
	return r.add(OnMessageReceived, priority, fn)
}

// OnBuildRecallQuery registers a build_recall_query transform.
func (r *Registry) OnBuildRecallQuery(priority int, fn QueryFunc) error {
	return r.add(BuildRecallQuery, priority, fn)
}

// OnBeforeRecall registers a before_recall params provider.
func (r *Registry) OnBeforeRecall(priority int, fn RecallParamsFunc) error {
	return r.add(BeforeRecall, priority, fn)
}

// OnAfterRecall registers an after_recall observer.
func (r *Registry) OnAfterRecall(priority int, fn QueryObserverFunc) error {
	return r.add(AfterRecall, priority, fn)
}

// OnAfterMemoriesRecalled registers an after_memories_recalled observer.
func (r *Registry) OnAfterMemoriesRecalled(priority int, fn QueryObserverFunc) error {
	return r.add(AfterMemoriesRecalled, priority, fn)
}

// OnBeforeSendResponse registers a before_send_response transform.
func (r *Registry) OnBeforeSendResponse(priority int, fn ResponseFunc) error {
	return r.add(BeforeSendResponse, priority, fn)
}

// Freeze closes the registry to new entries.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry is closed.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Reset removes every entry and reopens the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[Point][]entry)
	r.seq = 0
	r.frozen = false
}

// Entries lists a point's entries in invocation order.
func (r *Registry) Entries(point Point) []EntryInfo {
	list := r.snapshot(point)
	infos := make([]EntryInfo, len(list))
	for i, e := range list {
		infos[i] = EntryInfo{Plugin: e.plugin, Priority: e.priority, Order: e.order}
	}
	return infos
}

func (r *Registry) snapshot(point Point) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[point]
}

func wrap(point Point, e entry, err error) error {
	return &HookError{Point: point, Plugin: e.plugin, Priority: e.priority, Err: err}
}

// RunBootstrap invokes a bootstrap observer point.
func (r *Registry) RunBootstrap(ctx context.Context, point Point, sys *SystemContext) error {
	for _, e := range r.snapshot(point) {
		if err := e.fn.(BootstrapFunc)(ctx, sys); err != nil {
			return wrap(point, e, err)
		}
	}
	return nil
}

// RunMessageReceived threads msg through on_message_received.
func (r *Registry) RunMessageReceived(ctx context.Context, hc *Context, msg *core.Message) (*core.Message, error) {
	current := msg
	for _, e := range r.snapshot(OnMessageReceived) {
		next, err := e.fn.(MessageFunc)(ctx, hc, current)
		if err != nil {
			return nil, wrap(OnMessageReceived, e, err)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// RunBuildRecallQuery threads query through build_recall_query.
func (r *Registry) RunBuildRecallQuery(ctx context.Context, hc *Context, query string) (string, error) {
	current := query
	for _, e := range r.snapshot(BuildRecallQuery) {
		next, err := e.fn.(QueryFunc)(ctx, hc, current)
		if err != nil {
			return "", wrap(BuildRecallQuery, e, err)
		}
		current = next
	}
	return current, nil
}

// RunBeforeRecall returns k and threshold for every collection. Defaults
// are core.DefaultRecallParams; entries refine them in order. Collections an
// entry drops fall back to the defaults.
func (r *Registry) RunBeforeRecall(ctx context.Context, hc *Context, query string, collections []string) (map[string]core.RecallParams, error) {
	current := make(map[string]core.RecallParams, len(collections))
	for _, name := range collections {
		current[name] = core.DefaultRecallParams()
	}

	for _, e := range r.snapshot(BeforeRecall) {
		input := make(map[string]core.RecallParams, len(current))
		for k, v := range current {
			input[k] = v
		}
		next, err := e.fn.(RecallParamsFunc)(ctx, hc, query, input)
		if err != nil {
			return nil, wrap(BeforeRecall, e, err)
		}
		if next == nil {
			continue
		}
		for _, name := range collections {
			if _, ok := next[name]; !ok {
				next[name] = core.DefaultRecallParams()
			}
		}
		for name, params := range next {
			if err := params.Validate(); err != nil {
				return nil, wrap(BeforeRecall, e, fmt.Errorf("collection %s: %w", name, err))
			}
		}
		current = next
	}
	return current, nil
}

// RunQueryObservers invokes after_recall or after_memories_recalled.
func (r *Registry) RunQueryObservers(ctx context.Context, point Point, hc *Context, query string) error {
	for _, e := range r.snapshot(point) {
		if err := e.fn.(QueryObserverFunc)(ctx, hc, query); err != nil {
			return wrap(point, e, err)
		}
	}
	return nil
}

// RunBeforeSendResponse threads resp through before_send_response.
func (r *Registry) RunBeforeSendResponse(ctx context.Context, hc *Context, resp *core.Response) (*core.Response, error) {
	current := resp
	for _, e := range r.snapshot(BeforeSendResponse) {
		next, err := e.fn.(ResponseFunc)(ctx, hc, current)
		if err != nil {
			return nil, wrap(BeforeSendResponse, e, err)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}
