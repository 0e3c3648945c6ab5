package hooks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/memory"
)

func newHookContext() *Context {
	return &Context{SessionID: "s1", UserID: "u1", WorkingMemory: memory.NewWorkingMemory()}
}

func TestRegistry_EmptyIsIdentity(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	hc := newHookContext()

	msg := core.NewMessage("hello")
	msg.Set("lang", "en")
	got, err := r.RunMessageReceived(ctx, hc, msg)
	require.NoError(t, err)
	assert.Same(t, msg, got)

	query, err := r.RunBuildRecallQuery(ctx, hc, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", query)

	resp := &core.Response{Type: core.ResponseTypeChat, Content: "hi"}
	out, err := r.RunBeforeSendResponse(ctx, hc, resp)
	require.NoError(t, err)
	assert.Same(t, resp, out)

	params, err := r.RunBeforeRecall(ctx, hc, "hello", core.DefaultCollections)
	require.NoError(t, err)
	require.Len(t, params, len(core.DefaultCollections))
	for _, name := range core.DefaultCollections {
		assert.Equal(t, core.RecallParams{K: 3, Threshold: 0.7}, params[name])
	}

	require.NoError(t, r.RunQueryObservers(ctx, AfterRecall, hc, "hello"))
	require.NoError(t, r.RunBootstrap(ctx, BeforeBootstrap, &SystemContext{}))
}

func TestRegistry_OrderByPriorityThenRegistration(t *testing.T) {
	r := NewRegistry()
	var calls []string
	add := func(name string, priority int) {
		require.NoError(t, r.OnBuildRecallQuery(priority, func(_ context.Context, _ *Context, q string) (string, error) {
			calls = append(calls, name)
			return q + name, nil
		}))
	}
	add("c", 5)
	add("a", -1)
	add("b", 5)
	add("d", 0)

	got, err := r.RunBuildRecallQuery(context.Background(), newHookContext(), ">")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "c", "b"}, calls)
	assert.Equal(t, ">adcb", got)

	entries := r.Entries(BuildRecallQuery)
	require.Len(t, entries, 4)
	assert.Equal(t, -1, entries[0].Priority)
	assert.Less(t, entries[2].Order, entries[3].Order)
}

func TestRegistry_RegisterDuringRunKeepsChain(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	var calls []string
	observe := func(name string) BootstrapFunc {
		return func(context.Context, *SystemContext) error {
			calls = append(calls, name)
			return nil
		}
	}

	require.NoError(t, r.OnBeforeBootstrap(1, observe("a")))
	require.NoError(t, r.OnBeforeBootstrap(2, func(_ context.Context, sys *SystemContext) error {
		calls = append(calls, "b")
		return sys.Registry.OnBeforeBootstrap(0, observe("late"))
	}))
	require.NoError(t, r.OnBeforeBootstrap(3, observe("c")))

	sys := &SystemContext{Registry: r}
	require.NoError(t, r.RunBootstrap(ctx, BeforeBootstrap, sys))
	assert.Equal(t, []string{"a", "b", "c"}, calls)

	calls = nil
	require.NoError(t, r.RunBootstrap(ctx, BeforeBootstrap, sys))
	assert.Equal(t, []string{"late", "a", "b", "c"}, calls[:4])
}

func TestRegistry_NilKeepsPreviousValue(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.OnMessageReceived(0, func(_ context.Context, _ *Context, msg *core.Message) (*core.Message, error) {
		out := msg.Clone()
		out.Text = strings.ToUpper(msg.Text)
		return out, nil
	}))
	require.NoError(t, r.OnMessageReceived(1, func(_ context.Context, hc *Context, msg *core.Message) (*core.Message, error) {
		hc.WorkingMemory.Set("seen", msg.Text)
		return nil, nil
	}))

	hc := newHookContext()
	got, err := r.RunMessageReceived(context.Background(), hc, core.NewMessage("hi"))
	require.NoError(t, err)
	assert.Equal(t, "HI", got.Text)

	seen, ok := hc.WorkingMemory.Get("seen")
	require.True(t, ok)
	assert.Equal(t, "HI", seen)
}

func TestRegistry_ErrorAbortsChain(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	ran := false

	plugin := PluginFunc{PluginName: "guard", Fn: func(r *Registry) error {
		return r.OnBeforeSendResponse(2, func(context.Context, *Context, *core.Response) (*core.Response, error) {
			return nil, boom
		})
	}}
	require.NoError(t, r.RegisterPlugin(plugin))
	require.NoError(t, r.OnBeforeSendResponse(3, func(_ context.Context, _ *Context, resp *core.Response) (*core.Response, error) {
		ran = true
		return resp, nil
	}))

	_, err := r.RunBeforeSendResponse(context.Background(), newHookContext(), &core.Response{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, BeforeSendResponse, hookErr.Point)
	assert.Equal(t, "guard", hookErr.Plugin)
	assert.Equal(t, 2, hookErr.Priority)
	assert.Contains(t, err.Error(), "before_send_response")
}

func TestRegistry_BeforeRecallRefinesDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.OnBeforeRecall(0, func(_ context.Context, _ *Context, _ string, params map[string]core.RecallParams) (map[string]core.RecallParams, error) {
		params[core.CollectionEpisodic] = core.RecallParams{K: 10, Threshold: 0.5}
		return params, nil
	}))
	require.NoError(t, r.OnBeforeRecall(1, func(_ context.Context, _ *Context, _ string, params map[string]core.RecallParams) (map[string]core.RecallParams, error) {
		// Seeing the previous entry's output.
		assert.Equal(t, 10, params[core.CollectionEpisodic].K)
		return map[string]core.RecallParams{
			core.CollectionEpisodic: params[core.CollectionEpisodic],
		}, nil
	}))

	params, err := r.RunBeforeRecall(context.Background(), newHookContext(), "q", core.DefaultCollections)
	require.NoError(t, err)
	assert.Equal(t, core.RecallParams{K: 10, Threshold: 0.5}, params[core.CollectionEpisodic])
	assert.Equal(t, core.DefaultRecallParams(), params[core.CollectionDeclarative])
	assert.Equal(t, core.DefaultRecallParams(), params[core.CollectionProcedural])
}

func TestRegistry_BeforeRecallRejectsInvalidParams(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.OnBeforeRecall(0, func(context.Context, *Context, string, map[string]core.RecallParams) (map[string]core.RecallParams, error) {
		return map[string]core.RecallParams{core.CollectionEpisodic: {K: 3, Threshold: 1.5}}, nil
	}))

	_, err := r.RunBeforeRecall(context.Background(), newHookContext(), "q", core.DefaultCollections)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestRegistry_FreezeAndReset(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Context, string) error { return nil }

	require.NoError(t, r.OnAfterRecall(0, noop))
	r.Freeze()
	assert.True(t, r.Frozen())

	err := r.OnAfterRecall(0, noop)
	assert.ErrorIs(t, err, core.ErrRegistryFrozen)
	assert.Len(t, r.Entries(AfterRecall), 1)

	r.Reset()
	assert.False(t, r.Frozen())
	assert.Empty(t, r.Entries(AfterRecall))
	require.NoError(t, r.OnAfterRecall(0, noop))
}

func TestRegistry_RegisterPluginPropagatesError(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	err := r.RegisterPlugin(PluginFunc{PluginName: "late", Fn: func(r *Registry) error {
		return r.OnAfterMemoriesRecalled(0, func(context.Context, *Context, string) error { return nil })
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRegistryFrozen)
	assert.Contains(t, err.Error(), "plugin late")
}
