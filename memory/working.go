package memory

import (
	"sort"
	"sync"

	"github.com/becomeliminal/nim-runtime/core"
)

// Reserved working memory keys.
const (
	KeyHistory     = "history"
	KeyMemoryQuery = "memory_query"
)

// RecalledKey returns the working memory key holding the last recall of a
// collection, e.g. "episodic_memories".
func RecalledKey(collection string) string {
	return collection + "_memories"
}

// WorkingMemory is per-session mutable state. Reserved keys are history,
// memory_query and one <collection>_memories key per collection; hooks may
// add any other key.
type WorkingMemory struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewWorkingMemory returns a working memory with an empty history.
func NewWorkingMemory() *WorkingMemory {
	return &WorkingMemory{
		values: map[string]any{
			KeyHistory: []core.Turn{},
		},
	}
}

// Get returns the value stored under key.
func (w *WorkingMemory) Get(key string) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.values[key]
	return v, ok
}

// Set stores value under key.
func (w *WorkingMemory) Set(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[key] = value
}

// Delete removes key.
func (w *WorkingMemory) Delete(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.values, key)
}

// Keys returns all keys in sorted order.
func (w *WorkingMemory) Keys() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	keys := make([]string, 0, len(w.values))
	for k := range w.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// History returns a copy of the conversation history.
func (w *WorkingMemory) History() []core.Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	turns, _ := w.values[KeyHistory].([]core.Turn)
	return append([]core.Turn{}, turns...)
}

// AppendHistory adds a turn to the end of the history.
func (w *WorkingMemory) AppendHistory(turn core.Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	turns, _ := w.values[KeyHistory].([]core.Turn)
	next := make([]core.Turn, len(turns), len(turns)+1)
	copy(next, turns)
	w.values[KeyHistory] = append(next, turn)
}

// ClearHistory resets history to an empty sequence. Other keys are untouched.
func (w *WorkingMemory) ClearHistory() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[KeyHistory] = []core.Turn{}
}

// MemoryQuery returns the last recall query text.
func (w *WorkingMemory) MemoryQuery() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	q, _ := w.values[KeyMemoryQuery].(string)
	return q
}

// SetMemoryQuery stores the recall query text.
func (w *WorkingMemory) SetMemoryQuery(query string) {
	w.Set(KeyMemoryQuery, query)
}

// Recalled returns the points recalled from a collection in the last run.
func (w *WorkingMemory) Recalled(collection string) []core.MemoryPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	points, _ := w.values[RecalledKey(collection)].([]core.MemoryPoint)
	return append([]core.MemoryPoint{}, points...)
}

// SetRecalled overwrites the recalled points of a collection.
func (w *WorkingMemory) SetRecalled(collection string, points []core.MemoryPoint) {
	w.Set(RecalledKey(collection), append([]core.MemoryPoint{}, points...))
}

// Clone returns an independent copy. Reserved sequences are copied; other
// values are shared.
func (w *WorkingMemory) Clone() *WorkingMemory {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := &WorkingMemory{values: make(map[string]any, len(w.values))}
	for k, v := range w.values {
		switch typed := v.(type) {
		case []core.Turn:
			out.values[k] = append([]core.Turn{}, typed...)
		case []core.MemoryPoint:
			out.values[k] = append([]core.MemoryPoint{}, typed...)
		default:
			out.values[k] = v
		}
	}
	return out
}

// replace commits the contents of other into w.
func (w *WorkingMemory) replace(other *WorkingMemory) {
	other.mu.RLock()
	values := other.values
	other.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = values
}
