// Package memory provides the agent's two memories: a shared vector memory
// organised into named collections, and a per-session working memory.
//
// Architecture:
//   - Index: opaque nearest-neighbour service (chromem-go locally)
//   - Embedder: text-to-vector conversion (mock, ONNX, OpenAI, cached)
//   - VectorMemory: collection registry, recall with threshold and metadata
//     filter, point deletion and wipe, gated by bootstrap
//   - Recaller: the per-run recall over every collection
//   - WorkingMemory / Session: per-conversation state, one writer at a time
//
// Concurrency:
//   - Recall and Add take a collection's read lock and run in parallel.
//   - DeletePoint and WipeCollection take its write lock.
//   - A wiped collection stays stale until Bootstrap; recall against a stale
//     collection waits for it (bounded by ctx) instead of reading a half
//     reset store.
package memory
