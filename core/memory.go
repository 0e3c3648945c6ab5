package core

import "time"

// Conventional collection names.
const (
	CollectionEpisodic    = "episodic"
	CollectionDeclarative = "declarative"
	CollectionProcedural  = "procedural"
)

// DefaultCollections is the collection set created when none is configured.
var DefaultCollections = []string{
	CollectionEpisodic,
	CollectionDeclarative,
	CollectionProcedural,
}

// Recall defaults applied when no before_recall hook overrides them.
const (
	DefaultRecallK         = 3
	DefaultRecallThreshold = 0.7
)

// MetadataSource is the metadata key scoping episodic memories to a user.
const MetadataSource = "source"

// MemoryPoint is a single recalled vector with its similarity score.
type MemoryPoint struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// Report converts the point to its client-facing form.
func (p MemoryPoint) Report() MemoryReport {
	return MemoryReport{
		ID:       p.ID,
		Score:    p.Score,
		Metadata: p.Metadata,
	}
}

// RecallParams holds the per-collection recall limits.
type RecallParams struct {
	K         int     `json:"k"`
	Threshold float64 `json:"threshold"`
}

// DefaultRecallParams returns the system default limits.
func DefaultRecallParams() RecallParams {
	return RecallParams{K: DefaultRecallK, Threshold: DefaultRecallThreshold}
}

// Validate checks k and threshold ranges.
func (p RecallParams) Validate() error {
	if p.K < 0 {
		return &ValidationError{Field: "k", Message: "k must not be negative"}
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return &ValidationError{Field: "threshold", Message: "threshold must be within [0, 1]"}
	}
	return nil
}

// Speaker roles for conversation turns.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Turn is one entry in a session's conversation history.
type Turn struct {
	Role    string    `json:"role"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}
