// Package llm defines the reasoning collaborator of the pipeline and the
// prompt material shared by its implementations.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/becomeliminal/nim-runtime/core"
)

// DefaultSystemPrompt is used when a reasoner is configured without one.
const DefaultSystemPrompt = `You are a helpful assistant with a long term memory.
Use the recalled memories below when they are relevant to the user's message.
Never invent memories that are not listed.`

// Request is everything the reasoning stage hands to the model.
type Request struct {
	SessionID string
	UserID    string

	// Text is the incoming message text after on_message_received.
	Text string

	// History holds the turns of earlier runs, oldest first.
	History []core.Turn

	// Memories holds the points recalled in this run, per collection.
	Memories map[string][]core.MemoryPoint

	// Collections gives the order in which Memories are presented.
	Collections []string
}

// Result is the model's answer.
type Result struct {
	Output string
	Steps  []core.Step
}

// Reasoner turns a request into an answer. It is an external collaborator;
// implementations live in sub-packages.
type Reasoner interface {
	Reason(ctx context.Context, req *Request) (*Result, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, req *Request) (*Result, error)

// Reason calls f.
func (f ReasonerFunc) Reason(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}

// Echo answers with the message text. Used when no model is configured.
type Echo struct{}

// Reason returns the request text.
func (Echo) Reason(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{Output: req.Text}, nil
}

// FormatMemories renders recalled memories as a system prompt section.
// It returns "" when nothing was recalled.
func FormatMemories(req *Request) string {
	var b strings.Builder
	for _, name := range req.Collections {
		points := req.Memories[name]
		if len(points) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("## Recalled memories\n")
		}
		fmt.Fprintf(&b, "\n### %s\n", name)
		for _, p := range points {
			fmt.Fprintf(&b, "- %s (score %.2f)\n", memoryText(p), p.Score)
		}
	}
	return b.String()
}

// SystemPrompt appends the memory section to base (DefaultSystemPrompt when
// base is empty).
func SystemPrompt(base string, req *Request) string {
	if base == "" {
		base = DefaultSystemPrompt
	}
	if memories := FormatMemories(req); memories != "" {
		return base + "\n\n" + memories
	}
	return base
}

func memoryText(p core.MemoryPoint) string {
	if text, ok := p.Metadata["text"].(string); ok && text != "" {
		return text
	}
	return p.ID
}
