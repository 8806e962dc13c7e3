// Package llm wraps the reasoning model behind two narrow interfaces: a
// streaming tool-calling Reasoner for the chat loop and a JSON Generator for
// structured side calls (enrichment, comparisons, follow-ups).
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Message roles in the model's wire format
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

var (
	ErrNoChoices   = errors.New("llm: model returned no choices")
	ErrInvalidJSON = errors.New("llm: invalid JSON from model")
)

// Message is one entry of the model conversation
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a function call requested by the model. Arguments is raw JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec declares a callable tool to the model
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// DeltaKind tags a streamed fragment
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaToolCallStart
	DeltaToolCallArgs
)

// Delta is one incremental fragment of a streamed model response
type Delta struct {
	Kind       DeltaKind
	Index      int
	Text       string
	ToolCallID string
	ToolName   string
}

// StepResult is the complete output of one reasoning round
type StepResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
}

// Reasoner runs one streamed reasoning round over the conversation
type Reasoner interface {
	Stream(ctx context.Context, messages []Message, tools []ToolSpec, onDelta func(Delta)) (StepResult, error)
}

// Generator produces a JSON document and decodes it into out
type Generator interface {
	GenerateJSON(ctx context.Context, system, prompt string, out interface{}) error
}
