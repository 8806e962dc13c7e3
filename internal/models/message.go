package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types
const (
	PartTypeText      = "text"
	PartTypeStepStart = "step-start"
	PartTypeTool      = "tool"
)

// ToolState is the lifecycle state of a single tool invocation
type ToolState string

// Tool invocation states, in lifecycle order
const (
	ToolStateInputStreaming  ToolState = "input-streaming"
	ToolStateInputAvailable  ToolState = "input-available"
	ToolStateOutputAvailable ToolState = "output-available"
	ToolStateOutputError     ToolState = "output-error"
)

// ErrInvalidToolTransition is returned when a tool invocation would regress or
// leave a terminal state.
var ErrInvalidToolTransition = errors.New("invalid tool invocation transition")

func (s ToolState) rank() int {
	switch s {
	case ToolStateInputStreaming:
		return 0
	case ToolStateInputAvailable:
		return 1
	case ToolStateOutputAvailable, ToolStateOutputError:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the state is output-available or output-error
func (s ToolState) Terminal() bool {
	return s == ToolStateOutputAvailable || s == ToolStateOutputError
}

// Message is one turn of a conversation
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// Part is a single ordered element of a message
type Part struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Tool *ToolInvocation `json:"tool,omitempty"`
}

// ToolInvocation is a structured tool call and, once resolved, its result
type ToolInvocation struct {
	ToolCallID  string          `json:"toolCallId"`
	ToolName    string          `json:"toolName"`
	State       ToolState       `json:"state"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	ErrorText   string          `json:"errorText,omitempty"`
	Preliminary bool            `json:"preliminary,omitempty"`
}

// Advance moves the invocation to next. Transitions are monotonic and a
// terminal state is final; skipping input-streaming is allowed.
func (t *ToolInvocation) Advance(next ToolState) error {
	if next.rank() < 0 {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidToolTransition, next)
	}
	if t.State == "" {
		t.State = next
		return nil
	}
	if t.State.Terminal() || next.rank() < t.State.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidToolTransition, t.State, next)
	}
	t.State = next
	return nil
}

// SetPreliminaryOutput records a progress output without leaving input-available
func (t *ToolInvocation) SetPreliminaryOutput(out json.RawMessage) error {
	if t.State.Terminal() {
		return fmt.Errorf("%w: preliminary output after %s", ErrInvalidToolTransition, t.State)
	}
	if err := t.Advance(ToolStateInputAvailable); err != nil {
		return err
	}
	t.Output = out
	t.Preliminary = true
	return nil
}

// Resolve sets the final output and moves to output-available
func (t *ToolInvocation) Resolve(out json.RawMessage) error {
	if err := t.Advance(ToolStateOutputAvailable); err != nil {
		return err
	}
	t.Output = out
	t.Preliminary = false
	return nil
}

// Fail records an error and moves to output-error
func (t *ToolInvocation) Fail(errText string) error {
	if err := t.Advance(ToolStateOutputError); err != nil {
		return err
	}
	t.ErrorText = errText
	t.Output = nil
	t.Preliminary = false
	return nil
}

// Clone returns a deep copy of the invocation
func (t *ToolInvocation) Clone() *ToolInvocation {
	if t == nil {
		return nil
	}
	out := *t
	out.Input = append(json.RawMessage(nil), t.Input...)
	out.Output = append(json.RawMessage(nil), t.Output...)
	return &out
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	out := m
	out.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		out.Parts[i] = Part{Type: p.Type, Text: p.Text, Tool: p.Tool.Clone()}
	}
	return out
}

// Text concatenates the text parts of the message
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FindTool returns the invocation with the given call id, or nil
func (m *Message) FindTool(toolCallID string) *ToolInvocation {
	for i := range m.Parts {
		if t := m.Parts[i].Tool; t != nil && t.ToolCallID == toolCallID {
			return t
		}
	}
	return nil
}

// LastStepTools returns the tool invocations that follow the last step-start part
func (m Message) LastStepTools() []*ToolInvocation {
	start := 0
	for i, p := range m.Parts {
		if p.Type == PartTypeStepStart {
			start = i + 1
		}
	}
	var tools []*ToolInvocation
	for _, p := range m.Parts[start:] {
		if p.Type == PartTypeTool && p.Tool != nil {
			tools = append(tools, p.Tool)
		}
	}
	return tools
}
