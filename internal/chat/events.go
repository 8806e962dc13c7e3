// Package chat runs conversation turns: the bounded reasoning/tool loop and
// the in-memory sessions that feed it.
package chat

import (
	"encoding/json"
	"sync"
)

// Stream event types
const (
	EventStart              = "start"
	EventStartStep          = "start-step"
	EventTextDelta          = "text-delta"
	EventToolInputStart     = "tool-input-start"
	EventToolInputDelta     = "tool-input-delta"
	EventToolInputAvailable = "tool-input-available"
	EventToolOutput         = "tool-output-available"
	EventToolOutputError    = "tool-output-error"
	EventFinishStep         = "finish-step"
	EventFinish             = "finish"
	EventError              = "error"
)

// Event is one incremental update of an assistant message
type Event struct {
	Type           string          `json:"type"`
	MessageID      string          `json:"messageId,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	ToolCallID     string          `json:"toolCallId,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	InputTextDelta string          `json:"inputTextDelta,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Preliminary    bool            `json:"preliminary,omitempty"`
	ErrorText      string          `json:"errorText,omitempty"`
}

// EventSink receives the events of a turn in order
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(Event)

// Emit calls f
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard EventSink = SinkFunc(func(Event) {})

// lockedSink serializes emits coming from concurrently running tools
type lockedSink struct {
	mu   sync.Mutex
	next EventSink
}

func (s *lockedSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.Emit(e)
}

func newLockedSink(next EventSink) *lockedSink {
	if next == nil {
		next = Discard
	}
	return &lockedSink{next: next}
}
