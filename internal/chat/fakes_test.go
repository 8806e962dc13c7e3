package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"shopping-assistant/internal/llm"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/tools"

	"github.com/stretchr/testify/require"
)

// scriptedReasoner replays one step per call; once the script runs out it
// repeats the last step.
type scriptedReasoner struct {
	mu    sync.Mutex
	steps []llm.StepResult
	err   error
	calls [][]llm.Message
}

func (r *scriptedReasoner) Stream(_ context.Context, messages []llm.Message, _ []llm.ToolSpec, onDelta func(llm.Delta)) (llm.StepResult, error) {
	r.mu.Lock()
	idx := len(r.calls)
	r.calls = append(r.calls, messages)
	r.mu.Unlock()

	if r.err != nil {
		return llm.StepResult{}, r.err
	}
	if idx >= len(r.steps) {
		idx = len(r.steps) - 1
	}
	step := r.steps[idx]
	if step.Text != "" {
		onDelta(llm.Delta{Kind: llm.DeltaText, Text: step.Text})
	}
	for i, c := range step.ToolCalls {
		onDelta(llm.Delta{Kind: llm.DeltaToolCallStart, Index: i, ToolCallID: c.ID, ToolName: c.Name})
		onDelta(llm.Delta{Kind: llm.DeltaToolCallArgs, Index: i, Text: c.Arguments})
	}
	return step, nil
}

func (r *scriptedReasoner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) forTool(id string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.ToolCallID == id {
			out = append(out, e)
		}
	}
	return out
}

type fakeSearcher struct {
	products []models.Product
	err      error
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]models.Product, error) {
	return f.products, f.err
}

type fakeAdvisor struct{}

func (fakeAdvisor) Compare(_ context.Context, products []string, _ string) (*models.Comparison, error) {
	return &models.Comparison{Recommendation: products[0]}, nil
}

func (fakeAdvisor) SuggestFollowups(context.Context, string, []string) (*models.Followups, error) {
	return &models.Followups{}, nil
}

func testRegistry(t *testing.T, searcher *fakeSearcher) *tools.Registry {
	t.Helper()
	r, err := tools.NewDefaultRegistry(searcher, nil, fakeAdvisor{})
	require.NoError(t, err)
	return r
}

func userMsg(text string) models.Message {
	return models.Message{ID: "u-" + text, Role: models.RoleUser, Parts: []models.Part{{Type: models.PartTypeText, Text: text}}}
}

func searchCall(id, query string) llm.ToolCall {
	args, _ := json.Marshal(map[string]string{"query": query})
	return llm.ToolCall{ID: id, Name: tools.NameSearchProducts, Arguments: string(args)}
}
