package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shopping-assistant/internal/llm"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/tools"
	"shopping-assistant/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	MinSteps     = 1
	MaxSteps     = 5
	DefaultSteps = 2
)

// Turn outcomes, used as the chat_turns_total label
const (
	OutcomeCompleted = "completed"
	OutcomePaused    = "paused"
	OutcomeStepLimit = "step_limit"
	OutcomeError     = "error"
)

// Orchestrator runs one assistant turn: a bounded number of reasoning rounds,
// each of which may call tools.
type Orchestrator struct {
	reasoner     llm.Reasoner
	registry     *tools.Registry
	systemPrompt string
	maxSteps     int
	logger       *zap.Logger
}

// NewOrchestrator creates a new orchestrator. maxSteps is clamped to 1..5;
// zero selects the default.
func NewOrchestrator(reasoner llm.Reasoner, registry *tools.Registry, systemPrompt string, maxSteps int) *Orchestrator {
	switch {
	case maxSteps == 0:
		maxSteps = DefaultSteps
	case maxSteps < MinSteps:
		maxSteps = MinSteps
	case maxSteps > MaxSteps:
		maxSteps = MaxSteps
	}
	return &Orchestrator{
		reasoner:     reasoner,
		registry:     registry,
		systemPrompt: systemPrompt,
		maxSteps:     maxSteps,
		logger:       util.GetLogger(),
	}
}

// MaxSteps returns the round bound in effect
func (o *Orchestrator) MaxSteps() int {
	return o.maxSteps
}

// LastAssistantMessageIsCompleteWithToolCalls reports whether the history ends
// with an assistant message whose latest step called tools and every one of
// those calls has a result.
func LastAssistantMessageIsCompleteWithToolCalls(history []models.Message) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant {
		return false
	}
	calls := last.LastStepTools()
	if len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		if !c.State.Terminal() {
			return false
		}
	}
	return true
}

// RunTurn produces or continues the assistant message answering history. The
// returned message is valid even when err is non-nil and holds whatever was
// produced before the failure.
func (o *Orchestrator) RunTurn(ctx context.Context, history []models.Message, sink EventSink) (models.Message, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.RunTurn",
		attribute.Int("history_length", len(history)),
		attribute.Int("max_steps", o.maxSteps))
	defer span.End()

	out := newLockedSink(sink)
	prior := history

	var msg models.Message
	if LastAssistantMessageIsCompleteWithToolCalls(history) {
		msg = history[len(history)-1].Clone()
		prior = history[:len(history)-1]
	} else {
		msg = models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			CreatedAt: time.Now(),
		}
	}

	out.Emit(Event{Type: EventStart, MessageID: msg.ID})

	outcome := OutcomeStepLimit
	steps := 0
	for steps < o.maxSteps {
		steps++
		calls, err := o.runStep(ctx, prior, &msg, out)
		if err != nil {
			util.RecordError(span, err)
			util.ChatTurnsTotal.WithLabelValues(OutcomeError).Inc()
			util.ChatStepsPerTurn.Observe(float64(steps))
			out.Emit(Event{Type: EventError, ErrorText: err.Error()})
			o.logger.Error("Chat turn failed",
				zap.String("message_id", msg.ID),
				zap.Int("step", steps),
				zap.Error(err))
			return msg, fmt.Errorf("failed to run reasoning step: %w", err)
		}
		if len(calls) == 0 {
			outcome = OutcomeCompleted
			break
		}

		pending := o.runTools(ctx, &msg, calls, out)
		out.Emit(Event{Type: EventFinishStep})
		if pending {
			outcome = OutcomePaused
			break
		}
	}

	out.Emit(Event{Type: EventFinish, MessageID: msg.ID})

	util.ChatTurnsTotal.WithLabelValues(outcome).Inc()
	util.ChatStepsPerTurn.Observe(float64(steps))
	o.logger.Info("Chat turn finished",
		zap.String("message_id", msg.ID),
		zap.String("outcome", outcome),
		zap.Int("steps", steps))

	return msg, nil
}

// runStep streams one reasoning round into msg and returns its tool calls.
func (o *Orchestrator) runStep(ctx context.Context, prior []models.Message, msg *models.Message, out EventSink) ([]llm.ToolCall, error) {
	wire := toWire(o.systemPrompt, prior, *msg)

	msg.Parts = append(msg.Parts, models.Part{Type: models.PartTypeStepStart})
	out.Emit(Event{Type: EventStartStep})

	textIdx := -1
	callIDs := map[int]string{}
	appendText := func(s string) {
		if textIdx < 0 {
			msg.Parts = append(msg.Parts, models.Part{Type: models.PartTypeText})
			textIdx = len(msg.Parts) - 1
		}
		msg.Parts[textIdx].Text += s
		out.Emit(Event{Type: EventTextDelta, Delta: s})
	}

	var specs []llm.ToolSpec
	if o.registry != nil {
		specs = o.registry.Specs()
	}

	result, err := o.reasoner.Stream(ctx, wire, specs, func(d llm.Delta) {
		switch d.Kind {
		case llm.DeltaText:
			if d.Text != "" {
				appendText(d.Text)
			}
		case llm.DeltaToolCallStart:
			callIDs[d.Index] = d.ToolCallID
			out.Emit(Event{Type: EventToolInputStart, ToolCallID: d.ToolCallID, ToolName: d.ToolName})
		case llm.DeltaToolCallArgs:
			out.Emit(Event{Type: EventToolInputDelta, ToolCallID: callIDs[d.Index], InputTextDelta: d.Text})
		}
	})
	if err != nil {
		return nil, err
	}

	// Reasoners that do not stream text still report it on the result.
	if textIdx < 0 && result.Text != "" {
		appendText(result.Text)
	}

	if len(result.ToolCalls) == 0 {
		out.Emit(Event{Type: EventFinishStep})
	}
	return result.ToolCalls, nil
}

// runTools records every call as a part in invocation order, then executes
// the automatic ones concurrently. It reports whether a manual call is left
// waiting for the client.
func (o *Orchestrator) runTools(ctx context.Context, msg *models.Message, calls []llm.ToolCall, out EventSink) bool {
	type job struct {
		inv   *models.ToolInvocation
		tool  *tools.Tool
		input json.RawMessage
	}

	var jobs []job
	pending := false

	for _, call := range calls {
		id := call.ID
		if id == "" {
			id = "call_" + uuid.New().String()
		}
		inv := &models.ToolInvocation{ToolCallID: id, ToolName: call.Name}
		_ = inv.Advance(models.ToolStateInputAvailable)
		msg.Parts = append(msg.Parts, models.Part{Type: models.PartTypeTool, Tool: inv})

		var tool *tools.Tool
		var input json.RawMessage
		err := errors.New("no tools are registered")
		if o.registry != nil {
			tool, input, err = o.registry.PrepareInput(call.Name, json.RawMessage(call.Arguments))
		}
		if err != nil {
			inv.Input = rawOrString(call.Arguments)
			_ = inv.Fail(err.Error())
			util.ToolCallsTotal.WithLabelValues(call.Name, "invalid").Inc()
			out.Emit(Event{Type: EventToolInputAvailable, ToolCallID: id, ToolName: call.Name, Input: inv.Input})
			out.Emit(Event{Type: EventToolOutputError, ToolCallID: id, ErrorText: inv.ErrorText})
			continue
		}

		inv.Input = input
		out.Emit(Event{Type: EventToolInputAvailable, ToolCallID: id, ToolName: call.Name, Input: input})

		if tool.Kind == tools.Manual {
			pending = true
			continue
		}
		jobs = append(jobs, job{inv: inv, tool: tool, input: input})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			output, err := o.registry.Execute(gctx, j.tool, j.input, func(p json.RawMessage) {
				if j.inv.SetPreliminaryOutput(p) == nil {
					out.Emit(Event{Type: EventToolOutput, ToolCallID: j.inv.ToolCallID, Output: p, Preliminary: true})
				}
			})
			if err != nil {
				_ = j.inv.Fail(err.Error())
				out.Emit(Event{Type: EventToolOutputError, ToolCallID: j.inv.ToolCallID, ErrorText: j.inv.ErrorText})
				return nil
			}
			_ = j.inv.Resolve(output)
			out.Emit(Event{Type: EventToolOutput, ToolCallID: j.inv.ToolCallID, Output: output})
			return nil
		})
	}
	_ = g.Wait()

	return pending
}

// toWire converts the conversation into the reasoning model's format. Tool
// calls still waiting for a result are left out.
func toWire(systemPrompt string, prior []models.Message, current models.Message) []llm.Message {
	wire := make([]llm.Message, 0, len(prior)+2)
	if systemPrompt != "" {
		wire = append(wire, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}

	all := prior
	if len(current.Parts) > 0 {
		all = append(append([]models.Message(nil), prior...), current)
	}

	for _, m := range all {
		switch m.Role {
		case models.RoleUser:
			wire = append(wire, llm.Message{Role: llm.RoleUser, Content: m.Text()})
		case models.RoleAssistant:
			wire = append(wire, assistantToWire(m)...)
		}
	}
	return wire
}

func assistantToWire(m models.Message) []llm.Message {
	var wire []llm.Message
	var text string
	var calls []llm.ToolCall
	var results []llm.Message

	flush := func() {
		if text == "" && len(calls) == 0 {
			return
		}
		wire = append(wire, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})
		wire = append(wire, results...)
		text, calls, results = "", nil, nil
	}

	for _, p := range m.Parts {
		switch p.Type {
		case models.PartTypeStepStart:
			flush()
		case models.PartTypeText:
			text += p.Text
		case models.PartTypeTool:
			inv := p.Tool
			if inv == nil || !inv.State.Terminal() {
				continue
			}
			calls = append(calls, llm.ToolCall{ID: inv.ToolCallID, Name: inv.ToolName, Arguments: string(inv.Input)})
			content := string(inv.Output)
			if inv.State == models.ToolStateOutputError {
				content = "Error: " + inv.ErrorText
			}
			results = append(results, llm.Message{Role: llm.RoleTool, ToolCallID: inv.ToolCallID, Content: content})
		}
	}
	flush()
	return wire
}

func rawOrString(s string) json.RawMessage {
	if s != "" && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	data, _ := json.Marshal(s)
	return data
}
