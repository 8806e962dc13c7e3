package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"shopping-assistant/internal/util"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const jsonAttempts = 3

// OpenAIClient implements Reasoner and Generator on the chat completions API
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient creates a client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: util.GetLogger(),
	}, nil
}

// Model returns the configured model name
func (o *OpenAIClient) Model() string {
	return o.model
}

// Stream runs one reasoning round, forwarding text and tool-call fragments
// to onDelta as they arrive.
func (o *OpenAIClient) Stream(ctx context.Context, messages []Message, tools []ToolSpec, onDelta func(Delta)) (StepResult, error) {
	ctx, span := util.StartSpan(ctx, "OpenAIClient.Stream", attribute.String("model", o.model))
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
		Stream:   true,
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		util.RecordError(span, err)
		return StepResult{}, fmt.Errorf("OpenAI stream failed: %w", err)
	}
	defer stream.Close()

	acc := newStreamAccumulator(onDelta)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			util.RecordError(span, err)
			return acc.result(), fmt.Errorf("OpenAI stream receive failed: %w", err)
		}
		acc.add(resp)
	}

	result := acc.result()
	o.logger.Debug("OpenAI round finished",
		zap.String("finish_reason", result.FinishReason),
		zap.Int("tool_calls", len(result.ToolCalls)))
	return result, nil
}

// GenerateJSON requests a JSON object response and decodes it into out
func (o *OpenAIClient) GenerateJSON(ctx context.Context, system, prompt string, out interface{}) error {
	ctx, span := util.StartSpan(ctx, "OpenAIClient.GenerateJSON", attribute.String("model", o.model))
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var lastErr error
	for attempt := 0; attempt < jsonAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(300*(1<<attempt)) * time.Millisecond):
			}
		}

		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("OpenAI API call failed: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = ErrNoChoices
			continue
		}
		if err := decodeJSONContent(resp.Choices[0].Message.Content, out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	util.RecordError(span, lastErr)
	o.logger.Warn("OpenAI JSON generation failed", zap.Error(lastErr))
	return lastErr
}

// decodeJSONContent tolerates models that wrap JSON in a markdown fence
func decodeJSONContent(content string, out interface{}) error {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// streamAccumulator rebuilds a StepResult from streamed chunks
type streamAccumulator struct {
	onDelta func(Delta)
	text    strings.Builder
	calls   map[int]*ToolCall
	finish  string
}

func newStreamAccumulator(onDelta func(Delta)) *streamAccumulator {
	if onDelta == nil {
		onDelta = func(Delta) {}
	}
	return &streamAccumulator{onDelta: onDelta, calls: map[int]*ToolCall{}}
}

func (a *streamAccumulator) add(resp openai.ChatCompletionStreamResponse) {
	if len(resp.Choices) == 0 {
		return
	}
	choice := resp.Choices[0]

	if choice.Delta.Content != "" {
		a.text.WriteString(choice.Delta.Content)
		a.onDelta(Delta{Kind: DeltaText, Text: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := len(a.calls)
		if tc.Index != nil {
			idx = *tc.Index
		}
		call, ok := a.calls[idx]
		if !ok {
			call = &ToolCall{ID: tc.ID, Name: tc.Function.Name}
			a.calls[idx] = call
			a.onDelta(Delta{Kind: DeltaToolCallStart, Index: idx, ToolCallID: call.ID, ToolName: call.Name})
		} else {
			if call.ID == "" {
				call.ID = tc.ID
			}
			if call.Name == "" {
				call.Name = tc.Function.Name
			}
		}
		if tc.Function.Arguments != "" {
			call.Arguments += tc.Function.Arguments
			a.onDelta(Delta{Kind: DeltaToolCallArgs, Index: idx, ToolCallID: call.ID, Text: tc.Function.Arguments})
		}
	}

	if choice.FinishReason != "" {
		a.finish = string(choice.FinishReason)
	}
}

func (a *streamAccumulator) result() StepResult {
	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		calls = append(calls, *a.calls[idx])
	}
	return StepResult{Text: a.text.String(), ToolCalls: calls, FinishReason: a.finish}
}
