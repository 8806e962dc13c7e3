// Package tools holds the closed set of operations the assistant may call.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopping-assistant/internal/llm"
	"shopping-assistant/internal/util"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Kind says who produces a tool's output
type Kind int

const (
	// Automatic tools run on the server inside the turn
	Automatic Kind = iota
	// Manual tools pause the turn until the client supplies the output
	Manual
)

func (k Kind) String() string {
	if k == Manual {
		return "manual"
	}
	return "automatic"
}

// ProgressFunc receives a preliminary output before the final one
type ProgressFunc func(output any)

// ExecuteFunc runs an automatic tool against validated input
type ExecuteFunc func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (any, error)

// Tool is one callable operation
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Kind        Kind
	Execute     ExecuteFunc

	schema   *jsonschema.Schema
	defaults map[string]interface{}
}

// UnknownToolError is returned for a call to a tool that is not registered
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "Unknown tool: " + e.Name
}

// InputError is returned when a call's input fails decoding or schema validation
type InputError struct {
	Tool string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("Invalid input for tool %s: %v", e.Tool, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// Registry holds tools by name, in registration order
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry creates a registry and registers the given tools
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:  make(map[string]*Tool),
		logger: util.GetLogger(),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles the tool's input schema and adds it
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	if t.Kind == Automatic && t.Execute == nil {
		return fmt.Errorf("automatic tool %s has no executor", t.Name)
	}
	if len(t.InputSchema) == 0 {
		t.InputSchema = json.RawMessage(`{"type":"object"}`)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://shopping-assistant.local/tools/%s.schema.json", t.Name)
	if err := c.AddResource(schemaURL, bytes.NewReader(t.InputSchema)); err != nil {
		return fmt.Errorf("failed to load schema for tool %s: %w", t.Name, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %s: %w", t.Name, err)
	}
	t.schema = compiled

	defaults, err := schemaDefaults(t.InputSchema)
	if err != nil {
		return fmt.Errorf("failed to read defaults for tool %s: %w", t.Name, err)
	}
	t.defaults = defaults

	r.tools[t.Name] = &t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the named tool
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs declares every tool to the reasoning model
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return specs
}

// PrepareInput decodes raw arguments, applies schema defaults and validates
// the result. The returned JSON is what the executor and the transcript see.
func (r *Registry) PrepareInput(name string, raw json.RawMessage) (*Tool, json.RawMessage, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, nil, &UnknownToolError{Name: name}
	}

	args := map[string]interface{}{}
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return t, nil, &InputError{Tool: name, Err: fmt.Errorf("arguments are not a JSON object: %w", err)}
		}
	}
	for k, v := range t.defaults {
		if _, set := args[k]; !set {
			args[k] = v
		}
	}

	if err := t.schema.Validate(args); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			err = errors.New(describeValidation(verr))
		}
		return t, nil, &InputError{Tool: name, Err: err}
	}

	normalized, err := json.Marshal(args)
	if err != nil {
		return t, nil, &InputError{Tool: name, Err: err}
	}
	return t, normalized, nil
}

// Execute runs an automatic tool and marshals its output
func (r *Registry) Execute(ctx context.Context, t *Tool, input json.RawMessage, progress func(json.RawMessage)) (json.RawMessage, error) {
	ctx, span := util.StartSpan(ctx, "Registry.Execute", attribute.String("tool", t.Name))
	defer span.End()

	if t.Kind != Automatic {
		return nil, fmt.Errorf("tool %s is %s and cannot run on the server", t.Name, t.Kind)
	}

	start := time.Now()
	out, err := t.Execute(ctx, input, func(p any) {
		if progress == nil {
			return
		}
		data, mErr := json.Marshal(p)
		if mErr != nil {
			r.logger.Warn("Dropping unencodable progress output",
				zap.String("tool", t.Name),
				zap.Error(mErr))
			return
		}
		progress(data)
	})
	util.ToolExecutionLatency.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		util.RecordError(span, err)
		util.ToolCallsTotal.WithLabelValues(t.Name, "error").Inc()
		r.logger.Warn("Tool execution failed",
			zap.String("tool", t.Name),
			zap.Error(err))
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		util.ToolCallsTotal.WithLabelValues(t.Name, "error").Inc()
		return nil, fmt.Errorf("failed to encode output of tool %s: %w", t.Name, err)
	}
	util.ToolCallsTotal.WithLabelValues(t.Name, "success").Inc()
	return data, nil
}

func schemaDefaults(schema json.RawMessage) (map[string]interface{}, error) {
	var doc struct {
		Properties map[string]struct {
			Default interface{} `json:"default"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, err
	}
	defaults := make(map[string]interface{})
	for name, prop := range doc.Properties {
		if prop.Default != nil {
			defaults[name] = prop.Default
		}
	}
	return defaults, nil
}

// describeValidation flattens the schema error tree into "location: message"
// pairs, leaves only.
func describeValidation(err *jsonschema.ValidationError) string {
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(err)
	return strings.Join(msgs, "; ")
}
