package service

import (
	"context"
	"encoding/json"
	"strings"
)

// scriptedGenerator decodes a canned JSON body, or fails with err
type scriptedGenerator struct {
	body    string
	err     error
	prompts []string
}

func (g *scriptedGenerator) GenerateJSON(_ context.Context, _ string, prompt string, out interface{}) error {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return g.err
	}
	return json.NewDecoder(strings.NewReader(g.body)).Decode(out)
}
