package service

import (
	"context"
	"fmt"
	"strings"

	"shopping-assistant/internal/llm"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"go.uber.org/zap"
)

const advisorSystemPrompt = `You are an impartial shopping advisor. Answer with JSON only, using the exact shape requested.`

// ProductAdvisor produces comparisons and follow-up suggestions
type ProductAdvisor struct {
	gen    llm.Generator
	logger *zap.Logger
}

// NewProductAdvisor creates a new product advisor
func NewProductAdvisor(gen llm.Generator) *ProductAdvisor {
	return &ProductAdvisor{
		gen:    gen,
		logger: util.GetLogger(),
	}
}

// Compare weighs the named products against each other
func (a *ProductAdvisor) Compare(ctx context.Context, products []string, comparisonType string) (*models.Comparison, error) {
	ctx, span := util.StartSpan(ctx, "ProductAdvisor.Compare")
	defer span.End()

	if comparisonType == "" {
		comparisonType = "general"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Compare these products (comparison focus: %s):\n", comparisonType)
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	b.WriteString(`
Respond as {"comparison":{"summary":"...","categories":[{"name":"...","winner":"<product>","explanation":"..."}],"recommendation":"..."}} with 3-5 categories.`)

	var resp struct {
		Comparison models.Comparison `json:"comparison"`
	}
	if err := a.gen.GenerateJSON(ctx, advisorSystemPrompt, b.String(), &resp); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to compare products: %w", err)
	}
	if resp.Comparison.Categories == nil {
		resp.Comparison.Categories = []models.ComparisonCategory{}
	}

	a.logger.Debug("Products compared",
		zap.Int("products", len(products)),
		zap.String("comparison_type", comparisonType))
	return &resp.Comparison, nil
}

// SuggestFollowups proposes refinements, questions and alternatives
func (a *ProductAdvisor) SuggestFollowups(ctx context.Context, query string, products []string) (*models.Followups, error) {
	ctx, span := util.StartSpan(ctx, "ProductAdvisor.SuggestFollowups")
	defer span.End()

	var b strings.Builder
	fmt.Fprintf(&b, "The shopper searched for %q and was shown:\n", query)
	for _, p := range products {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString(`
Suggest what they could do next. Respond as {"followups":{"refinements":["narrower searches"],"questions":["questions to ask the shopper"],"alternatives":["related product types"]}} with 2-3 items each.`)

	var resp struct {
		Followups models.Followups `json:"followups"`
	}
	if err := a.gen.GenerateJSON(ctx, advisorSystemPrompt, b.String(), &resp); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to suggest followups: %w", err)
	}

	f := resp.Followups
	if f.Refinements == nil {
		f.Refinements = []string{}
	}
	if f.Questions == nil {
		f.Questions = []string{}
	}
	if f.Alternatives == nil {
		f.Alternatives = []string{}
	}
	return &f, nil
}
