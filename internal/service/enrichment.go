package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"shopping-assistant/internal/llm"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"go.uber.org/zap"
)

const (
	maxLikes    = 3
	maxDislikes = 2
)

const enrichmentSystemPrompt = `You are a shopping analyst. For every product you are given, write a short badge and a review summary based on what shoppers typically say about products like it. Respond with JSON only.`

// ProductEnricher adds badges and review summaries to search results
type ProductEnricher struct {
	gen    llm.Generator
	logger *zap.Logger
}

// NewProductEnricher creates a new product enricher
func NewProductEnricher(gen llm.Generator) *ProductEnricher {
	return &ProductEnricher{
		gen:    gen,
		logger: util.GetLogger(),
	}
}

type productInsight struct {
	ID       string   `json:"id"`
	Index    *int     `json:"index"`
	Badge    string   `json:"badge"`
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

type insightResponse struct {
	Insights []productInsight `json:"insights"`
}

// Enhance returns a copy of products with badges and review summaries. It is
// best effort: on any generation error the input is returned unchanged.
func (e *ProductEnricher) Enhance(ctx context.Context, products []models.Product, query string) []models.Product {
	if len(products) == 0 || e.gen == nil {
		return products
	}

	ctx, span := util.StartSpan(ctx, "ProductEnricher.Enhance")
	defer span.End()

	keys := make([]string, len(products))
	for i, p := range products {
		keys[i] = productKey(i, p)
	}

	var resp insightResponse
	if err := e.gen.GenerateJSON(ctx, enrichmentSystemPrompt, buildEnrichmentPrompt(products, keys, query), &resp); err != nil {
		util.EnrichmentFailuresTotal.Inc()
		util.RecordError(span, err)
		e.logger.Warn("Product enrichment failed, returning plain results",
			zap.String("query", query),
			zap.Error(err))
		return products
	}

	byKey := make(map[string]int, len(keys))
	for i, k := range keys {
		byKey[k] = i
	}

	out := make([]models.Product, len(products))
	for i, p := range products {
		out[i] = p.Clone()
	}

	applied := 0
	for _, insight := range resp.Insights {
		idx, ok := byKey[insight.ID]
		if !ok && insight.Index != nil {
			idx, ok = *insight.Index, *insight.Index >= 0 && *insight.Index < len(out)
		}
		if !ok {
			continue
		}
		applyInsight(&out[idx], insight)
		applied++
	}

	e.logger.Debug("Products enriched",
		zap.String("query", query),
		zap.Int("products", len(products)),
		zap.Int("insights", applied))

	return out
}

func applyInsight(p *models.Product, insight productInsight) {
	if badge := strings.TrimSpace(insight.Badge); badge != "" {
		p.Badge = badge
	}
	likes := trimList(insight.Likes, maxLikes)
	dislikes := trimList(insight.Dislikes, maxDislikes)
	if len(likes) > 0 || len(dislikes) > 0 {
		p.ReviewSummary = &models.ReviewSummary{Likes: likes, Dislikes: dislikes}
	}
}

func trimList(items []string, max int) []string {
	out := make([]string, 0, max)
	for _, item := range items {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == max {
			break
		}
	}
	return out
}

// productKey is an opaque per-result id the model echoes back, so insights
// still land on the right product if the model reorders its answer.
func productKey(index int, p models.Product) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%s|%s", index, p.URL, p.Name)))
	return "p" + hex.EncodeToString(sum[:4])
}

func buildEnrichmentPrompt(products []models.Product, keys []string, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The shopper searched for %q. Products:\n", query)
	for i, p := range products {
		fmt.Fprintf(&b, "- id=%s index=%d name=%q price=%q rating=%q\n", keys[i], i, p.Name, p.Price, p.Rating)
	}
	b.WriteString(`
For each product return an entry echoing its id and index, with:
- "badge": a 2-3 word merchandising label such as ` + quotedList(models.SuggestedBadges) + `
- "likes": 2-3 short things buyers like
- "dislikes": 1-2 short things buyers dislike

Respond as {"insights":[{"id":"...","index":0,"badge":"...","likes":["..."],"dislikes":["..."]}]}`)
	return b.String()
}

// quotedList renders ["a","b","c"] as `"a", "b" or "c"`
func quotedList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	if len(quoted) < 2 {
		return strings.Join(quoted, "")
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
}
