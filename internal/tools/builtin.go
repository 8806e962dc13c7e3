package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"shopping-assistant/internal/catalog"
	"shopping-assistant/internal/models"
)

// Tool names
const (
	NameSearchProducts     = "searchProducts"
	NameCompareProducts    = "compareProducts"
	NameSuggestFollowups   = "suggestFollowups"
	NameAskForConfirmation = "askForConfirmation"
	NameGetLocation        = "getLocation"
)

// Search result states
const (
	SearchStateLoading = "loading"
	SearchStateReady   = "ready"
)

// Enricher augments search results. Implementations must be best effort.
type Enricher interface {
	Enhance(ctx context.Context, products []models.Product, query string) []models.Product
}

// Advisor answers comparison and follow-up requests
type Advisor interface {
	Compare(ctx context.Context, products []string, comparisonType string) (*models.Comparison, error)
	SuggestFollowups(ctx context.Context, query string, products []string) (*models.Followups, error)
}

// SearchOutput is both the preliminary and final output of searchProducts
type SearchOutput struct {
	State        string           `json:"state"`
	Products     []models.Product `json:"products,omitempty"`
	Query        string           `json:"query,omitempty"`
	TotalResults int              `json:"totalResults,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// ExecutionError wraps a tool failure with the text shown to the user
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

const searchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "What the shopper is looking for"},
    "maxResults": {"type": "integer", "minimum": 1, "maximum": 10, "default": 3, "description": "How many products to return"}
  },
  "required": ["query"]
}`

// SearchProducts finds catalog products. enricher may be nil.
func SearchProducts(searcher catalog.Searcher, enricher Enricher) Tool {
	return Tool{
		Name:        NameSearchProducts,
		Description: "Search the catalog for products matching the shopper's request.",
		InputSchema: json.RawMessage(searchSchema),
		Kind:        Automatic,
		Execute: func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (any, error) {
			var args struct {
				Query      string `json:"query"`
				MaxResults int    `json:"maxResults"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}

			progress(SearchOutput{State: SearchStateLoading})

			products, err := searcher.Search(ctx, args.Query, catalog.ClampResults(args.MaxResults))
			if err != nil {
				return nil, &ExecutionError{Message: "Error searching products", Err: err}
			}
			if len(products) == 0 {
				return SearchOutput{
					State:    SearchStateReady,
					Products: []models.Product{},
					Message:  fmt.Sprintf("No products found for %q", args.Query),
				}, nil
			}
			if enricher != nil {
				products = enricher.Enhance(ctx, products, args.Query)
			}
			return SearchOutput{
				State:        SearchStateReady,
				Products:     products,
				Query:        args.Query,
				TotalResults: len(products),
			}, nil
		},
	}
}

const compareSchema = `{
  "type": "object",
  "properties": {
    "products": {"type": "array", "items": {"type": "string"}, "minItems": 2, "description": "Names of the products to compare"},
    "comparisonType": {"type": "string", "default": "general", "description": "Aspect to focus on, e.g. price, quality, features"}
  },
  "required": ["products"]
}`

// CompareProducts weighs products against each other
func CompareProducts(advisor Advisor) Tool {
	return Tool{
		Name:        NameCompareProducts,
		Description: "Compare two or more products and recommend one.",
		InputSchema: json.RawMessage(compareSchema),
		Kind:        Automatic,
		Execute: func(ctx context.Context, input json.RawMessage, _ ProgressFunc) (any, error) {
			var args struct {
				Products       []string `json:"products"`
				ComparisonType string   `json:"comparisonType"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			cmp, err := advisor.Compare(ctx, args.Products, args.ComparisonType)
			if err != nil {
				return nil, &ExecutionError{Message: "Error comparing products", Err: err}
			}
			return map[string]interface{}{"comparison": cmp}, nil
		},
	}
}

const followupsSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The shopper's last search"},
    "products": {"type": "array", "items": {"type": "string"}, "description": "Names of the products shown"}
  },
  "required": ["query", "products"]
}`

// SuggestFollowups proposes next steps after a search
func SuggestFollowups(advisor Advisor) Tool {
	return Tool{
		Name:        NameSuggestFollowups,
		Description: "Suggest refinements, clarifying questions and alternative products after a search.",
		InputSchema: json.RawMessage(followupsSchema),
		Kind:        Automatic,
		Execute: func(ctx context.Context, input json.RawMessage, _ ProgressFunc) (any, error) {
			var args struct {
				Query    string   `json:"query"`
				Products []string `json:"products"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			f, err := advisor.SuggestFollowups(ctx, args.Query, args.Products)
			if err != nil {
				return nil, &ExecutionError{Message: "Error suggesting followups", Err: err}
			}
			return map[string]interface{}{"followups": f}, nil
		},
	}
}

// AskForConfirmation asks the shopper to confirm before acting
func AskForConfirmation() Tool {
	return Tool{
		Name:        NameAskForConfirmation,
		Description: "Ask the shopper for confirmation before proceeding.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string","description":"The question to confirm"}},"required":["message"]}`),
		Kind:        Manual,
	}
}

// GetLocation asks the client for the shopper's location
func GetLocation() Tool {
	return Tool{
		Name:        NameGetLocation,
		Description: "Get the shopper's location. Ask for confirmation before calling this.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Kind:        Manual,
	}
}

// NewDefaultRegistry registers every built-in tool
func NewDefaultRegistry(searcher catalog.Searcher, enricher Enricher, advisor Advisor) (*Registry, error) {
	return NewRegistry(
		SearchProducts(searcher, enricher),
		CompareProducts(advisor),
		SuggestFollowups(advisor),
		AskForConfirmation(),
		GetLocation(),
	)
}
