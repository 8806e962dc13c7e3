package models

// Sentinels for product fields that could not be extracted. Consumers branch
// on these values, so they must never be replaced by empty strings.
const (
	NameNotFound       = "Product name not found"
	PriceNotAvailable  = "Price not available"
	ImageNotFound      = "Image not found"
	RatingNotAvailable = "Rating not available"
	URLNotFound        = "URL not found"
)

// Merchandising labels suggested to the enrichment step. The set is open; the
// model may return others.
const (
	BadgeBestOverall = "Best Overall"
	BadgeBestBudget  = "Best Budget"
	BadgeGreatValue  = "Great Value"
	BadgeTopChoice   = "Top Choice"
	BadgeMostDurable = "Most Durable"
	BadgePremiumPick = "Premium Pick"
)

// SuggestedBadges lists the merchandising labels in prompt order
var SuggestedBadges = []string{
	BadgeBestOverall,
	BadgeBestBudget,
	BadgeGreatValue,
	BadgeTopChoice,
	BadgeMostDurable,
	BadgePremiumPick,
}

// Product is one normalized catalog search result
type Product struct {
	ID            string         `json:"id,omitempty"`
	Name          string         `json:"name"`
	Price         string         `json:"price"`
	ImageURL      string         `json:"imageUrl"`
	Rating        string         `json:"rating"`
	URL           string         `json:"url"`
	Badge         string         `json:"badge,omitempty"`
	ReviewSummary *ReviewSummary `json:"reviewSummary,omitempty"`
}

// ReviewSummary holds generated likes and dislikes for a product
type ReviewSummary struct {
	Likes    []string `json:"likes"`
	Dislikes []string `json:"dislikes"`
}

// NewProduct returns a product with every field set to its sentinel
func NewProduct() Product {
	return Product{
		Name:     NameNotFound,
		Price:    PriceNotAvailable,
		ImageURL: ImageNotFound,
		Rating:   RatingNotAvailable,
		URL:      URLNotFound,
	}
}

// Clone returns a deep copy of the product
func (p Product) Clone() Product {
	out := p
	if p.ReviewSummary != nil {
		rs := ReviewSummary{
			Likes:    append([]string(nil), p.ReviewSummary.Likes...),
			Dislikes: append([]string(nil), p.ReviewSummary.Dislikes...),
		}
		out.ReviewSummary = &rs
	}
	return out
}
