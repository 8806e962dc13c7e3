package models

// Comparison is the structured result of comparing several products
type Comparison struct {
	Summary        string               `json:"summary"`
	Categories     []ComparisonCategory `json:"categories"`
	Recommendation string               `json:"recommendation"`
}

// ComparisonCategory names the winner of one comparison dimension
type ComparisonCategory struct {
	Name        string `json:"name"`
	Winner      string `json:"winner"`
	Explanation string `json:"explanation"`
}

// Followups are suggested next steps after a search
type Followups struct {
	Refinements  []string `json:"refinements"`
	Questions    []string `json:"questions"`
	Alternatives []string `json:"alternatives"`
}
