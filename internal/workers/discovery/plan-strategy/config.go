// internal/workers/discovery/plan-strategy/config.go
package planstrategy

// Config carries the strategy policy. Keyword sets, the confidence
// threshold and the price trigger are tunable product policy, not fixed
// behavior.
type Config struct {
	ConfidenceThreshold float64
	RecencyKeywords     []string
	ComparisonKeywords  []string
	TopK                int

	// PriceConstraintCatalogOnly keeps a price constraint from widening
	// the plan to hybrid on its own: a purely budget-filtered query then
	// stays on the catalog, which is the only source with filterable
	// price fields. Off by default, so price widens to hybrid.
	PriceConstraintCatalogOnly bool
}

func LoadConfig() *Config {
	return &Config{
		ConfidenceThreshold: 0.6,
		RecencyKeywords: []string{
			"latest", "trending", "right now", "this year", "this month",
			"this week", "new release", "just released",
		},
		ComparisonKeywords: []string{
			"best", "top", "compare", "versus", " vs ", "better than",
			"cheapest", "highest rated",
		},
		TopK: 5,
	}
}
