// internal/workers/discovery/execute-retrieval/models.go
package executeretrieval

import (
	"product-discovery-workers/internal/models"
)

// Input carries the planned retrieval strategy for this request.
type Input struct {
	StrategyDecision models.StrategyDecision `json:"strategyDecision"`
}

// Output carries one result set per planned call, in plan order, plus
// any degradation warnings accumulated while executing the plan.
type Output struct {
	ResultSets []models.ResultSet `json:"resultSets"`
	Warnings   []string           `json:"warnings,omitempty"`
}
