// internal/workers/discovery/plan-strategy/models.go
package planstrategy

import "product-discovery-workers/internal/models"

type Input struct {
	Query        string              `json:"query"`
	IntentResult models.IntentResult `json:"intentResult"`
}

type Output struct {
	StrategyDecision models.StrategyDecision `json:"strategyDecision"`
}
