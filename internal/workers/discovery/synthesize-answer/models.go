// internal/workers/discovery/synthesize-answer/models.go
package synthesizeanswer

import (
	"product-discovery-workers/internal/models"
)

// Input carries everything the final stage needs: the original query,
// the classified intent, the executed plan and its result sets, and
// any degradation warnings accumulated upstream.
type Input struct {
	Query            string                  `json:"query"`
	IntentResult     models.IntentResult     `json:"intentResult"`
	StrategyDecision models.StrategyDecision `json:"strategyDecision"`
	ResultSets       []models.ResultSet      `json:"resultSets"`
	Warnings         []string                `json:"warnings,omitempty"`
}

type Output struct {
	Answer models.Answer `json:"answer"`
}

// candidate is a merged, rankable item. Items deduplicated across
// backends keep one citation per contributing source.
type candidate struct {
	models.RetrievedItem
	Citations []models.Citation
}
