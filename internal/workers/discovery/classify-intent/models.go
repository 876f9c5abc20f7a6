// internal/workers/discovery/classify-intent/models.go
package classifyintent

import "product-discovery-workers/internal/models"

type Input struct {
	Query   string                 `json:"query"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type Output struct {
	IntentResult models.IntentResult `json:"intentResult"`
}
