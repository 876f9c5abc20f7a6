// internal/workers/discovery/synthesize-answer/grounding.go
package synthesizeanswer

import (
	"fmt"
	"math"

	"product-discovery-workers/internal/models"
)

// answerSchema gates the generator's output before any of it is
// trusted. Shape violations are treated the same as grounding
// violations: the document is rejected, not repaired.
const answerSchema = `{
  "type": "object",
  "required": ["spokenSummary", "detailedAnalysis", "claims"],
  "properties": {
    "spokenSummary": {"type": "string", "minLength": 1},
    "detailedAnalysis": {"type": "string", "minLength": 1},
    "claims": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["text", "source", "sourceId"],
        "properties": {
          "text": {"type": "string", "minLength": 1},
          "source": {"type": "string", "enum": ["catalog", "web"]},
          "sourceId": {"type": "string", "minLength": 1},
          "field": {"type": "string", "enum": ["price", "rating"]},
          "value": {"type": "number"}
        }
      }
    }
  }
}`

type generatedClaim struct {
	Text     string            `json:"text"`
	Source   models.SourceKind `json:"source"`
	SourceID string            `json:"sourceId"`
	// Field and Value are set when the claim asserts a specific
	// numeric attribute that can be checked against retrieved data.
	Field string   `json:"field,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

type generatedAnswer struct {
	SpokenSummary    string           `json:"spokenSummary"`
	DetailedAnalysis string           `json:"detailedAnalysis"`
	Claims           []generatedClaim `json:"claims"`
}

// verifyClaims checks every claim against the retrieved candidates and
// returns one violation string per failure. An answer over non-empty
// data must carry at least one claim; an answer citing a source that
// was never retrieved, or asserting a price or rating the data does
// not hold, is ungrounded.
func verifyClaims(claims []generatedClaim, candidates []candidate) []string {
	byID := make(map[string]candidate)
	for _, c := range candidates {
		for _, cit := range c.Citations {
			byID[cit.SourceID] = c
		}
	}

	var violations []string
	if len(claims) == 0 && len(candidates) > 0 {
		violations = append(violations, "answer carries no verifiable claims over non-empty results")
		return violations
	}

	for _, claim := range claims {
		cand, ok := byID[claim.SourceID]
		if !ok {
			violations = append(violations,
				fmt.Sprintf("claim cites unknown source %q", claim.SourceID))
			continue
		}

		switch claim.Field {
		case "price":
			if cand.Price == nil {
				violations = append(violations,
					fmt.Sprintf("claim asserts a price for %q but no price was retrieved", claim.SourceID))
			} else if claim.Value == nil || math.Abs(*claim.Value-*cand.Price) > 0.01 {
				violations = append(violations,
					fmt.Sprintf("claim asserts price %s for %q but retrieved price is %.2f",
						formatValue(claim.Value), claim.SourceID, *cand.Price))
			}
		case "rating":
			if cand.Rating == nil {
				violations = append(violations,
					fmt.Sprintf("claim asserts a rating for %q but no rating was retrieved", claim.SourceID))
			} else if claim.Value == nil || math.Abs(*claim.Value-*cand.Rating) > 0.05 {
				violations = append(violations,
					fmt.Sprintf("claim asserts rating %s for %q but retrieved rating is %.1f",
						formatValue(claim.Value), claim.SourceID, *cand.Rating))
			}
		}
	}

	return violations
}

func formatValue(v *float64) string {
	if v == nil {
		return "<missing>"
	}
	return fmt.Sprintf("%.2f", *v)
}

// citationsFromClaims collects the distinct sources the verified
// answer actually relies on, in first-mention order.
func citationsFromClaims(claims []generatedClaim) []models.Citation {
	seen := make(map[string]bool)
	var out []models.Citation
	for _, claim := range claims {
		if seen[claim.SourceID] {
			continue
		}
		seen[claim.SourceID] = true
		out = append(out, models.Citation{Source: claim.Source, SourceID: claim.SourceID})
	}
	return out
}
