// internal/workers/discovery/synthesize-answer/grounding_test.go
package synthesizeanswer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-discovery-workers/internal/models"
)

func testCandidates() []candidate {
	return []candidate{
		{
			RetrievedItem: models.RetrievedItem{
				Source:   models.SourceCatalog,
				SourceID: "p-1",
				Title:    "Wooden Block Set",
				Price:    fptr(19.99),
				Rating:   fptr(4.5),
			},
			Citations: []models.Citation{{Source: models.SourceCatalog, SourceID: "p-1"}},
		},
		{
			RetrievedItem: models.RetrievedItem{
				Source:   models.SourceWeb,
				SourceID: "https://www.amazon.com/dp/B000TEST01",
				Title:    "Magnetic Tiles",
			},
			Citations: []models.Citation{{Source: models.SourceWeb, SourceID: "https://www.amazon.com/dp/B000TEST01"}},
		},
	}
}

func TestVerifyClaims(t *testing.T) {
	tests := []struct {
		name           string
		claims         []generatedClaim
		wantViolations int
	}{
		{
			name: "all claims verified",
			claims: []generatedClaim{
				{Text: "costs $19.99", Source: models.SourceCatalog, SourceID: "p-1", Field: "price", Value: fptr(19.99)},
				{Text: "rated 4.5", Source: models.SourceCatalog, SourceID: "p-1", Field: "rating", Value: fptr(4.5)},
				{Text: "popular pick", Source: models.SourceWeb, SourceID: "https://www.amazon.com/dp/B000TEST01"},
			},
			wantViolations: 0,
		},
		{
			name: "unknown source rejected",
			claims: []generatedClaim{
				{Text: "great toy", Source: models.SourceCatalog, SourceID: "p-404"},
			},
			wantViolations: 1,
		},
		{
			name: "wrong price rejected",
			claims: []generatedClaim{
				{Text: "costs $9.99", Source: models.SourceCatalog, SourceID: "p-1", Field: "price", Value: fptr(9.99)},
			},
			wantViolations: 1,
		},
		{
			name: "price claim without retrieved price rejected",
			claims: []generatedClaim{
				{Text: "costs $25", Source: models.SourceWeb, SourceID: "https://www.amazon.com/dp/B000TEST01", Field: "price", Value: fptr(25)},
			},
			wantViolations: 1,
		},
		{
			name: "price claim missing value rejected",
			claims: []generatedClaim{
				{Text: "costs something", Source: models.SourceCatalog, SourceID: "p-1", Field: "price"},
			},
			wantViolations: 1,
		},
		{
			name: "rounding tolerance accepted",
			claims: []generatedClaim{
				{Text: "costs about $19.99", Source: models.SourceCatalog, SourceID: "p-1", Field: "price", Value: fptr(19.985)},
			},
			wantViolations: 0,
		},
		{
			name:           "no claims over non-empty results rejected",
			claims:         nil,
			wantViolations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := verifyClaims(tt.claims, testCandidates())
			assert.Len(t, violations, tt.wantViolations)
		})
	}
}

func TestVerifyClaims_NoCandidatesNoClaims(t *testing.T) {
	assert.Empty(t, verifyClaims(nil, nil))
}

func TestCitationsFromClaims_DedupedInOrder(t *testing.T) {
	claims := []generatedClaim{
		{Text: "a", Source: models.SourceCatalog, SourceID: "p-1"},
		{Text: "b", Source: models.SourceWeb, SourceID: "w-1"},
		{Text: "c", Source: models.SourceCatalog, SourceID: "p-1"},
	}

	citations := citationsFromClaims(claims)

	require.Len(t, citations, 2)
	assert.Equal(t, "p-1", citations[0].SourceID)
	assert.Equal(t, "w-1", citations[1].SourceID)
}
