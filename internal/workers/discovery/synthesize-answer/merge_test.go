// internal/workers/discovery/synthesize-answer/merge_test.go
package synthesizeanswer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-discovery-workers/internal/models"
)

func fptr(v float64) *float64 { return &v }

func catalogItem(id, title string, price, rating *float64, score float64) models.RetrievedItem {
	return models.RetrievedItem{
		Source:   models.SourceCatalog,
		SourceID: id,
		Title:    title,
		Price:    price,
		Rating:   rating,
		Score:    score,
	}
}

func webItem(url, title string, price *float64, score float64) models.RetrievedItem {
	return models.RetrievedItem{
		Source:   models.SourceWeb,
		SourceID: url,
		Title:    title,
		Price:    price,
		Score:    score,
	}
}

func TestMergeResultSets_DeduplicatesAcrossBackends(t *testing.T) {
	sets := []models.ResultSet{
		{
			Backend: models.BackendCatalog,
			Status:  models.StatusOK,
			Items: []models.RetrievedItem{
				catalogItem("p-1", "Wooden Block Set", fptr(19.99), fptr(4.5), 0.9),
				catalogItem("p-2", "Stacking Rings", fptr(12.50), fptr(4.2), 0.8),
			},
		},
		{
			Backend: models.BackendWeb,
			Status:  models.StatusOK,
			Items: []models.RetrievedItem{
				webItem("https://www.amazon.com/dp/B000TEST01", "Wooden Block Set!", fptr(24.99), 0.7),
				webItem("https://www.walmart.com/ip/998877", "Magnetic Tiles", fptr(29.99), 0.6),
			},
		},
	}

	merged := mergeResultSets(sets)

	require.Len(t, merged, 3)

	blocks := merged[0]
	assert.Equal(t, "Wooden Block Set", blocks.Title)
	// Catalog price wins over the web price for the same product.
	require.NotNil(t, blocks.Price)
	assert.Equal(t, 19.99, *blocks.Price)
	// Both sources stay citable.
	require.Len(t, blocks.Citations, 2)
	assert.Equal(t, models.SourceCatalog, blocks.Citations[0].Source)
	assert.Equal(t, models.SourceWeb, blocks.Citations[1].Source)
	assert.NotEmpty(t, blocks.FreshnessNote)
}

func TestMergeResultSets_SkipsFailedSets(t *testing.T) {
	sets := []models.ResultSet{
		{
			Backend: models.BackendCatalog,
			Status:  models.StatusError,
			Error:   "connection refused",
			Items:   []models.RetrievedItem{catalogItem("p-1", "Ghost Item", fptr(10), nil, 0.9)},
		},
		{
			Backend: models.BackendWeb,
			Status:  models.StatusOK,
			Items:   []models.RetrievedItem{webItem("https://www.target.com/p/123", "Art Easel", fptr(45), 0.8)},
		},
	}

	merged := mergeResultSets(sets)

	require.Len(t, merged, 1)
	assert.Equal(t, "Art Easel", merged[0].Title)
}

func TestMergeResultSets_WebFillsMissingFields(t *testing.T) {
	sets := []models.ResultSet{
		{
			Backend: models.BackendCatalog,
			Status:  models.StatusOK,
			Items:   []models.RetrievedItem{catalogItem("p-1", "Robot Kit", nil, nil, 0.9)},
		},
		{
			Backend: models.BackendWeb,
			Status:  models.StatusOK,
			Items: []models.RetrievedItem{
				{
					Source:   models.SourceWeb,
					SourceID: "https://www.amazon.com/dp/B000TEST02",
					Title:    "Robot Kit",
					Price:    fptr(34.99),
					Rating:   fptr(4.7),
					Snippet:  "Build your own robot",
					Score:    0.6,
				},
			},
		},
	}

	merged := mergeResultSets(sets)

	require.Len(t, merged, 1)
	require.NotNil(t, merged[0].Price)
	assert.Equal(t, 34.99, *merged[0].Price)
	require.NotNil(t, merged[0].Rating)
	assert.Equal(t, 4.7, *merged[0].Rating)
	assert.Equal(t, "Build your own robot", merged[0].Snippet)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, normalizeTitle("Wooden Block Set!"), normalizeTitle("wooden block set"))
	assert.Equal(t, normalizeTitle("STEM Kit (2024)"), normalizeTitle("stem kit 2024"))
	assert.NotEqual(t, normalizeTitle("Wooden Blocks"), normalizeTitle("Wooden Block"))
	assert.Equal(t, "", normalizeTitle("!!!"))
}

func TestRank_HardPriceExclusion(t *testing.T) {
	candidates := []candidate{
		{RetrievedItem: catalogItem("p-cheap", "Budget Blocks", fptr(15), fptr(4.0), 0.8)},
		{RetrievedItem: catalogItem("p-pricey", "Deluxe Blocks", fptr(60), fptr(4.9), 0.95)},
		{RetrievedItem: catalogItem("p-unknown", "Mystery Blocks", nil, fptr(4.8), 0.9)},
	}

	ranked := rank(candidates, models.Constraints{PriceMax: fptr(25)})

	// The out-of-budget item is gone, not ranked last.
	require.Len(t, ranked, 2)
	for _, c := range ranked {
		assert.NotEqual(t, "p-pricey", c.SourceID)
	}
	// Known-price items outrank unknown-price items regardless of rating.
	assert.Equal(t, "p-cheap", ranked[0].SourceID)
	assert.Equal(t, "p-unknown", ranked[1].SourceID)
}

func TestRank_PriceFloor(t *testing.T) {
	candidates := []candidate{
		{RetrievedItem: catalogItem("p-1", "Tiny Toy", fptr(5), nil, 0.9)},
		{RetrievedItem: catalogItem("p-2", "Premium Set", fptr(80), nil, 0.8)},
	}

	ranked := rank(candidates, models.Constraints{PriceMin: fptr(50)})

	require.Len(t, ranked, 1)
	assert.Equal(t, "p-2", ranked[0].SourceID)
}

func TestRank_OrderingWithinBudget(t *testing.T) {
	candidates := []candidate{
		{RetrievedItem: catalogItem("p-b", "B", fptr(20), fptr(4.0), 0.9)},
		{RetrievedItem: catalogItem("p-a", "A", fptr(18), fptr(4.5), 0.7)},
		{RetrievedItem: catalogItem("p-c", "C", fptr(22), fptr(4.5), 0.8)},
	}

	ranked := rank(candidates, models.Constraints{})

	// Rating first, then score.
	assert.Equal(t, "p-c", ranked[0].SourceID)
	assert.Equal(t, "p-a", ranked[1].SourceID)
	assert.Equal(t, "p-b", ranked[2].SourceID)
}

func TestRank_DeterministicTieBreak(t *testing.T) {
	candidates := []candidate{
		{RetrievedItem: catalogItem("p-z", "Z", fptr(20), fptr(4.0), 0.8)},
		{RetrievedItem: catalogItem("p-a", "A", fptr(20), fptr(4.0), 0.8)},
	}

	first := rank(candidates, models.Constraints{})
	second := rank(candidates, models.Constraints{})

	assert.Equal(t, "p-a", first[0].SourceID)
	assert.Equal(t, first[0].SourceID, second[0].SourceID)
	assert.Equal(t, first[1].SourceID, second[1].SourceID)
}
