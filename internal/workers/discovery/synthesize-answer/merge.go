// internal/workers/discovery/synthesize-answer/merge.go
package synthesizeanswer

import (
	"sort"
	"strings"
	"unicode"

	"product-discovery-workers/internal/models"
)

// mergeResultSets flattens successful result sets into a deduplicated
// candidate list. Result sets arrive in plan order, so catalog items
// come first when both backends ran; a web duplicate of a catalog item
// contributes its freshness note and citation but never overwrites a
// catalog price.
func mergeResultSets(sets []models.ResultSet) []candidate {
	var out []candidate
	index := make(map[string]int)

	for _, set := range sets {
		if set.Status != models.StatusOK {
			continue
		}
		for _, item := range set.Items {
			key := normalizeTitle(item.Title)
			citation := models.Citation{Source: item.Source, SourceID: item.SourceID}

			pos, seen := index[key]
			if !seen || key == "" {
				out = append(out, candidate{RetrievedItem: item, Citations: []models.Citation{citation}})
				index[key] = len(out) - 1
				continue
			}

			existing := &out[pos]
			existing.Citations = append(existing.Citations, citation)
			if existing.Price == nil {
				existing.Price = item.Price
			}
			if existing.Rating == nil {
				existing.Rating = item.Rating
			}
			if existing.Snippet == "" {
				existing.Snippet = item.Snippet
			}
			if item.Source == models.SourceWeb && existing.FreshnessNote == "" {
				existing.FreshnessNote = item.FreshnessNote
				if existing.FreshnessNote == "" {
					existing.FreshnessNote = "also listed in current web results"
				}
			}
			if item.Score > existing.Score {
				existing.Score = item.Score
			}
		}
	}

	return out
}

// normalizeTitle reduces a product title to a comparison key: lower
// case, letters and digits only, single spaces.
func normalizeTitle(title string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// rank orders the candidates against the extracted constraints. Items
// whose known price falls outside the budget are excluded outright,
// never ranked down. Items without a known price stay in, below every
// priced item, so the generator can mention them with a caveat.
func rank(candidates []candidate, constraints models.Constraints) []candidate {
	kept := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Price != nil {
			if constraints.PriceMax != nil && *c.Price > *constraints.PriceMax {
				continue
			}
			if constraints.PriceMin != nil && *c.Price < *constraints.PriceMin {
				continue
			}
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if (a.Price != nil) != (b.Price != nil) {
			return a.Price != nil
		}
		if ratingOf(a) != ratingOf(b) {
			return ratingOf(a) > ratingOf(b)
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.SourceID < b.SourceID
	})

	return kept
}

func ratingOf(c candidate) float64 {
	if c.Rating == nil {
		return 0
	}
	return *c.Rating
}
