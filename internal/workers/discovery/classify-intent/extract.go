// internal/workers/discovery/classify-intent/extract.go
package classifyintent

import (
	"regexp"
	"strconv"
	"strings"

	"product-discovery-workers/internal/models"
)

// Rule-based constraint extraction over the raw query. It fills whatever
// the classification service left unset; absence of a match means
// "unconstrained", never an error.

var (
	priceMaxPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:under|below|less than|at most|up to|max(?:imum)?(?: of)?)\s*\$?(\d+(?:\.\d{1,2})?)`),
		regexp.MustCompile(`(?i)\$(\d+(?:\.\d{1,2})?)\s*(?:or less|max|budget)`),
	}
	priceMinPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:over|above|more than|at least|starting at)\s*\$(\d+(?:\.\d{1,2})?)`),
	}
	priceBetweenPattern = regexp.MustCompile(`(?i)between\s*\$?(\d+(?:\.\d{1,2})?)\s*(?:and|-|to)\s*\$?(\d+(?:\.\d{1,2})?)`)

	agePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)for\s+(?:a\s+|my\s+)?(\d{1,2})[\s-]year[\s-]old`),
		regexp.MustCompile(`(?i)age[sd]?\s+(\d{1,2})`),
	}

	ratingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:at least|minimum|min)\s+(\d(?:\.\d)?)\s*stars?`),
		regexp.MustCompile(`(?i)(\d(?:\.\d)?)\s*stars?\s*(?:and up|or (?:higher|better|more))`),
		regexp.MustCompile(`(?i)rated\s+(\d(?:\.\d)?)\s*(?:stars?|or (?:higher|better))`),
	}
)

var materialKeywords = []struct {
	keyword  string
	material string
}{
	{"wooden", "wood"},
	{"wood", "wood"},
	{"plastic", "plastic"},
	{"metal", "metal"},
	{"plush", "plush"},
	{"stuffed", "plush"},
	{"fabric", "fabric"},
}

func extractConstraints(query string) models.Constraints {
	var c models.Constraints
	lower := strings.ToLower(query)

	if m := priceBetweenPattern.FindStringSubmatch(query); m != nil {
		if lo, ok := parsePrice(m[1]); ok {
			if hi, ok := parsePrice(m[2]); ok && lo <= hi {
				c.PriceMin = &lo
				c.PriceMax = &hi
			}
		}
	}
	if c.PriceMax == nil {
		for _, pat := range priceMaxPatterns {
			if m := pat.FindStringSubmatch(query); m != nil {
				if v, ok := parsePrice(m[1]); ok {
					c.PriceMax = &v
					break
				}
			}
		}
	}
	if c.PriceMin == nil {
		for _, pat := range priceMinPatterns {
			if m := pat.FindStringSubmatch(query); m != nil {
				if v, ok := parsePrice(m[1]); ok {
					c.PriceMin = &v
					break
				}
			}
		}
	}

	for _, pat := range agePatterns {
		if m := pat.FindStringSubmatch(query); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 && v <= 18 {
				c.Age = &v
				break
			}
		}
	}

	for _, pat := range ratingPatterns {
		if m := pat.FindStringSubmatch(query); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 && v <= 5 {
				c.RatingMin = &v
				break
			}
		}
	}

	for _, mk := range materialKeywords {
		if strings.Contains(lower, mk.keyword) {
			c.Material = mk.material
			break
		}
	}

	if strings.Contains(lower, "eco-friendly") ||
		strings.Contains(lower, "eco friendly") ||
		strings.Contains(lower, "sustainable") ||
		strings.Contains(lower, "recycled") {
		c.EcoFriendly = true
	}

	if strings.Contains(lower, "educational") ||
		strings.Contains(lower, "learning") ||
		strings.Contains(lower, "stem ") ||
		strings.HasSuffix(lower, "stem") {
		c.Educational = true
	}

	if strings.Contains(lower, "for boys") || strings.Contains(lower, "for a boy") {
		c.Gender = "boy"
	} else if strings.Contains(lower, "for girls") || strings.Contains(lower, "for a girl") {
		c.Gender = "girl"
	}

	return c
}

// parsePrice applies the same sanity bound the web price extractor uses:
// anything outside (0, 10000) is noise, not a price.
func parsePrice(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v >= 10000 {
		return 0, false
	}
	return v, true
}

// mergeConstraints prefers service-extracted values and fills gaps from
// the rule-based pass.
func mergeConstraints(api, local models.Constraints) models.Constraints {
	out := api
	if out.PriceMax == nil {
		out.PriceMax = local.PriceMax
	}
	if out.PriceMin == nil {
		out.PriceMin = local.PriceMin
	}
	if out.Age == nil {
		out.Age = local.Age
	}
	if out.RatingMin == nil {
		out.RatingMin = local.RatingMin
	}
	if out.Gender == "" {
		out.Gender = local.Gender
	}
	if out.Brand == "" {
		out.Brand = local.Brand
	}
	if out.Material == "" {
		out.Material = local.Material
	}
	if out.Category == "" {
		out.Category = local.Category
	}
	if !out.EcoFriendly {
		out.EcoFriendly = local.EcoFriendly
	}
	if !out.Educational {
		out.Educational = local.Educational
	}
	return out
}
