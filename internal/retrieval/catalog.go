// internal/retrieval/catalog.go
package retrieval

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/lib/pq"

	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/models"
)

// Catalog searches the indexed product catalog in Elasticsearch and
// hydrates missing price and rating fields from the Postgres detail
// store. Hydration is best effort: when the detail store is down the
// items are returned as indexed and missing fields stay absent.
type Catalog struct {
	es     *elasticsearch.Client
	index  string
	db     *sql.DB
	logger logger.Logger
}

func NewCatalog(es *elasticsearch.Client, index string, db *sql.DB, log logger.Logger) *Catalog {
	return &Catalog{
		es:     es,
		index:  index,
		db:     db,
		logger: log,
	}
}

func (c *Catalog) Kind() models.BackendKind {
	return models.BackendCatalog
}

func (c *Catalog) Search(ctx context.Context, call models.PlannedCall) ([]models.RetrievedItem, error) {
	query := buildCatalogQuery(call)

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithSize(call.TopK),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog search failed: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if res.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: catalog search status %d: %s", ErrUnavailable, res.StatusCode, string(raw))
		}
		return nil, fmt.Errorf("catalog search status %d: %s", res.StatusCode, string(raw))
	}

	var parsed struct {
		Hits struct {
			MaxScore *float64 `json:"max_score"`
			Hits     []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					ProductID string   `json:"product_id"`
					Title     string   `json:"title"`
					Price     *float64 `json:"price"`
					Rating    *float64 `json:"rating"`
					URL       string   `json:"url"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse catalog response: %w", err)
	}

	// Lexical _score is unbounded; web results carry 0..1 relevance, so
	// catalog scores are scaled against the best hit to stay comparable.
	maxScore := 1.0
	if parsed.Hits.MaxScore != nil && *parsed.Hits.MaxScore > 0 {
		maxScore = *parsed.Hits.MaxScore
	}

	items := make([]models.RetrievedItem, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		sourceID := hit.Source.ProductID
		if sourceID == "" {
			sourceID = hit.ID
		}
		items = append(items, models.RetrievedItem{
			Source:   models.SourceCatalog,
			SourceID: sourceID,
			Title:    hit.Source.Title,
			Price:    hit.Source.Price,
			Rating:   hit.Source.Rating,
			URL:      hit.Source.URL,
			Score:    hit.Score / maxScore,
		})
	}

	c.hydrate(ctx, items)
	return items, nil
}

// buildCatalogQuery maps the planned call onto an ES bool query. Hard
// constraints that the index can enforce are expressed as filters so
// out-of-budget products never reach the ranking stage at all.
func buildCatalogQuery(call models.PlannedCall) map[string]interface{} {
	must := []map[string]interface{}{
		{
			"multi_match": map[string]interface{}{
				"query":  call.Query,
				"fields": []string{"title^2", "description"},
			},
		},
	}

	var filter []map[string]interface{}
	if call.Constraints.PriceMax != nil || call.Constraints.PriceMin != nil {
		priceRange := map[string]interface{}{}
		if call.Constraints.PriceMax != nil {
			priceRange["lte"] = *call.Constraints.PriceMax
		}
		if call.Constraints.PriceMin != nil {
			priceRange["gte"] = *call.Constraints.PriceMin
		}
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"price": priceRange},
		})
	}
	if call.Constraints.RatingMin != nil {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{
				"rating": map[string]interface{}{"gte": *call.Constraints.RatingMin},
			},
		})
	}
	if call.Constraints.Category != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"category": call.Constraints.Category},
		})
	}
	if call.Constraints.Material != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"material": call.Constraints.Material},
		})
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
	}
}

// hydrate fills missing price and rating fields from the product
// detail table for hits whose index document was incomplete.
func (c *Catalog) hydrate(ctx context.Context, items []models.RetrievedItem) {
	if c.db == nil {
		return
	}

	var missing []string
	for _, item := range items {
		if item.Price == nil || item.Rating == nil {
			missing = append(missing, item.SourceID)
		}
	}
	if len(missing) == 0 {
		return
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT product_id, price, rating FROM products WHERE product_id = ANY($1)`,
		pq.Array(missing))
	if err != nil {
		c.logger.WithError(err).Warn("Product detail hydration failed, returning indexed fields only", nil)
		return
	}
	defer rows.Close()

	details := make(map[string]struct {
		price  sql.NullFloat64
		rating sql.NullFloat64
	})
	for rows.Next() {
		var id string
		var price, rating sql.NullFloat64
		if err := rows.Scan(&id, &price, &rating); err != nil {
			c.logger.WithError(err).Warn("Failed to scan product detail row", nil)
			continue
		}
		details[id] = struct {
			price  sql.NullFloat64
			rating sql.NullFloat64
		}{price, rating}
	}
	if err := rows.Err(); err != nil {
		c.logger.WithError(err).Warn("Product detail hydration interrupted", nil)
	}

	for i := range items {
		detail, ok := details[items[i].SourceID]
		if !ok {
			continue
		}
		if items[i].Price == nil && detail.price.Valid {
			v := detail.price.Float64
			items[i].Price = &v
		}
		if items[i].Rating == nil && detail.rating.Valid {
			v := detail.rating.Float64
			items[i].Rating = &v
		}
	}
}
