// internal/retrieval/web.go
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"product-discovery-workers/internal/common/logger"
	"product-discovery-workers/internal/models"
)

// WebConfig configures the live web search backend and the optional
// product data API used to enrich Amazon listings by ASIN.
type WebConfig struct {
	SearchBaseURL      string
	SearchAPIKey       string
	ProductDataBaseURL string
	ProductDataAPIKey  string
	AllowedDomains     []string
}

// Web searches the live web for current product listings. Results are
// restricted to an allowlist of retailer domains, and only pages that
// look like concrete product listings are preferred. Prices quoted in
// snippets are extracted opportunistically and sanity checked; when no
// price can be read the item carries none.
type Web struct {
	config WebConfig
	client *http.Client
	logger logger.Logger
}

func NewWeb(config WebConfig, client *http.Client, log logger.Logger) *Web {
	if client == nil {
		client = &http.Client{}
	}
	if len(config.AllowedDomains) == 0 {
		config.AllowedDomains = []string{"amazon.com", "walmart.com", "target.com"}
	}
	return &Web{
		config: config,
		client: client,
		logger: log,
	}
}

func (w *Web) Kind() models.BackendKind {
	return models.BackendWeb
}

// Patterns that identify a concrete product listing page rather than a
// category page, review roundup or blog post.
var productPagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`amazon\.com/.*/dp/[A-Z0-9]{10}`),
	regexp.MustCompile(`amazon\.com/dp/[A-Z0-9]{10}`),
	regexp.MustCompile(`amazon\.com/gp/product/[A-Z0-9]{10}`),
	regexp.MustCompile(`walmart\.com/ip/`),
	regexp.MustCompile(`target\.com/p/`),
}

var asinPattern = regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`)

// Price shapes seen in retailer snippets, most specific first.
var snippetPricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)(?:price|cost|now)[:\s]+\$?(\d+(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d{2})?)\s*(?:dollars|usd)`),
}

func (w *Web) Search(ctx context.Context, call models.PlannedCall) ([]models.RetrievedItem, error) {
	results, err := w.searchAPI(ctx, call)
	if err != nil {
		return nil, err
	}

	var productPages, otherAllowed []models.RetrievedItem
	for _, result := range results {
		if !w.domainAllowed(result.URL) {
			continue
		}
		item := models.RetrievedItem{
			Source:   models.SourceWeb,
			SourceID: result.URL,
			Title:    result.Title,
			URL:      result.URL,
			Snippet:  result.Snippet,
			Score:    result.Score,
		}
		if price := extractSnippetPrice(result.Snippet); price != nil {
			item.Price = price
		}
		if isProductPage(result.URL) {
			w.enrichProductData(ctx, &item)
			productPages = append(productPages, item)
		} else {
			otherAllowed = append(otherAllowed, item)
		}
	}

	// Product listing pages come first. Non-product pages on allowed
	// domains only pad out the result when listings alone fall short.
	items := productPages
	if len(items) < call.TopK {
		items = append(items, otherAllowed...)
	}
	if len(items) > call.TopK {
		items = items[:call.TopK]
	}
	return items, nil
}

type webSearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"content"`
	Score   float64 `json:"score"`
}

func (w *Web) searchAPI(ctx context.Context, call models.PlannedCall) ([]webSearchResult, error) {
	endpoint, err := url.Parse(w.config.SearchBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid web search URL: %w", err)
	}

	payload := map[string]interface{}{
		"query":           call.Query,
		"max_results":     call.TopK * 3,
		"include_domains": w.config.AllowedDomains,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode web search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create web search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.config.SearchAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.SearchAPIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: web search failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: web search status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("web search status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Results []webSearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse web search response: %w", err)
	}
	return parsed.Results, nil
}

func (w *Web) domainAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range w.config.AllowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func isProductPage(rawURL string) bool {
	for _, pattern := range productPagePatterns {
		if pattern.MatchString(rawURL) {
			return true
		}
	}
	return false
}

func extractSnippetPrice(snippet string) *float64 {
	for _, pattern := range snippetPricePatterns {
		match := pattern.FindStringSubmatch(snippet)
		if match == nil {
			continue
		}
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		if value > 0 && value < 10000 {
			return &value
		}
	}
	return nil
}

// enrichProductData resolves live price and rating for Amazon listings
// through the product data API. Enrichment is best effort and never
// fails the search.
func (w *Web) enrichProductData(ctx context.Context, item *models.RetrievedItem) {
	if w.config.ProductDataBaseURL == "" {
		return
	}
	match := asinPattern.FindStringSubmatch(item.URL)
	if match == nil {
		return
	}
	asin := match[1]

	endpoint, err := url.Parse(w.config.ProductDataBaseURL)
	if err != nil {
		return
	}
	query := endpoint.Query()
	query.Set("asin", asin)
	query.Set("amazon_domain", "amazon.com")
	if w.config.ProductDataAPIKey != "" {
		query.Set("api_key", w.config.ProductDataAPIKey)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.WithError(err).Debug("Product data lookup failed", map[string]interface{}{"asin": asin})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}

	var parsed struct {
		Product struct {
			Title     string   `json:"title"`
			Rating    *float64 `json:"rating"`
			BuyboxWin *float64 `json:"buybox_price"`
		} `json:"product"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return
	}

	if parsed.Product.BuyboxWin != nil && *parsed.Product.BuyboxWin > 0 && *parsed.Product.BuyboxWin < 10000 {
		item.Price = parsed.Product.BuyboxWin
	}
	if parsed.Product.Rating != nil {
		item.Rating = parsed.Product.Rating
	}
	if parsed.Product.Title != "" {
		item.Title = parsed.Product.Title
	}
}
