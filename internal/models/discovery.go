// internal/models/discovery.go
package models

// IntentType is the closed intent taxonomy produced by intent classification.
// Anything the classifier reports outside this set maps to IntentOutOfScope.
type IntentType string

const (
	IntentProductRecommendation IntentType = "product_recommendation"
	IntentComparison            IntentType = "comparison"
	IntentFilterExtraction      IntentType = "filter_extraction"
	IntentOutOfScope            IntentType = "out_of_scope"
)

// Constraints holds the structured filters extracted from a query. Every
// field is optional; a nil/zero field means "unconstrained".
type Constraints struct {
	PriceMax    *float64 `json:"priceMax,omitempty"`
	PriceMin    *float64 `json:"priceMin,omitempty"`
	Age         *int     `json:"age,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Material    string   `json:"material,omitempty"`
	EcoFriendly bool     `json:"ecoFriendly,omitempty"`
	Educational bool     `json:"educational,omitempty"`
	Category    string   `json:"category,omitempty"`
	RatingMin   *float64 `json:"ratingMin,omitempty"`
}

// IntentResult is the Router's output, consumed once by the Planner.
type IntentResult struct {
	Intent      IntentType  `json:"intent"`
	Confidence  float64     `json:"confidence"`
	Constraints Constraints `json:"constraints"`
	SafetyFlags []string    `json:"safetyFlags,omitempty"`
}

// Strategy identifies the retrieval strategy chosen by the Planner.
type Strategy string

const (
	StrategyNone    Strategy = "none"
	StrategyRAGOnly Strategy = "rag_only"
	StrategyWebOnly Strategy = "web_only"
	StrategyHybrid  Strategy = "hybrid"
)

// BackendKind names a retrieval backend a planned call is bound to.
type BackendKind string

const (
	BackendCatalog BackendKind = "catalog"
	BackendWeb     BackendKind = "web"
)

// PlannedCall is a single backend call with its bound parameters. The
// Planner copies the extracted constraints onto every call so backends
// apply them as filters instead of re-deriving them from the query text.
type PlannedCall struct {
	Backend     BackendKind `json:"backend"`
	Query       string      `json:"query"`
	TopK        int         `json:"topK"`
	Constraints Constraints `json:"constraints"`
}

// StrategyDecision is the Planner's output. Invariant: Plan is empty
// exactly when Strategy is StrategyNone (out-of-scope intent).
type StrategyDecision struct {
	Strategy  Strategy      `json:"strategy"`
	Plan      []PlannedCall `json:"plan"`
	Rationale string        `json:"rationale"`
}

// SourceKind identifies which kind of source a retrieved item came from.
type SourceKind string

const (
	SourceCatalog SourceKind = "catalog"
	SourceWeb     SourceKind = "web"
)

// RetrievedItem is the common item schema all backends normalize into.
// A missing price or rating stays nil; it is never defaulted to zero.
type RetrievedItem struct {
	Source        SourceKind `json:"source"`
	SourceID      string     `json:"sourceId"`
	Title         string     `json:"title"`
	Price         *float64   `json:"price,omitempty"`
	Rating        *float64   `json:"rating,omitempty"`
	URL           string     `json:"url,omitempty"`
	Snippet       string     `json:"snippet,omitempty"`
	Score         float64    `json:"score"`
	FreshnessNote string     `json:"freshnessNote,omitempty"`
}

// CallStatus is the terminal state of one backend call.
type CallStatus string

const (
	StatusOK      CallStatus = "ok"
	StatusTimeout CallStatus = "timeout"
	StatusError   CallStatus = "error"
	StatusEmpty   CallStatus = "empty"
)

// ResultSet is the outcome of one planned call.
type ResultSet struct {
	Backend BackendKind     `json:"backend"`
	Status  CallStatus      `json:"status"`
	Items   []RetrievedItem `json:"items"`
	Error   string          `json:"error,omitempty"`
}

// Citation ties a factual claim to a retrieved item. A Citation whose
// SourceID does not resolve to an item in the merged set is a contract
// violation caught by the grounding check.
type Citation struct {
	Source   SourceKind `json:"source"`
	SourceID string     `json:"sourceId"`
}

// GroundingStatus reports the outcome of the grounding verification pass.
type GroundingStatus string

const (
	GroundingPassed   GroundingStatus = "passed"
	GroundingFailed   GroundingStatus = "failed"
	GroundingDegraded GroundingStatus = "degraded"
)

// Answer is the terminal object returned for one request. Structure is
// deterministic: both text sections and the citation list are always
// present even when empty.
type Answer struct {
	SpokenSummary    string          `json:"spokenSummary"`
	DetailedAnalysis string          `json:"detailedAnalysis"`
	Citations        []Citation      `json:"citations"`
	GroundingStatus  GroundingStatus `json:"groundingStatus"`
	Warnings         []string        `json:"warnings"`
}
