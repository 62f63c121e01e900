package models

// SearchResult is a single ranked search hit.
type SearchResult struct {
	Item  *Item   `json:"item"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// SearchResponse is the response for a search request. Results are ordered by
// descending score.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}

// ListResponse holds every item of one application in store order.
type ListResponse struct {
	Total int     `json:"total"`
	Data  []*Item `json:"data"`
}

// VectorHit is a vector record matched by a similarity query.
type VectorHit struct {
	Record *VectorRecord
	Score  float64
}

// ReconcileReport summarizes one consistency sweep over the stored pairs.
type ReconcileReport struct {
	ItemsScanned          int `json:"items_scanned"`
	VectorsScanned        int `json:"vectors_scanned"`
	OrphanVectorsRemoved  int `json:"orphan_vectors_removed"`
	OrphanItemsRemoved    int `json:"orphan_items_removed"`
	ScopeMismatchRepaired int `json:"scope_mismatch_repaired"`
	Skipped               int `json:"skipped"`
	Failures              int `json:"failures"`
}
