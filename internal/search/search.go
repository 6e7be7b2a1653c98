package search

// Result is a single search hit returned to the caller. Results are always
// scoped to documents the requesting user can open.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	OwnerID  string `json:"ownerId"`
	IsShared bool   `json:"isShared"`
}

// Query describes a search request. UserID scopes the result set.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over documents.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	OwnerID string   `json:"ownerId"`
	Editors []string `json:"editors"` // owner plus collaborator user ids
}
