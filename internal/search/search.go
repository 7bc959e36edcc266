// Package search provides post search, served by Meilisearch when it
// is up and by Postgres full-text search otherwise.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	AuthorName string   `json:"authorName"`
	Tags       []string `json:"tags"`
	Votes      int      `json:"votes"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Tag    string // empty = all tags
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over posts.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	AuthorName string   `json:"authorName"`
	Tags       []string `json:"tags"`
	Votes      int      `json:"votes"`
}
