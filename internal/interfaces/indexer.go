package interfaces

import "context"

// IndexDocument is the payload pushed to the external search index
type IndexDocument struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SearchHit is one ranked result from the indexer
type SearchHit struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
	Highlight string  `json:"-"`
}

// SearchResult is a paginated indexer response
type SearchResult struct {
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Hits     []SearchHit `json:"hits"`
}

// Indexer - opaque full-text search backend. Writes are best effort; the
// document store remains the source of truth.
type Indexer interface {
	Index(ctx context.Context, doc *IndexDocument) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, page, limit int) (*SearchResult, error)
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
