// -----------------------------------------------------------------------
// Indexed Page - Persisted canonical page record and append-only crawl log
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PageCrawlStatus is the persisted status of the most recent crawl of a page
type PageCrawlStatus string

const (
	PageCrawlSuccess PageCrawlStatus = "success"
	PageCrawlFailed  PageCrawlStatus = "failed"
	PageCrawlPending PageCrawlStatus = "pending"
)

// CrawlMetadata tracks the crawl history of an indexed page
type CrawlMetadata struct {
	FirstCrawlTime   time.Time       `json:"first_crawl_time"`
	LastCrawlTime    time.Time       `json:"last_crawl_time"`
	LastCrawlStatus  PageCrawlStatus `json:"last_crawl_status"`
	LastErrorMessage string          `json:"last_error_message,omitempty"`
	CrawlCount       int             `json:"crawl_count"`
	HTTPStatusCode   int             `json:"http_status_code"`
	ContentSize      int             `json:"content_size"`
	ContentType      string          `json:"content_type"`
	CrawlDurationMs  int64           `json:"crawl_duration_ms"`
}

// IndexedPage is one document per canonical URL.
// CanonicalURL is the dedup key; on collision FirstCrawlTime is preserved,
// CrawlCount increments, and PageRank/InboundLinkCount/Category are retained
// from the existing document.
type IndexedPage struct {
	ID     string `json:"id" badgerhold:"key"`
	URL    string `json:"url"`
	Domain string `json:"domain" badgerhold:"index"`

	CanonicalURL   string `json:"canonical_url" badgerhold:"unique"`
	CanonicalHost  string `json:"canonical_host"`
	CanonicalPath  string `json:"canonical_path"`
	CanonicalQuery string `json:"canonical_query,omitempty"`

	Title           string   `json:"title,omitempty"`
	Description     string   `json:"description,omitempty"`
	TextContent     string   `json:"text_content,omitempty"`
	ContentMarkdown string   `json:"content_markdown,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	WordCount       int      `json:"word_count"`

	HasSSL       bool       `json:"has_ssl"`
	IsIndexed    bool       `json:"is_indexed"`
	IndexedAt    time.Time  `json:"indexed_at" badgerhold:"index"`
	LastModified *time.Time `json:"last_modified,omitempty"`

	CrawlMetadata CrawlMetadata `json:"crawl_metadata"`

	OutboundLinks    []string `json:"outbound_links,omitempty"`
	InboundLinkCount int      `json:"inbound_link_count,omitempty"`
	PageRank         float64  `json:"page_rank,omitempty"`
	Category         string   `json:"category,omitempty"`

	ContentQuality float64 `json:"content_quality"` // 0..1

	// Unknown fields from older document versions survive round trips
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// ToJSON serializes the page for API responses and export
func (p *IndexedPage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal indexed page: %w", err)
	}
	return data, nil
}

// IndexedPageFromJSON deserializes an indexed page
func IndexedPageFromJSON(data []byte) (*IndexedPage, error) {
	var page IndexedPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to unmarshal indexed page: %w", err)
	}
	return &page, nil
}

// Validate checks required fields before persistence
func (p *IndexedPage) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("page ID is required")
	}
	if p.CanonicalURL == "" {
		return fmt.Errorf("canonical URL is required")
	}
	if p.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if p.ContentQuality < 0 || p.ContentQuality > 1 {
		return fmt.Errorf("content quality out of range: %f", p.ContentQuality)
	}
	return nil
}

// CrawlLog is an append-only record of one crawl attempt. Entries are
// written once and never updated.
type CrawlLog struct {
	ID             uint64          `json:"-" badgerhold:"key"` // Auto-incremented by the store
	URL            string          `json:"url" badgerhold:"index"`
	Domain         string          `json:"domain" badgerhold:"index"`
	CrawlTime      time.Time       `json:"crawl_time" badgerhold:"index"`
	Status         PageCrawlStatus `json:"status"`
	HTTPStatusCode int             `json:"http_status_code"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ContentSize    int             `json:"content_size"`
	ContentType    string          `json:"content_type,omitempty"`
	Links          int             `json:"links"`
	Title          string          `json:"title,omitempty"`
	Description    string          `json:"description,omitempty"`
}
