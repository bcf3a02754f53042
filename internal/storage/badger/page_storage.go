package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/crawler"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PageStorage implements the PageStorage interface for Badger. One
// document per canonical URL; concurrent sessions crawling the same URL
// serialize through a per-key lock.
type PageStorage struct {
	db       *BadgerDB
	crawlLog interfaces.CrawlLogStorage
	indexer  interfaces.Indexer
	canon    *crawler.Canonicalizer
	logger   arbor.ILogger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, crawlLog interfaces.CrawlLogStorage, indexer interfaces.Indexer, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{
		db:       db,
		crawlLog: crawlLog,
		indexer:  indexer,
		canon:    crawler.NewCanonicalizer(nil),
		logger:   logger,
	}
}

func (s *PageStorage) urlLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	return mu
}

// StoreCrawlResult persists one crawl attempt. Successful downloads
// upsert the canonical page document; failures only touch the crawl
// metadata of an existing document. Every attempt appends a crawl log
// entry. Returns the page ID, empty when no document was written.
func (s *PageStorage) StoreCrawlResult(ctx context.Context, result *models.CrawlResult) (string, error) {
	sourceURL := result.FinalURL
	if sourceURL == "" {
		sourceURL = result.URL
	}
	key := s.canon.Canonicalize(sourceURL)

	mu := s.urlLock(key)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.findByCanonicalURL(key)
	if err != nil {
		return "", err
	}

	var pageID string
	now := time.Now()

	if result.IsSuccess() {
		page := s.buildPage(result, key, existing, now)
		if err := page.Validate(); err != nil {
			return "", fmt.Errorf("invalid page document: %w", err)
		}
		if err := s.db.Store().Upsert(page.ID, page); err != nil {
			return "", fmt.Errorf("failed to save page: %w", err)
		}
		pageID = page.ID
		s.pushToIndex(ctx, page)
	} else if existing != nil {
		existing.CrawlMetadata.LastCrawlTime = now
		existing.CrawlMetadata.LastCrawlStatus = models.PageCrawlFailed
		existing.CrawlMetadata.LastErrorMessage = result.ErrorMessage
		existing.CrawlMetadata.CrawlCount++
		if err := s.db.Store().Upsert(existing.ID, existing); err != nil {
			return "", fmt.Errorf("failed to update page metadata: %w", err)
		}
		pageID = existing.ID
	}

	// The crawl log records the requested URL; redirects only show up in
	// the page document, which keys on the final URL's canonical form.
	if s.crawlLog != nil {
		if err := s.crawlLog.AppendCrawlLog(ctx, crawlLogFromResult(result, now)); err != nil && s.logger != nil {
			s.logger.Warn().Err(err).Str("url", result.URL).Msg("Failed to append crawl log")
		}
	}

	return pageID, nil
}

// buildPage merges a successful crawl into the existing document, or
// creates a fresh one. FirstCrawlTime, PageRank, InboundLinkCount, and
// Category survive re-crawls.
func (s *PageStorage) buildPage(result *models.CrawlResult, canonicalURL string, existing *models.IndexedPage, now time.Time) *models.IndexedPage {
	page := &models.IndexedPage{
		URL:            result.URL,
		Domain:         result.Domain,
		CanonicalURL:   canonicalURL,
		CanonicalHost:  s.canon.Host(canonicalURL),
		CanonicalPath:  s.canon.Path(canonicalURL),
		CanonicalQuery: s.canon.Query(canonicalURL),

		Title:           result.Title,
		Description:     result.MetaDescription,
		TextContent:     result.TextContent,
		ContentMarkdown: result.ContentMarkdown,
		WordCount:       len(strings.Fields(result.TextContent)),

		HasSSL:    strings.HasPrefix(canonicalURL, "https://"),
		IndexedAt: now,

		OutboundLinks: result.OutboundLinks,
	}

	page.CrawlMetadata = models.CrawlMetadata{
		FirstCrawlTime:  now,
		LastCrawlTime:   now,
		LastCrawlStatus: models.PageCrawlSuccess,
		CrawlCount:      1,
		HTTPStatusCode:  result.HTTPStatus,
		ContentSize:     result.ContentSize,
		ContentType:     result.ContentType,
		CrawlDurationMs: result.Duration().Milliseconds(),
	}

	if existing != nil {
		page.ID = existing.ID
		page.CrawlMetadata.FirstCrawlTime = existing.CrawlMetadata.FirstCrawlTime
		page.CrawlMetadata.CrawlCount = existing.CrawlMetadata.CrawlCount + 1
		page.PageRank = existing.PageRank
		page.InboundLinkCount = existing.InboundLinkCount
		page.Category = existing.Category
		page.Extra = existing.Extra
	} else {
		page.ID = common.NewPageID()
	}

	return page
}

// pushToIndex is best effort; an indexer failure never fails the store.
// Pages without extractable text stay out of the search index.
func (s *PageStorage) pushToIndex(ctx context.Context, page *models.IndexedPage) {
	if s.indexer == nil || page.TextContent == "" {
		return
	}

	// Title weighted by repetition so title matches rank above body text
	content := strings.TrimSpace(strings.Join([]string{
		page.Title, page.Title, page.Description, page.TextContent,
	}, " "))

	err := s.indexer.Index(ctx, &interfaces.IndexDocument{
		ID:      page.ID,
		URL:     page.CanonicalURL,
		Title:   page.Title,
		Content: content,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Warn().Err(err).Str("url", page.CanonicalURL).Msg("Index push failed")
		}
		return
	}

	page.IsIndexed = true
	if err := s.db.Store().Upsert(page.ID, page); err != nil && s.logger != nil {
		s.logger.Warn().Err(err).Str("id", page.ID).Msg("Failed to mark page indexed")
	}
}

func crawlLogFromResult(result *models.CrawlResult, now time.Time) *models.CrawlLog {
	status := models.PageCrawlFailed
	if result.IsSuccess() {
		status = models.PageCrawlSuccess
	}
	return &models.CrawlLog{
		URL:            result.URL,
		Domain:         result.Domain,
		CrawlTime:      now,
		Status:         status,
		HTTPStatusCode: result.HTTPStatus,
		ErrorMessage:   result.ErrorMessage,
		ContentSize:    result.ContentSize,
		ContentType:    result.ContentType,
		Links:          len(result.OutboundLinks),
		Title:          result.Title,
		Description:    result.MetaDescription,
	}
}

func (s *PageStorage) findByCanonicalURL(canonicalURL string) (*models.IndexedPage, error) {
	var pages []models.IndexedPage
	err := s.db.Store().Find(&pages, badgerhold.Where("CanonicalURL").Eq(canonicalURL).Index("CanonicalURL"))
	if err != nil {
		return nil, fmt.Errorf("failed to find page: %w", err)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}

// GetIndexedPage looks up a page by URL, canonicalizing first
func (s *PageStorage) GetIndexedPage(ctx context.Context, url string) (*models.IndexedPage, error) {
	key := s.canon.Canonicalize(url)
	page, err := s.findByCanonicalURL(key)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, common.NewNotFoundError("page not found: %s", key)
	}
	return page, nil
}

// ListByDomain returns all pages for a domain, most recently indexed first
func (s *PageStorage) ListByDomain(ctx context.Context, domain string) ([]*models.IndexedPage, error) {
	var pages []models.IndexedPage
	err := s.db.Store().Find(&pages, badgerhold.Where("Domain").Eq(domain).Index("Domain").SortBy("IndexedAt").Reverse())
	if err != nil {
		return nil, fmt.Errorf("failed to list pages by domain: %w", err)
	}
	return pagePtrs(pages), nil
}

// ListByStatus returns all pages whose last crawl had the given status
func (s *PageStorage) ListByStatus(ctx context.Context, status models.PageCrawlStatus) ([]*models.IndexedPage, error) {
	var pages []models.IndexedPage
	err := s.db.Store().Find(&pages, badgerhold.Where("CrawlMetadata.LastCrawlStatus").Eq(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list pages by status: %w", err)
	}
	return pagePtrs(pages), nil
}

// TotalCount returns the number of stored page documents
func (s *PageStorage) TotalCount(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.IndexedPage{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return int(count), nil
}

// DeleteByURL removes a page document and its index entry
func (s *PageStorage) DeleteByURL(ctx context.Context, url string) error {
	key := s.canon.Canonicalize(url)
	page, err := s.findByCanonicalURL(key)
	if err != nil {
		return err
	}
	if page == nil {
		return nil
	}
	if err := s.db.Store().Delete(page.ID, &models.IndexedPage{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	if s.indexer != nil {
		if err := s.indexer.Delete(ctx, page.ID); err != nil && s.logger != nil {
			s.logger.Warn().Err(err).Str("id", page.ID).Msg("Index delete failed")
		}
	}
	return nil
}

// DeleteByDomain removes all page documents for a domain
func (s *PageStorage) DeleteByDomain(ctx context.Context, domain string) (int, error) {
	pages, err := s.ListByDomain(ctx, domain)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, page := range pages {
		if err := s.db.Store().Delete(page.ID, &models.IndexedPage{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return deleted, fmt.Errorf("failed to delete page %s: %w", page.ID, err)
		}
		deleted++
		if s.indexer != nil {
			if err := s.indexer.Delete(ctx, page.ID); err != nil && s.logger != nil {
				s.logger.Warn().Err(err).Str("id", page.ID).Msg("Index delete failed")
			}
		}
	}
	return deleted, nil
}

// ReindexAll pushes every stored page back into the indexer
func (s *PageStorage) ReindexAll(ctx context.Context) (int, error) {
	if s.indexer == nil {
		return 0, common.NewDependencyError("no indexer configured", nil)
	}

	var pages []models.IndexedPage
	if err := s.db.Store().Find(&pages, nil); err != nil {
		return 0, fmt.Errorf("failed to load pages for reindex: %w", err)
	}

	indexed := 0
	for i := range pages {
		if ctx.Err() != nil {
			return indexed, ctx.Err()
		}
		s.pushToIndex(ctx, &pages[i])
		if pages[i].IsIndexed {
			indexed++
		}
	}
	return indexed, nil
}

func pagePtrs(pages []models.IndexedPage) []*models.IndexedPage {
	result := make([]*models.IndexedPage, len(pages))
	for i := range pages {
		result[i] = &pages[i]
	}
	return result
}
