package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func openTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

type fakeIndexer struct {
	docs    map[string]*interfaces.IndexDocument
	deleted []string
	fail    bool
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{docs: make(map[string]*interfaces.IndexDocument)}
}

func (f *fakeIndexer) Index(ctx context.Context, doc *interfaces.IndexDocument) error {
	if f.fail {
		return errors.New("indexer down")
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeIndexer) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.docs, id)
	return nil
}

func (f *fakeIndexer) Search(ctx context.Context, query string, page, limit int) (*interfaces.SearchResult, error) {
	return &interfaces.SearchResult{}, nil
}

func (f *fakeIndexer) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeIndexer) Ping(ctx context.Context) error { return nil }
func (f *fakeIndexer) Close() error                   { return nil }

func successResult(url string) *models.CrawlResult {
	started := time.Now().Add(-time.Second)
	finished := time.Now()
	return &models.CrawlResult{
		URL:             url,
		Domain:          "example.com",
		CrawlStatus:     models.CrawlStatusDownloaded,
		HTTPStatus:      200,
		ContentType:     "text/html",
		ContentSize:     1234,
		Title:           "Example Page",
		MetaDescription: "A page about examples",
		TextContent:     "Example body content with several words in it",
		OutboundLinks:   []string{"https://example.com/a", "https://example.com/b"},
		StartedAt:       &started,
		FinishedAt:      &finished,
	}
}

func TestPageStorage_StoreAndGet(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	crawlLog := NewCrawlLogStorage(db, logger)
	indexer := newFakeIndexer()
	storage := NewPageStorage(db, crawlLog, indexer, logger)
	ctx := context.Background()

	id, err := storage.StoreCrawlResult(ctx, successResult("https://example.com/page"))
	if err != nil {
		t.Fatalf("StoreCrawlResult failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a page ID")
	}

	page, err := storage.GetIndexedPage(ctx, "https://example.com/page")
	if err != nil {
		t.Fatalf("GetIndexedPage failed: %v", err)
	}
	if page.Title != "Example Page" {
		t.Errorf("expected title 'Example Page', got %q", page.Title)
	}
	if page.CanonicalURL != "https://example.com/page" {
		t.Errorf("unexpected canonical URL: %q", page.CanonicalURL)
	}
	if page.CrawlMetadata.CrawlCount != 1 {
		t.Errorf("expected crawl count 1, got %d", page.CrawlMetadata.CrawlCount)
	}
	if page.WordCount == 0 {
		t.Error("expected nonzero word count")
	}
	if !page.IsIndexed {
		t.Error("expected page to be marked indexed")
	}
	if _, ok := indexer.docs[id]; !ok {
		t.Error("expected index push")
	}
}

func TestPageStorage_CanonicalDedup(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewPageStorage(db, NewCrawlLogStorage(db, logger), nil, logger)
	ctx := context.Background()

	id1, err := storage.StoreCrawlResult(ctx, successResult("https://WWW.Example.com/page?utm_source=x"))
	if err != nil {
		t.Fatal(err)
	}

	// Same canonical URL through a different surface form
	id2, err := storage.StoreCrawlResult(ctx, successResult("https://example.com:443/page"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("expected dedup to reuse the document: %s vs %s", id1, id2)
	}

	count, err := storage.TotalCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 document, got %d", count)
	}

	page, err := storage.GetIndexedPage(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if page.CrawlMetadata.CrawlCount != 2 {
		t.Errorf("expected crawl count 2, got %d", page.CrawlMetadata.CrawlCount)
	}
}

func TestPageStorage_RedirectLogsRequestedURL(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	crawlLog := NewCrawlLogStorage(db, logger)
	storage := NewPageStorage(db, crawlLog, nil, logger)
	ctx := context.Background()

	result := successResult("http://site.test/old")
	result.Domain = "site.test"
	result.FinalURL = "https://site.test/new"
	if _, err := storage.StoreCrawlResult(ctx, result); err != nil {
		t.Fatal(err)
	}

	// The crawl log keeps the URL that was requested
	logs, err := crawlLog.GetCrawlLogsByURL(ctx, "http://site.test/old", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log entry for the requested URL, got %d", len(logs))
	}

	logs, err = crawlLog.GetCrawlLogsByURL(ctx, "https://site.test/new", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no log entries under the final URL, got %d", len(logs))
	}

	// The page document keys on the redirect target
	page, err := storage.GetIndexedPage(ctx, "https://site.test/new")
	if err != nil {
		t.Fatal(err)
	}
	if page.CanonicalURL != "https://site.test/new" {
		t.Errorf("unexpected canonical URL: %q", page.CanonicalURL)
	}
	if page.URL != "http://site.test/old" {
		t.Errorf("expected requested URL on the document, got %q", page.URL)
	}
}

func TestPageStorage_EmptyTextNotIndexed(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	indexer := newFakeIndexer()
	storage := NewPageStorage(db, NewCrawlLogStorage(db, logger), indexer, logger)
	ctx := context.Background()

	result := successResult("https://example.com/empty")
	result.TextContent = ""
	id, err := storage.StoreCrawlResult(ctx, result)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a page ID")
	}

	if len(indexer.docs) != 0 {
		t.Errorf("expected no index push for a page without text, got %d docs", len(indexer.docs))
	}

	page, err := storage.GetIndexedPage(ctx, "https://example.com/empty")
	if err != nil {
		t.Fatal(err)
	}
	if page.IsIndexed {
		t.Error("page without text must not be marked indexed")
	}
}

func TestPageStorage_RecrawlPreservesRankAndFirstCrawl(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewPageStorage(db, NewCrawlLogStorage(db, logger), nil, logger).(*PageStorage)
	ctx := context.Background()

	if _, err := storage.StoreCrawlResult(ctx, successResult("https://example.com/page")); err != nil {
		t.Fatal(err)
	}

	// Simulate rank assignment between crawls
	page, err := storage.GetIndexedPage(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	firstCrawl := page.CrawlMetadata.FirstCrawlTime
	page.PageRank = 0.7
	page.InboundLinkCount = 12
	page.Category = "reference"
	if err := db.Store().Upsert(page.ID, page); err != nil {
		t.Fatal(err)
	}

	updated := successResult("https://example.com/page")
	updated.Title = "Updated Title"
	if _, err := storage.StoreCrawlResult(ctx, updated); err != nil {
		t.Fatal(err)
	}

	page, err = storage.GetIndexedPage(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Updated Title" {
		t.Errorf("expected updated title, got %q", page.Title)
	}
	if page.PageRank != 0.7 {
		t.Errorf("expected preserved page rank, got %f", page.PageRank)
	}
	if page.InboundLinkCount != 12 {
		t.Errorf("expected preserved inbound link count, got %d", page.InboundLinkCount)
	}
	if page.Category != "reference" {
		t.Errorf("expected preserved category, got %q", page.Category)
	}
	if !page.CrawlMetadata.FirstCrawlTime.Equal(firstCrawl) {
		t.Error("expected preserved first crawl time")
	}
}

func TestPageStorage_FailureOnlyTouchesMetadata(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewPageStorage(db, NewCrawlLogStorage(db, logger), nil, logger)
	ctx := context.Background()

	if _, err := storage.StoreCrawlResult(ctx, successResult("https://example.com/page")); err != nil {
		t.Fatal(err)
	}

	failure := &models.CrawlResult{
		URL:          "https://example.com/page",
		Domain:       "example.com",
		CrawlStatus:  models.CrawlStatusFailed,
		HTTPStatus:   503,
		FailureType:  models.FailureTemporary5xx,
		ErrorMessage: "HTTP status 503",
	}
	if _, err := storage.StoreCrawlResult(ctx, failure); err != nil {
		t.Fatal(err)
	}

	page, err := storage.GetIndexedPage(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Example Page" {
		t.Errorf("content must survive a failed re-crawl, got title %q", page.Title)
	}
	if page.CrawlMetadata.LastCrawlStatus != models.PageCrawlFailed {
		t.Errorf("expected failed status, got %s", page.CrawlMetadata.LastCrawlStatus)
	}
	if page.CrawlMetadata.LastErrorMessage != "HTTP status 503" {
		t.Errorf("unexpected error message: %q", page.CrawlMetadata.LastErrorMessage)
	}
	if page.CrawlMetadata.CrawlCount != 2 {
		t.Errorf("expected crawl count 2, got %d", page.CrawlMetadata.CrawlCount)
	}
}

func TestPageStorage_FailedStoreWithoutExistingPage(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	crawlLog := NewCrawlLogStorage(db, logger)
	storage := NewPageStorage(db, crawlLog, nil, logger)
	ctx := context.Background()

	failure := &models.CrawlResult{
		URL:          "https://example.com/missing",
		Domain:       "example.com",
		CrawlStatus:  models.CrawlStatusFailed,
		HTTPStatus:   404,
		FailureType:  models.FailurePermanent4xx,
		ErrorMessage: "HTTP status 404",
	}
	id, err := storage.StoreCrawlResult(ctx, failure)
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("expected no page document, got ID %q", id)
	}

	count, err := storage.TotalCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected 0 page documents, got %d", count)
	}

	// The attempt is still visible in the crawl log
	logs, err := crawlLog.GetCrawlLogsByDomain(ctx, "example.com", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 crawl log entry, got %d", len(logs))
	}
	if logs[0].Status != models.PageCrawlFailed {
		t.Errorf("expected failed crawl log entry, got %s", logs[0].Status)
	}
}

func TestPageStorage_IndexerFailureDoesNotFailStore(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	indexer := newFakeIndexer()
	indexer.fail = true
	storage := NewPageStorage(db, NewCrawlLogStorage(db, logger), indexer, logger)
	ctx := context.Background()

	id, err := storage.StoreCrawlResult(ctx, successResult("https://example.com/page"))
	if err != nil {
		t.Fatalf("store must succeed when indexer is down: %v", err)
	}
	if id == "" {
		t.Fatal("expected a page ID")
	}

	page, err := storage.GetIndexedPage(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if page.IsIndexed {
		t.Error("page must not be marked indexed after a push failure")
	}
}

func TestPageStorage_ListAndDelete(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	indexer := newFakeIndexer()
	storage := NewPageStorage(db, NewCrawlLogStorage(db, logger), indexer, logger)
	ctx := context.Background()

	urls := []string{
		"https://example.com/one",
		"https://example.com/two",
		"https://other.net/three",
	}
	for _, u := range urls {
		r := successResult(u)
		if u == urls[2] {
			r.Domain = "other.net"
		}
		if _, err := storage.StoreCrawlResult(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	pages, err := storage.ListByDomain(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages for example.com, got %d", len(pages))
	}

	byStatus, err := storage.ListByStatus(ctx, models.PageCrawlSuccess)
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 3 {
		t.Fatalf("expected 3 successful pages, got %d", len(byStatus))
	}

	if err := storage.DeleteByURL(ctx, "https://example.com/one"); err != nil {
		t.Fatal(err)
	}
	if len(indexer.deleted) != 1 {
		t.Errorf("expected 1 index delete, got %d", len(indexer.deleted))
	}

	deleted, err := storage.DeleteByDomain(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 remaining page deleted, got %d", deleted)
	}

	count, err := storage.TotalCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 page left, got %d", count)
	}
}

func TestPageStorage_ReindexAll(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	indexer := newFakeIndexer()
	storage := NewPageStorage(db, NewCrawlLogStorage(db, logger), indexer, logger)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		if _, err := storage.StoreCrawlResult(ctx, successResult(u)); err != nil {
			t.Fatal(err)
		}
	}
	indexer.docs = make(map[string]*interfaces.IndexDocument) // Simulate lost index

	n, err := storage.ReindexAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 pages reindexed, got %d", n)
	}
	if len(indexer.docs) != 2 {
		t.Errorf("expected 2 docs in index, got %d", len(indexer.docs))
	}
}

func TestCrawlLogStorage_AppendAndQuery(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	crawlLog := NewCrawlLogStorage(db, logger)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		entry := &models.CrawlLog{
			URL:       "https://example.com/page",
			Domain:    "example.com",
			CrawlTime: base.Add(time.Duration(i) * time.Minute),
			Status:    models.PageCrawlSuccess,
		}
		if err := crawlLog.AppendCrawlLog(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	logs, err := crawlLog.GetCrawlLogsByURL(ctx, "https://example.com/page", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(logs))
	}
	// Most recent first
	if !logs[0].CrawlTime.After(logs[1].CrawlTime) {
		t.Error("expected newest-first ordering")
	}

	deleted, err := crawlLog.DeleteCrawlLogsBefore(ctx, base.Add(3*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 entries deleted, got %d", deleted)
	}

	remaining, err := crawlLog.GetCrawlLogsByDomain(ctx, "example.com", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Errorf("expected 2 entries remaining, got %d", len(remaining))
	}
}
