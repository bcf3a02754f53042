package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CrawlLogStorage implements the append-only crawl log for Badger
type CrawlLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCrawlLogStorage creates a new CrawlLogStorage instance
func NewCrawlLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CrawlLogStorage {
	return &CrawlLogStorage{
		db:     db,
		logger: logger,
	}
}

// AppendCrawlLog inserts one crawl attempt record. Entries are never
// updated after insertion.
func (s *CrawlLogStorage) AppendCrawlLog(ctx context.Context, entry *models.CrawlLog) error {
	if entry.CrawlTime.IsZero() {
		entry.CrawlTime = time.Now()
	}
	if err := s.db.Store().Insert(badgerhold.NextSequence(), entry); err != nil {
		return fmt.Errorf("failed to append crawl log: %w", err)
	}
	return nil
}

// GetCrawlLogsByDomain returns the most recent entries for a domain
func (s *CrawlLogStorage) GetCrawlLogsByDomain(ctx context.Context, domain string, limit int) ([]*models.CrawlLog, error) {
	query := badgerhold.Where("Domain").Eq(domain).Index("Domain").SortBy("CrawlTime").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var logs []models.CrawlLog
	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get crawl logs by domain: %w", err)
	}
	return logPtrs(logs), nil
}

// GetCrawlLogsByURL returns the most recent entries for a canonical URL
func (s *CrawlLogStorage) GetCrawlLogsByURL(ctx context.Context, url string, limit int) ([]*models.CrawlLog, error) {
	query := badgerhold.Where("URL").Eq(url).Index("URL").SortBy("CrawlTime").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var logs []models.CrawlLog
	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to get crawl logs by URL: %w", err)
	}
	return logPtrs(logs), nil
}

// DeleteCrawlLogsBefore removes entries older than the cutoff and returns
// the number deleted
func (s *CrawlLogStorage) DeleteCrawlLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("CrawlTime").Lt(cutoff)

	count, err := s.db.Store().Count(&models.CrawlLog{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired crawl logs: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.CrawlLog{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired crawl logs: %w", err)
	}
	return int(count), nil
}

func logPtrs(logs []models.CrawlLog) []*models.CrawlLog {
	result := make([]*models.CrawlLog, len(logs))
	for i := range logs {
		result[i] = &logs[i]
	}
	return result
}
