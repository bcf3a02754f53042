// -----------------------------------------------------------------------
// Storage Interfaces - Persistence contracts for pages, logs, and jobs
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/reperio/internal/models"
)

// PageStorage - interface for canonical page persistence
type PageStorage interface {
	// Write path (serialized per canonical URL by the implementation)
	StoreCrawlResult(ctx context.Context, result *models.CrawlResult) (string, error)

	// Lookup operations
	GetIndexedPage(ctx context.Context, url string) (*models.IndexedPage, error)
	ListByDomain(ctx context.Context, domain string) ([]*models.IndexedPage, error)
	ListByStatus(ctx context.Context, status models.PageCrawlStatus) ([]*models.IndexedPage, error)
	TotalCount(ctx context.Context) (int, error)

	// Delete operations
	DeleteByURL(ctx context.Context, url string) error
	DeleteByDomain(ctx context.Context, domain string) (int, error)

	// Reindex pushes every stored page back into the indexer
	ReindexAll(ctx context.Context) (int, error)
}

// CrawlLogStorage - interface for the append-only crawl log
type CrawlLogStorage interface {
	AppendCrawlLog(ctx context.Context, entry *models.CrawlLog) error
	GetCrawlLogsByDomain(ctx context.Context, domain string, limit int) ([]*models.CrawlLog, error)
	GetCrawlLogsByURL(ctx context.Context, url string, limit int) ([]*models.CrawlLog, error)
	DeleteCrawlLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// JobStorage - interface for job, config, result, queue, and history persistence
type JobStorage interface {
	// Job CRUD
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobsByUser(ctx context.Context, userID string) ([]*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	ListJobsByType(ctx context.Context, jobType string) ([]*models.Job, error)
	ListJobsByPriority(ctx context.Context, priority models.JobPriority) ([]*models.Job, error)

	// Batch operations
	SaveJobs(ctx context.Context, jobs []*models.Job) (*models.BatchResult, error)
	UpdateJobs(ctx context.Context, jobs []*models.Job) (*models.BatchResult, error)

	// Queue operations
	EnqueueJob(ctx context.Context, job *models.Job) error
	DequeueJob(ctx context.Context, workerID string) (*models.Job, error)

	// Config CRUD
	SaveJobConfig(ctx context.Context, cfg *models.JobConfig) error
	GetJobConfig(ctx context.Context, jobType string) (*models.JobConfig, error)
	ListJobConfigs(ctx context.Context) ([]*models.JobConfig, error)
	DeleteJobConfig(ctx context.Context, jobType string) error

	// Result CRUD
	SaveJobResult(ctx context.Context, result *models.JobResult) error
	GetJobResult(ctx context.Context, id string) (*models.JobResult, error)
	GetJobResultsByJob(ctx context.Context, jobID string) ([]*models.JobResult, error)

	// History (append-only)
	AppendJobHistory(ctx context.Context, entry *models.JobHistoryEntry) error
	GetJobHistory(ctx context.Context, jobID string) ([]*models.JobHistoryEntry, error)

	// Stats and cleanup
	GetJobStats(ctx context.Context) (*models.JobStats, error)
	CleanupExpiredData(ctx context.Context) (int, error)
	CleanupOldCompletedJobs(ctx context.Context, daysOld int) (int, error)
	CleanupOldFailedJobs(ctx context.Context, daysOld int) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	PageStorage() PageStorage
	CrawlLogStorage() CrawlLogStorage
	JobStorage() JobStorage
	DB() interface{}
	Close() error
}
