package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger. Dequeue is
// a read-modify-write; a mutex keeps concurrent workers from claiming
// the same job.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	dequeueMu sync.Mutex
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewNotFoundError("job not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	return s.SaveJob(ctx, job)
}

func (s *JobStorage) DeleteJob(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobsByUser(ctx context.Context, userID string) ([]*models.Job, error) {
	return s.findJobs(badgerhold.Where("UserID").Eq(userID).Index("UserID").SortBy("CreatedAt").Reverse())
}

func (s *JobStorage) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return s.findJobs(badgerhold.Where("Status").Eq(status).Index("Status").SortBy("CreatedAt").Reverse())
}

func (s *JobStorage) ListJobsByType(ctx context.Context, jobType string) ([]*models.Job, error) {
	return s.findJobs(badgerhold.Where("JobType").Eq(jobType).Index("JobType").SortBy("CreatedAt").Reverse())
}

func (s *JobStorage) ListJobsByPriority(ctx context.Context, priority models.JobPriority) ([]*models.Job, error) {
	return s.findJobs(badgerhold.Where("Priority").Eq(priority).Index("Priority").SortBy("CreatedAt").Reverse())
}

func (s *JobStorage) findJobs(query *badgerhold.Query) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// SaveJobs stores a batch, reporting per-job outcomes instead of failing
// the whole batch
func (s *JobStorage) SaveJobs(ctx context.Context, jobs []*models.Job) (*models.BatchResult, error) {
	result := &models.BatchResult{Errors: make(map[string]string)}
	for _, job := range jobs {
		if err := s.SaveJob(ctx, job); err != nil {
			result.Failed = append(result.Failed, job.ID)
			result.Errors[job.ID] = err.Error()
			continue
		}
		result.Successful = append(result.Successful, job.ID)
	}
	return result, nil
}

func (s *JobStorage) UpdateJobs(ctx context.Context, jobs []*models.Job) (*models.BatchResult, error) {
	return s.SaveJobs(ctx, jobs)
}

// EnqueueJob stores a job in QUEUED status for the scheduler to pick up
func (s *JobStorage) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job.Status != models.JobStatusQueued {
		return fmt.Errorf("cannot enqueue job %s in status %s", job.ID, job.Status)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	return s.SaveJob(ctx, job)
}

// DequeueJob claims the highest-priority due job for a worker. Ties break
// oldest first. Returns nil when the queue is empty.
func (s *JobStorage) DequeueJob(ctx context.Context, workerID string) (*models.Job, error) {
	s.dequeueMu.Lock()
	defer s.dequeueMu.Unlock()

	var queued []models.Job
	err := s.db.Store().Find(&queued, badgerhold.Where("Status").Eq(models.JobStatusQueued).Index("Status"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	now := time.Now()
	var best *models.Job
	for i := range queued {
		job := &queued[i]
		if job.ScheduledAt != nil && job.ScheduledAt.After(now) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	if err := best.Start(); err != nil {
		return nil, err
	}
	best.WorkerID = workerID
	if err := s.db.Store().Upsert(best.ID, best); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return best, nil
}

func (s *JobStorage) SaveJobConfig(ctx context.Context, cfg *models.JobConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	if err := s.db.Store().Upsert(cfg.JobType, cfg); err != nil {
		return fmt.Errorf("failed to save job config: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJobConfig(ctx context.Context, jobType string) (*models.JobConfig, error) {
	var cfg models.JobConfig
	if err := s.db.Store().Get(jobType, &cfg); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewNotFoundError("job config not found: %s", jobType)
		}
		return nil, fmt.Errorf("failed to get job config: %w", err)
	}
	return &cfg, nil
}

func (s *JobStorage) ListJobConfigs(ctx context.Context) ([]*models.JobConfig, error) {
	var configs []models.JobConfig
	if err := s.db.Store().Find(&configs, nil); err != nil {
		return nil, fmt.Errorf("failed to list job configs: %w", err)
	}
	result := make([]*models.JobConfig, len(configs))
	for i := range configs {
		result[i] = &configs[i]
	}
	return result, nil
}

func (s *JobStorage) DeleteJobConfig(ctx context.Context, jobType string) error {
	if err := s.db.Store().Delete(jobType, &models.JobConfig{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete job config: %w", err)
	}
	return nil
}

func (s *JobStorage) SaveJobResult(ctx context.Context, result *models.JobResult) error {
	if result.ID == "" {
		return fmt.Errorf("job result ID is required")
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(result.ID, result); err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJobResult(ctx context.Context, id string) (*models.JobResult, error) {
	var result models.JobResult
	if err := s.db.Store().Get(id, &result); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.NewNotFoundError("job result not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get job result: %w", err)
	}
	return &result, nil
}

func (s *JobStorage) GetJobResultsByJob(ctx context.Context, jobID string) ([]*models.JobResult, error) {
	var results []models.JobResult
	err := s.db.Store().Find(&results, badgerhold.Where("JobID").Eq(jobID).Index("JobID").SortBy("CreatedAt").Reverse())
	if err != nil {
		return nil, fmt.Errorf("failed to get job results: %w", err)
	}
	out := make([]*models.JobResult, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	return out, nil
}

func (s *JobStorage) AppendJobHistory(ctx context.Context, entry *models.JobHistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := s.db.Store().Insert(badgerhold.NextSequence(), entry); err != nil {
		return fmt.Errorf("failed to append job history: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJobHistory(ctx context.Context, jobID string) ([]*models.JobHistoryEntry, error) {
	var entries []models.JobHistoryEntry
	err := s.db.Store().Find(&entries, badgerhold.Where("JobID").Eq(jobID).Index("JobID").SortBy("Timestamp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get job history: %w", err)
	}
	out := make([]*models.JobHistoryEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out, nil
}

// GetJobStats summarizes queue state for the status API
func (s *JobStorage) GetJobStats(ctx context.Context) (*models.JobStats, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to load jobs for stats: %w", err)
	}

	stats := &models.JobStats{
		Total:    len(jobs),
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}
	for i := range jobs {
		job := &jobs[i]
		stats.ByStatus[string(job.Status)]++
		stats.ByType[job.JobType]++
		if job.Status == models.JobStatusQueued {
			stats.QueueDepth++
			if stats.Oldest == nil || job.CreatedAt.Before(*stats.Oldest) {
				created := job.CreatedAt
				stats.Oldest = &created
			}
		}
	}
	return stats, nil
}

// CleanupExpiredData removes job results past their ExpiresAt
func (s *JobStorage) CleanupExpiredData(ctx context.Context) (int, error) {
	now := time.Now()

	var results []models.JobResult
	if err := s.db.Store().Find(&results, nil); err != nil {
		return 0, fmt.Errorf("failed to load job results: %w", err)
	}

	deleted := 0
	for i := range results {
		r := &results[i]
		if r.ExpiresAt == nil || r.ExpiresAt.After(now) {
			continue
		}
		if err := s.db.Store().Delete(r.ID, &models.JobResult{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return deleted, fmt.Errorf("failed to delete job result %s: %w", r.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// CleanupOldCompletedJobs removes COMPLETED jobs finished before the cutoff
func (s *JobStorage) CleanupOldCompletedJobs(ctx context.Context, daysOld int) (int, error) {
	return s.cleanupJobsByStatus(models.JobStatusCompleted, daysOld)
}

// CleanupOldFailedJobs removes FAILED jobs finished before the cutoff
func (s *JobStorage) CleanupOldFailedJobs(ctx context.Context, daysOld int) (int, error) {
	return s.cleanupJobsByStatus(models.JobStatusFailed, daysOld)
}

func (s *JobStorage) cleanupJobsByStatus(status models.JobStatus, daysOld int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -daysOld)

	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status).Index("Status"))
	if err != nil {
		return 0, fmt.Errorf("failed to load %s jobs: %w", status, err)
	}

	deleted := 0
	for i := range jobs {
		job := &jobs[i]
		if job.CompletedAt == nil || job.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(job.ID, &models.Job{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return deleted, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}
		deleted++
	}
	return deleted, nil
}
