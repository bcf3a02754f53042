// -----------------------------------------------------------------------
// Scheduler - Background job runner and retention cleanup
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/crawler"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

const defaultCrawlJobTimeout = 30 * time.Minute

// Scheduler drains the persistent job queue and runs the daily retention
// cleanup. One scheduler instance runs per process; the queue itself is
// shared through storage, so jobs survive restarts.
type Scheduler struct {
	cfg      common.SchedulerConfig
	jobs     interfaces.JobStorage
	logs     interfaces.CrawlLogStorage
	pages    interfaces.PageStorage
	sessions *crawler.SessionManager
	logger   arbor.ILogger

	cron     *cron.Cron
	workerID string

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewScheduler builds a stopped scheduler. Sessions may be nil, in which
// case crawl jobs fail with a configuration error instead of panicking.
func NewScheduler(cfg common.SchedulerConfig, jobs interfaces.JobStorage, logs interfaces.CrawlLogStorage, pages interfaces.PageStorage, sessions *crawler.SessionManager, logger arbor.ILogger) *Scheduler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		workerID = "worker-" + host
	}
	return &Scheduler{
		cfg:      cfg,
		jobs:     jobs,
		logs:     logs,
		pages:    pages,
		sessions: sessions,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
		workerID: workerID,
	}
}

// WorkerID returns the identifier stamped on dequeued jobs
func (s *Scheduler) WorkerID() string {
	return s.workerID
}

// Start registers the cleanup cron entry and launches the queue poller
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Scheduler disabled by configuration")
		return nil
	}

	if s.cfg.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, s.runRetentionCleanup); err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", s.cfg.CleanupSchedule, err)
		}
	}
	s.registerRecurringJobs()
	s.cron.Start()

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.pollLoop()

	s.running = true
	s.logger.Info().
		Str("worker_id", s.workerID).
		Str("cleanup_schedule", s.cfg.CleanupSchedule).
		Str("poll_interval", s.cfg.PollInterval.String()).
		Msg("Scheduler started")
	return nil
}

// Stop halts the poller and the cron runner. Jobs already dispatched run
// to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning reports whether the poller is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) pollLoop() {
	defer close(s.done)

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.drainQueue()
		}
	}
}

// drainQueue dequeues up to the batch size and runs each job to
// completion before taking the next
func (s *Scheduler) drainQueue() {
	batch := s.cfg.DequeueBatchSize
	if batch <= 0 {
		batch = 1
	}

	ctx := context.Background()
	for i := 0; i < batch; i++ {
		select {
		case <-s.stop:
			return
		default:
		}

		job, err := s.jobs.DequeueJob(ctx, s.workerID)
		if err != nil {
			s.logger.Error().Err(err).Msg("Job dequeue failed")
			return
		}
		if job == nil {
			return
		}
		s.execute(ctx, job)
	}
}

func (s *Scheduler) execute(ctx context.Context, job *models.Job) {
	started := time.Now()
	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Msg("🚀 Job execution started")
	s.appendHistory(ctx, job.ID, "dequeued", "worker "+s.workerID)

	var err error
	switch job.JobType {
	case models.JobTypeCrawl:
		err = s.runCrawlJob(ctx, job)
	case models.JobTypeReindex:
		err = s.runReindexJob(ctx, job)
	case models.JobTypeCleanup:
		s.runRetentionCleanup()
	default:
		err = fmt.Errorf("unknown job type %q", job.JobType)
	}

	duration := time.Since(started)
	if err != nil {
		s.failJob(ctx, job, err, duration)
		return
	}

	if cErr := job.Complete(); cErr != nil {
		s.logger.Warn().Err(cErr).Str("job_id", job.ID).Msg("Job completion transition rejected")
	}
	if uErr := s.jobs.UpdateJob(ctx, job); uErr != nil {
		s.logger.Error().Err(uErr).Str("job_id", job.ID).Msg("Failed to persist completed job")
	}
	s.appendHistory(ctx, job.ID, "completed", "")
	s.saveResult(ctx, job, duration, nil)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("duration", duration.String()).
		Msg("✅ Job execution completed")
}

// failJob records the failure and requeues the job with backoff while the
// retry budget lasts
func (s *Scheduler) failJob(ctx context.Context, job *models.Job, jobErr error, duration time.Duration) {
	s.logger.Error().
		Err(jobErr).
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Msg("❌ Job execution failed")

	if err := job.Fail(jobErr.Error()); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Job failure transition rejected")
	}
	s.appendHistory(ctx, job.ID, "failed", jobErr.Error())
	s.saveResult(ctx, job, duration, jobErr)

	retried, err := job.IncrementRetry()
	if err == nil && retried {
		policy := models.NewDefaultRetryPolicy()
		at := time.Now().Add(policy.DelayFor(job.RetryCount))
		if rErr := job.Requeue(at); rErr != nil {
			s.logger.Warn().Err(rErr).Str("job_id", job.ID).Msg("Job requeue transition rejected")
		} else {
			s.appendHistory(ctx, job.ID, "requeued",
				fmt.Sprintf("retry %d/%d at %s", job.RetryCount, job.MaxRetries, at.Format(time.RFC3339)))
		}
	}

	if uErr := s.jobs.UpdateJob(ctx, job); uErr != nil {
		s.logger.Error().Err(uErr).Str("job_id", job.ID).Msg("Failed to persist failed job")
	}
}

// runCrawlJob starts a session for the job's seed URL and blocks until it
// finishes or the job timeout elapses
func (s *Scheduler) runCrawlJob(ctx context.Context, job *models.Job) error {
	if s.sessions == nil {
		return fmt.Errorf("no session manager configured for crawl jobs")
	}

	seedURL, _ := job.Metadata["seed_url"].(string)
	if seedURL == "" {
		return fmt.Errorf("crawl job %s has no seed_url in metadata", job.ID)
	}
	force, _ := job.Metadata["force"].(bool)

	crawlCfg := models.NewDefaultCrawlConfig()
	if raw, ok := job.Metadata["config"]; ok {
		data, err := json.Marshal(raw)
		if err == nil {
			if err := json.Unmarshal(data, &crawlCfg); err != nil {
				return fmt.Errorf("crawl job %s has malformed config: %w", job.ID, err)
			}
		}
	}

	done := make(chan struct{})
	sessionID, err := s.sessions.StartCrawl(seedURL, crawlCfg, force, func([]*models.CrawlResult) {
		close(done)
	})
	if err != nil {
		return err
	}
	job.Metadata["session_id"] = sessionID

	timeout := defaultCrawlJobTimeout
	if job.Timeout != nil && *job.Timeout > 0 {
		timeout = *job.Timeout
	}

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("session_id", sessionID).
			Msg("Crawl job timed out, stopping session")
		if err := s.sessions.StopCrawl(sessionID); err != nil {
			return fmt.Errorf("crawl job timed out after %s and stop failed: %w", timeout, err)
		}
		<-done
		return fmt.Errorf("crawl job timed out after %s", timeout)
	case <-s.stop:
		if err := s.sessions.StopCrawl(sessionID); err == nil {
			<-done
		}
		return fmt.Errorf("scheduler shutting down")
	}

	status, err := s.sessions.GetStatus(sessionID)
	if err == nil {
		job.Metadata["successful_pages"] = status.Statistics.SuccessfulCrawls
		job.Metadata["failed_pages"] = status.Statistics.FailedCrawls
	}
	return nil
}

func (s *Scheduler) runReindexJob(ctx context.Context, job *models.Job) error {
	if s.pages == nil {
		return fmt.Errorf("no page storage configured for reindex jobs")
	}
	count, err := s.pages.ReindexAll(ctx)
	if err != nil {
		return err
	}
	job.Metadata["reindexed_pages"] = count
	return nil
}

// runRetentionCleanup deletes crawl logs, finished jobs, and expired job
// results older than the retention window
func (s *Scheduler) runRetentionCleanup() {
	days := s.cfg.RetentionDays
	if days <= 0 {
		days = 90
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	ctx := context.Background()

	s.logger.Info().
		Int("retention_days", days).
		Msg("🔄 Retention cleanup started")

	if s.logs != nil {
		if n, err := s.logs.DeleteCrawlLogsBefore(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("Crawl log cleanup failed")
		} else if n > 0 {
			s.logger.Info().Int("deleted", n).Msg("Old crawl logs removed")
		}
	}

	if n, err := s.jobs.CleanupOldCompletedJobs(ctx, days); err != nil {
		s.logger.Error().Err(err).Msg("Completed job cleanup failed")
	} else if n > 0 {
		s.logger.Info().Int("deleted", n).Msg("Old completed jobs removed")
	}

	if n, err := s.jobs.CleanupOldFailedJobs(ctx, days); err != nil {
		s.logger.Error().Err(err).Msg("Failed job cleanup failed")
	} else if n > 0 {
		s.logger.Info().Int("deleted", n).Msg("Old failed jobs removed")
	}

	if n, err := s.jobs.CleanupExpiredData(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Expired job result cleanup failed")
	} else if n > 0 {
		s.logger.Info().Int("deleted", n).Msg("Expired job results removed")
	}
}

// registerRecurringJobs adds a cron entry per enabled recurring JobConfig.
// Each firing enqueues a fresh job; execution still flows through the
// normal queue so retries and history apply.
func (s *Scheduler) registerRecurringJobs() {
	configs, err := s.jobs.ListJobConfigs(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load job configs for recurring schedules")
		return
	}

	for _, cfg := range configs {
		if !cfg.Enabled || !cfg.ScheduleConfig.Recurring || cfg.ScheduleConfig.CronExpression == "" {
			continue
		}
		cfg := cfg
		if _, err := s.cron.AddFunc(cfg.ScheduleConfig.CronExpression, func() { s.enqueueConfiguredJob(cfg) }); err != nil {
			s.logger.Warn().
				Err(err).
				Str("job_type", cfg.JobType).
				Str("cron", cfg.ScheduleConfig.CronExpression).
				Msg("Invalid recurring schedule, skipping")
			continue
		}
		s.logger.Info().
			Str("job_type", cfg.JobType).
			Str("cron", cfg.ScheduleConfig.CronExpression).
			Msg("Recurring job registered")
	}
}

func (s *Scheduler) enqueueConfiguredJob(cfg *models.JobConfig) {
	job := models.NewJob(cfg.JobType, cfg.DefaultPriority)
	job.ID = common.NewJobID()
	job.MaxRetries = cfg.RetryPolicy.MaxRetries
	for k, v := range cfg.Parameters {
		job.Metadata[k] = v
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		job.Timeout = &timeout
	}

	if err := s.jobs.EnqueueJob(context.Background(), job); err != nil {
		s.logger.Error().Err(err).Str("job_type", cfg.JobType).Msg("Failed to enqueue recurring job")
		return
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", cfg.JobType).
		Msg("Recurring job enqueued")
}

// RunCleanupNow triggers a retention pass outside the cron schedule
func (s *Scheduler) RunCleanupNow() {
	s.runRetentionCleanup()
}

func (s *Scheduler) appendHistory(ctx context.Context, jobID, event, details string) {
	entry := &models.JobHistoryEntry{
		JobID:     jobID,
		Event:     event,
		Details:   details,
		Timestamp: time.Now(),
	}
	if err := s.jobs.AppendJobHistory(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append job history")
	}
}

func (s *Scheduler) saveResult(ctx context.Context, job *models.Job, duration time.Duration, jobErr error) {
	result := &models.JobResult{
		ID:          common.NewJobID(),
		JobID:       job.ID,
		UserID:      job.UserID,
		TenantID:    job.TenantID,
		FinalStatus: job.Status,
		Metrics:     models.JobMetrics{ExecutionDuration: duration},
		CreatedAt:   time.Now(),
	}
	if days := s.cfg.RetentionDays; days > 0 {
		expires := time.Now().AddDate(0, 0, days)
		result.ExpiresAt = &expires
	}
	if jobErr != nil {
		result.Error = &models.JobError{
			Code:      "JOB_EXECUTION_FAILED",
			Message:   jobErr.Error(),
			Timestamp: time.Now(),
		}
	}
	if err := s.jobs.SaveJobResult(ctx, result); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job result")
	}
}
