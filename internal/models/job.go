// -----------------------------------------------------------------------
// Job Model - Background job state machine, config, and results
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the state of a background job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusRetrying   JobStatus = "retrying"
)

// JobPriority orders the job queue; higher values dequeue first
type JobPriority int

const (
	JobPriorityLow JobPriority = iota
	JobPriorityNormal
	JobPriorityHigh
	JobPriorityCritical
)

// Job types handled by the scheduler
const (
	JobTypeCrawl   = "crawl"
	JobTypeReindex = "reindex"
	JobTypeCleanup = "cleanup"
)

// jobTransitions lists the legal status transitions. Anything absent is
// rejected by transition().
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusFailed:     {JobStatusRetrying},
	JobStatusRetrying:   {JobStatusQueued, JobStatusCancelled},
	JobStatusCompleted:  {},
	JobStatusCancelled:  {},
}

// Job is the unit of background work tracked by the scheduler. Crawl
// sessions submitted through the API reuse it for queueing and history.
type Job struct {
	ID       string      `json:"id" badgerhold:"key"`
	UserID   string      `json:"user_id,omitempty" badgerhold:"index"`
	TenantID string      `json:"tenant_id,omitempty"`
	JobType  string      `json:"job_type" badgerhold:"index"`
	Status   JobStatus   `json:"status" badgerhold:"index"`
	Priority JobPriority `json:"priority" badgerhold:"index"`
	Progress int         `json:"progress"` // 0..100

	CreatedAt   time.Time  `json:"created_at" badgerhold:"index"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	Timeout    *time.Duration `json:"timeout,omitempty"`

	// WorkerID is stamped on dequeue so stuck jobs can be traced
	WorkerID string `json:"worker_id,omitempty"`
}

// NewJob creates a queued job with defaults
func NewJob(jobType string, priority JobPriority) *Job {
	return &Job{
		Status:     JobStatusQueued,
		JobType:    jobType,
		Priority:   priority,
		Progress:   0,
		CreatedAt:  time.Now(),
		Metadata:   make(map[string]interface{}),
		MaxRetries: 3,
	}
}

func (j *Job) transition(to JobStatus) error {
	for _, allowed := range jobTransitions[j.Status] {
		if allowed == to {
			j.Status = to
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s -> %s for job %s", j.Status, to, j.ID)
}

// Start moves the job to PROCESSING and stamps StartedAt
func (j *Job) Start() error {
	if err := j.transition(JobStatusProcessing); err != nil {
		return err
	}
	now := time.Now()
	j.StartedAt = &now
	return nil
}

// Complete moves the job to COMPLETED with progress 100
func (j *Job) Complete() error {
	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// Fail moves the job to FAILED and records the error message
func (j *Job) Fail(msg string) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.ErrorMessage = msg
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// Cancel moves the job to CANCELLED from any non-terminal state
func (j *Job) Cancel() error {
	if err := j.transition(JobStatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// IncrementRetry moves a FAILED job to RETRYING when retries remain.
// Returns false when the retry budget is exhausted.
func (j *Job) IncrementRetry() (bool, error) {
	if j.Status != JobStatusFailed {
		return false, fmt.Errorf("cannot retry job %s in status %s", j.ID, j.Status)
	}
	if j.RetryCount >= j.MaxRetries {
		return false, nil
	}
	if err := j.transition(JobStatusRetrying); err != nil {
		return false, err
	}
	j.RetryCount++
	return true, nil
}

// Requeue moves a RETRYING job back to QUEUED for the scheduler
func (j *Job) Requeue(at time.Time) error {
	if err := j.transition(JobStatusQueued); err != nil {
		return err
	}
	j.ScheduledAt = &at
	j.CompletedAt = nil
	j.ErrorMessage = ""
	return nil
}

// IsTerminal reports whether the job has reached a final state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusCancelled ||
		(j.Status == JobStatusFailed && j.RetryCount >= j.MaxRetries)
}

// SetProgress clamps and records job progress
func (j *Job) SetProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.Progress = pct
}

// Validate checks job invariants before persistence
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("job progress out of range: %d", j.Progress)
	}
	if j.Progress == 100 && j.Status != JobStatusCompleted {
		return fmt.Errorf("progress 100 requires completed status, got %s", j.Status)
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// ToJSON serializes the job for queue storage
func (j *Job) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// JobFromJSON deserializes a job from JSON
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// RetryPolicy controls backoff between job retry attempts
type RetryPolicy struct {
	MaxRetries         int           `json:"max_retries"`
	InitialDelay       time.Duration `json:"initial_delay"`
	MaxDelay           time.Duration `json:"max_delay"`
	BackoffMultiplier  float64       `json:"backoff_multiplier"`
	ExponentialBackoff bool          `json:"exponential_backoff"`
}

// NewDefaultRetryPolicy returns the standard exponential policy
func NewDefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         3,
		InitialDelay:       1 * time.Second,
		MaxDelay:           5 * time.Minute,
		BackoffMultiplier:  2.0,
		ExponentialBackoff: true,
	}
}

// DelayFor returns the wait before the given attempt (1-based)
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if !p.ExponentialBackoff {
		return p.InitialDelay
	}
	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffMultiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// ScheduleConfig controls when a configured job runs
type ScheduleConfig struct {
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CronExpression string     `json:"cron_expression,omitempty"`
	Recurring      bool       `json:"recurring"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// ResourceRequirements declares what a job type needs from the worker
type ResourceRequirements struct {
	MaxMemoryMB   int  `json:"max_memory_mb,omitempty"`
	MaxCPUPercent int  `json:"max_cpu_percent,omitempty"`
	NeedsNetwork  bool `json:"needs_network"`
}

// JobConfig is the persisted definition of a job type
type JobConfig struct {
	JobType              string                 `json:"job_type" badgerhold:"key"`
	Name                 string                 `json:"name"`
	Description          string                 `json:"description,omitempty"`
	Timeout              time.Duration          `json:"timeout"`
	DefaultPriority      JobPriority            `json:"default_priority"`
	RetryPolicy          RetryPolicy            `json:"retry_policy"`
	ResourceRequirements ResourceRequirements   `json:"resource_requirements"`
	ScheduleConfig       ScheduleConfig         `json:"schedule_config"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	Tags                 map[string]string      `json:"tags,omitempty"`
	Enabled              bool                   `json:"enabled"`
	ConcurrencyLimit     int                    `json:"concurrency_limit,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// Validate checks config invariants
func (c *JobConfig) Validate() error {
	if c.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if c.Name == "" {
		return fmt.Errorf("job config name is required")
	}
	if c.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("retry policy max retries cannot be negative")
	}
	if c.RetryPolicy.BackoffMultiplier < 1.0 && c.RetryPolicy.ExponentialBackoff {
		return fmt.Errorf("backoff multiplier must be >= 1.0")
	}
	return nil
}

// ToJSON serializes the job config
func (c *JobConfig) ToJSON() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}
	return data, nil
}

// JobConfigFromJSON deserializes a job config
func JobConfigFromJSON(data []byte) (*JobConfig, error) {
	var cfg JobConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
	}
	return &cfg, nil
}

// JobError captures a structured failure on a job result
type JobError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	StackTrace     string                 `json:"stack_trace,omitempty"`
	Category       string                 `json:"category,omitempty"`
	HTTPStatusCode int                    `json:"http_status_code,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// JobMetrics records resource usage for one job execution
type JobMetrics struct {
	ExecutionDuration time.Duration      `json:"execution_duration"`
	PeakMemoryBytes   int64              `json:"peak_memory_bytes,omitempty"`
	CPUUsagePercent   float64            `json:"cpu_usage_percent,omitempty"`
	NetBytesIn        int64              `json:"net_bytes_in,omitempty"`
	NetBytesOut       int64              `json:"net_bytes_out,omitempty"`
	DiskBytesRead     int64              `json:"disk_bytes_read,omitempty"`
	DiskBytesWritten  int64              `json:"disk_bytes_written,omitempty"`
	ItemsProcessed    int64              `json:"items_processed,omitempty"`
	Throughput        float64            `json:"throughput,omitempty"`
	CustomMetrics     map[string]float64 `json:"custom_metrics,omitempty"`
}

// maxResultLogMessages caps the per-result log ring buffer
const maxResultLogMessages = 1000

// JobResult is the persisted outcome of one job execution
type JobResult struct {
	ID          string                 `json:"id" badgerhold:"key"`
	JobID       string                 `json:"job_id" badgerhold:"index"`
	UserID      string                 `json:"user_id,omitempty"`
	TenantID    string                 `json:"tenant_id,omitempty"`
	FinalStatus JobStatus              `json:"final_status"`
	ResultData  json.RawMessage        `json:"result_data,omitempty"`
	Error       *JobError              `json:"error,omitempty"`
	Metrics     JobMetrics             `json:"metrics"`
	OutputFiles []string               `json:"output_files,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	LogMessages []string               `json:"log_messages,omitempty"`
	CreatedAt   time.Time              `json:"created_at" badgerhold:"index"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
}

// AppendLog adds a message to the result log, dropping the oldest entry
// when the ring buffer is full
func (r *JobResult) AppendLog(msg string) {
	r.LogMessages = append(r.LogMessages, msg)
	if len(r.LogMessages) > maxResultLogMessages {
		r.LogMessages = r.LogMessages[len(r.LogMessages)-maxResultLogMessages:]
	}
}

// ToJSON serializes the job result
func (r *JobResult) ToJSON() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job result: %w", err)
	}
	return data, nil
}

// JobResultFromJSON deserializes a job result
func JobResultFromJSON(data []byte) (*JobResult, error) {
	var result JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
	}
	return &result, nil
}

// JobHistoryEntry is an append-only audit record of job lifecycle events
type JobHistoryEntry struct {
	ID        uint64    `json:"-" badgerhold:"key"`
	JobID     string    `json:"job_id" badgerhold:"index"`
	Event     string    `json:"event"`
	Details   string    `json:"details,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp" badgerhold:"index"`
}

// BatchResult reports the outcome of a batch store or update
type BatchResult struct {
	Successful []string          `json:"successful"`
	Failed     []string          `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// JobStats summarizes queue state for the status API
type JobStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByType     map[string]int `json:"by_type"`
	QueueDepth int            `json:"queue_depth"`
	Oldest     *time.Time     `json:"oldest_queued,omitempty"`
}
