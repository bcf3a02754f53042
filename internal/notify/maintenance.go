// -----------------------------------------------------------------------
// Maintenance Notifier - Queues a store cleanup job after each crawl
// -----------------------------------------------------------------------

package notify

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// MaintenanceNotifier decorates another sink and enqueues a low-priority
// cleanup job once per completed session, so retention runs track crawl
// activity instead of waiting for the nightly schedule.
type MaintenanceNotifier struct {
	next   interfaces.Notifier
	jobs   interfaces.JobStorage
	logger arbor.ILogger
}

func NewMaintenanceNotifier(next interfaces.Notifier, jobs interfaces.JobStorage, logger arbor.ILogger) *MaintenanceNotifier {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &MaintenanceNotifier{
		next:   next,
		jobs:   jobs,
		logger: logger,
	}
}

// NotifyCrawlComplete forwards the completion and queues the cleanup job
func (n *MaintenanceNotifier) NotifyCrawlComplete(ctx context.Context, completion *interfaces.CrawlCompletion) error {
	var err error
	if n.next != nil {
		err = n.next.NotifyCrawlComplete(ctx, completion)
	}
	if completion == nil || n.jobs == nil {
		return err
	}

	job := models.NewJob(models.JobTypeCleanup, models.JobPriorityLow)
	job.ID = common.NewJobID()
	job.Metadata["trigger"] = "crawl_complete"
	job.Metadata["session_id"] = completion.SessionID

	if qErr := n.jobs.EnqueueJob(ctx, job); qErr != nil {
		n.logger.Warn().
			Err(qErr).
			Str("session_id", completion.SessionID).
			Msg("Failed to queue post-crawl maintenance job")
	} else {
		n.logger.Debug().
			Str("job_id", job.ID).
			Str("session_id", completion.SessionID).
			Msg("Post-crawl maintenance job queued")
	}
	return err
}
