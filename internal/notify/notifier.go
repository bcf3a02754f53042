// -----------------------------------------------------------------------
// Log Notifier - Completion sink that reports through the service log
// -----------------------------------------------------------------------

package notify

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// LogNotifier writes crawl completion summaries to the service log. It is
// the default sink when no webhook is configured.
type LogNotifier struct {
	logger arbor.ILogger
}

func NewLogNotifier(logger arbor.ILogger) *LogNotifier {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &LogNotifier{logger: logger}
}

// NotifyCrawlComplete logs the session summary
func (n *LogNotifier) NotifyCrawlComplete(ctx context.Context, completion *interfaces.CrawlCompletion) error {
	if completion == nil {
		return nil
	}
	n.logger.Info().
		Str("session_id", completion.SessionID).
		Str("seed_url", completion.SeedURL).
		Int("successful_pages", completion.SuccessfulPages).
		Int("failed_pages", completion.FailedPages).
		Int("links_found", completion.TotalLinksFound).
		Msg("✅ Crawl session complete")
	return nil
}
