package interfaces

import (
	"context"

	"github.com/ternarybob/reperio/internal/models"
)

// CrawlCompletion summarizes one finished session for notification sinks
type CrawlCompletion struct {
	SessionID       string
	SeedURL         string
	SuccessfulPages int
	FailedPages     int
	TotalLinksFound int
	Results         []*models.CrawlResult
}

// Notifier - black-box completion sink. Delivery transport (email, webhook)
// is the implementation's concern.
type Notifier interface {
	NotifyCrawlComplete(ctx context.Context, completion *CrawlCompletion) error
}
