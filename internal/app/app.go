// -----------------------------------------------------------------------
// Application wiring - services, storage, and HTTP handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/crawler"
	"github.com/ternarybob/reperio/internal/handlers"
	"github.com/ternarybob/reperio/internal/index"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/logbus"
	"github.com/ternarybob/reperio/internal/notify"
	"github.com/ternarybob/reperio/internal/scheduler"
	badgerstore "github.com/ternarybob/reperio/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	Indexer        interfaces.Indexer
	Bus            *logbus.Bus
	Notifier       interfaces.Notifier
	SessionManager *crawler.SessionManager
	Scheduler      *scheduler.Scheduler

	// HTTP handlers
	CrawlHandler  *handlers.CrawlHandler
	SearchHandler *handlers.SearchHandler
	SpaHandler    *handlers.SpaHandler
	StatusHandler *handlers.StatusHandler
	JobHandler    *handlers.JobHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	app.initIndexer()

	if err := app.initStorage(); err != nil {
		return nil, err
	}

	app.Bus = logbus.New(cfg.WebSocket.SubscriberBuffer, logger)
	app.Notifier = notify.NewMaintenanceNotifier(notify.NewLogNotifier(logger), app.StorageManager.JobStorage(), logger)
	app.SessionManager = crawler.NewSessionManager(cfg, app.StorageManager.PageStorage(), app.Bus, app.Notifier, logger)

	app.Scheduler = scheduler.NewScheduler(
		cfg.Scheduler,
		app.StorageManager.JobStorage(),
		app.StorageManager.CrawlLogStorage(),
		app.StorageManager.PageStorage(),
		app.SessionManager,
		logger,
	)
	if err := app.Scheduler.Start(); err != nil {
		app.closePartial()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("storage_path", cfg.Storage.Badger.Path).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialized")

	return app, nil
}

// initIndexer connects the search indexer. The indexer is best effort: a
// missing or unreachable Redis leaves search unavailable but never blocks
// crawling, so connection failures only log a warning.
func (a *App) initIndexer() {
	indexer, err := index.NewRedisIndexer(a.Config.Search.RedisURI, a.Config.Search.IndexName, a.Logger)
	if err != nil {
		a.Logger.Warn().
			Err(err).
			Str("redis_uri", a.Config.Search.RedisURI).
			Msg("Search indexer unavailable, continuing without search")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := indexer.Ping(ctx); err != nil {
		a.Logger.Warn().
			Err(err).
			Str("redis_uri", a.Config.Search.RedisURI).
			Msg("Search indexer not responding, writes will be retried per page")
	}

	a.Indexer = indexer
}

func (a *App) initStorage() error {
	manager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger, a.Indexer)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = manager
	return nil
}

func (a *App) initHandlers() {
	a.CrawlHandler = handlers.NewCrawlHandler(a.SessionManager, a.StorageManager.CrawlLogStorage(), a.Logger)
	a.SearchHandler = handlers.NewSearchHandler(a.Indexer, a.Logger)
	a.SpaHandler = handlers.NewSpaHandler(a.Config, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(
		a.StorageManager.PageStorage(),
		a.StorageManager.JobStorage(),
		a.SessionManager,
		a.Indexer,
		a.Logger,
	)
	a.JobHandler = handlers.NewJobHandler(a.StorageManager.JobStorage(), a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Bus, a.SessionManager, a.Config.WebSocket, a.Logger)
}

// Close shuts down components in reverse dependency order: scheduler first
// so no new sessions start, then sessions, then storage and the indexer.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.SessionManager != nil {
		a.SessionManager.Close()
	}
	return a.closePartial()
}

func (a *App) closePartial() error {
	var firstErr error
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
			firstErr = err
		}
	}
	if a.Indexer != nil {
		if err := a.Indexer.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close indexer connection")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
