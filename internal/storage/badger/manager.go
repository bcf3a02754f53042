package badger

import (
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// gcInterval paces the background value-log garbage collection
const gcInterval = 30 * time.Minute

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	page     interfaces.PageStorage
	crawlLog interfaces.CrawlLogStorage
	job      interfaces.JobStorage
	logger   arbor.ILogger
	gcStop   chan struct{}
	gcDone   chan struct{}
}

// NewManager creates a new Badger storage manager. The indexer is
// optional; when nil, pages are persisted without search indexing.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig, indexer interfaces.Indexer) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	crawlLog := NewCrawlLogStorage(db, logger)
	manager := &Manager{
		db:       db,
		page:     NewPageStorage(db, crawlLog, indexer, logger),
		crawlLog: crawlLog,
		job:      NewJobStorage(db, logger),
		logger:   logger,
		gcStop:   make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go manager.gcLoop()

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// gcLoop runs periodic value-log garbage collection until Close
func (m *Manager) gcLoop() {
	defer close(m.gcDone)
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.gcStop:
			return
		case <-ticker.C:
			if err := m.db.RunValueLogGC(); err != nil {
				m.logger.Warn().Err(err).Msg("Value log GC failed")
			}
		}
	}
}

// PageStorage returns the canonical page storage interface
func (m *Manager) PageStorage() interfaces.PageStorage {
	return m.page
}

// CrawlLogStorage returns the append-only crawl log interface
func (m *Manager) CrawlLogStorage() interfaces.CrawlLogStorage {
	return m.crawlLog
}

// JobStorage returns the job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close stops background GC and closes the database connection
func (m *Manager) Close() error {
	close(m.gcStop)
	<-m.gcDone
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
