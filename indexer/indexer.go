package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gridfund/core/events"
	"gridfund/native/projects"
)

// StoredEvent is the relational projection of a ledger event. ProjectID is
// denormalized out of the attributes so dashboards can filter cheaply.
// EventID stores NULL for events that carry no emission id, so such rows
// never collide on the unique index.
type StoredEvent struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	EventID    *string `gorm:"uniqueIndex;size:64"`
	Type       string  `gorm:"index;size:64"`
	ProjectID  *uint64
	Attributes string
	CreatedAt  time.Time
}

// Indexer drains the event bus into a relational store for offline queries.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the database named by dsn. A postgres:// DSN selects the
// postgres driver; anything else is treated as a sqlite path.
func Open(dsn string, log *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&StoredEvent{}); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: db, logger: log}, nil
}

// Run consumes events from the bus until the context is cancelled or the bus
// closes. Persistence failures are logged and skipped so one bad row cannot
// stall the stream.
func (ix *Indexer) Run(ctx context.Context, bus *events.Bus) {
	updates, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-updates:
			if !ok {
				return
			}
			if err := ix.store(evt); err != nil {
				ix.logger.Error("index event", "type", evt.EventType(), "err", err)
			}
		}
	}
}

func (ix *Indexer) store(evt events.Event) error {
	record := StoredEvent{Type: evt.EventType(), CreatedAt: time.Now().UTC()}
	if structured, ok := evt.(*projects.Event); ok && structured != nil {
		if structured.ID != "" {
			id := structured.ID
			record.EventID = &id
		}
		if raw, err := json.Marshal(structured.Attributes); err == nil {
			record.Attributes = string(raw)
		}
		if idText, ok := structured.Attributes["projectId"]; ok {
			if id, err := strconv.ParseUint(idText, 10, 64); err == nil {
				record.ProjectID = &id
			}
		}
	}
	return ix.db.Create(&record).Error
}

// EventsByProject returns the stored events of one project, oldest first.
func (ix *Indexer) EventsByProject(projectID uint64) ([]StoredEvent, error) {
	var out []StoredEvent
	err := ix.db.Where("project_id = ?", projectID).Order("id asc").Find(&out).Error
	return out, err
}

// EventsByType returns the stored events of one type, oldest first.
func (ix *Indexer) EventsByType(eventType string) ([]StoredEvent, error) {
	var out []StoredEvent
	err := ix.db.Where("type = ?", eventType).Order("id asc").Find(&out).Error
	return out, err
}
