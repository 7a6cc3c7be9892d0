package sshaudit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/gluk-w/filessh/internal/database"
	"github.com/gluk-w/filessh/internal/logutil"
)

// Event types for the operation history.
const (
	EventConnectionEstablished = "connection_established"
	EventConnectionFailed      = "connection_failed"
	EventDownloadFolder        = "download_folder"
	EventDownloadFile          = "download_file"
	EventDelete                = "delete"
	EventMove                  = "move"
)

// Outcome values for AuditEntry.Status.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// DefaultRetentionDays is the default number of days to keep history.
const DefaultRetentionDays = 90

// AuditEntry contains the fields needed to create a history record.
type AuditEntry struct {
	OperationID string
	Session     string
	EventType   string
	Path        string
	Target      string
	Status      string
	Details     string
	Files       int
	Bytes       int64
	DurationMs  int64
}

// Auditor writes history records to the database and the standard logger.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor on db and makes sure the table exists.
// If retentionDays is 0, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) (*Auditor, error) {
	if db == nil {
		return nil, fmt.Errorf("new auditor: database is nil")
	}
	if err := db.AutoMigrate(&database.OperationLog{}); err != nil {
		return nil, fmt.Errorf("new auditor: migrate: %w", err)
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}, nil
}

// Log records an event. An empty Status is stored as StatusOK.
func (a *Auditor) Log(entry AuditEntry) error {
	if entry.Status == "" {
		entry.Status = StatusOK
	}
	record := database.OperationLog{
		OperationID: entry.OperationID,
		Session:     entry.Session,
		EventType:   entry.EventType,
		Path:        entry.Path,
		Target:      entry.Target,
		Status:      entry.Status,
		Details:     entry.Details,
		Files:       entry.Files,
		Bytes:       entry.Bytes,
		Duration:    entry.DurationMs,
		CreatedAt:   a.nowFn(),
	}

	a.mu.Lock()
	err := a.db.Create(&record).Error
	a.mu.Unlock()
	if err != nil {
		log.Printf("[audit] failed to write history: %v", err)
		return err
	}

	log.Printf("[audit] %s %s session=%s path=%s op=%s",
		entry.EventType,
		entry.Status,
		logutil.SanitizeForLog(entry.Session),
		logutil.SanitizeForLog(entry.Path),
		entry.OperationID,
	)
	return nil
}

// QueryOptions specifies filters for retrieving history.
type QueryOptions struct {
	OperationID string
	Session     string
	EventType   string
	Status      string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

// QueryResult contains history entries and pagination metadata.
type QueryResult struct {
	Entries []database.OperationLog `json:"entries"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// Query returns matching entries, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.OperationLog{})

	if opts.OperationID != "" {
		tx = tx.Where("operation_id = ?", opts.OperationID)
	}
	if opts.Session != "" {
		tx = tx.Where("session = ?", opts.Session)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Status != "" {
		tx = tx.Where("status = ?", opts.Status)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.OperationLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days, or older than the
// configured retention period when days is 0. It returns the number of rows
// deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)

	a.mu.Lock()
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.OperationLog{})
	a.mu.Unlock()
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d history entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
