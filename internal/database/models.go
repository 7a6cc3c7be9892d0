package database

import "time"

// OperationLog is one row of the operation history: a connection, a
// transfer or a remote mutation.
type OperationLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OperationID string    `gorm:"index;size:36" json:"operation_id"`
	Session     string    `gorm:"index;not null" json:"session"`
	EventType   string    `gorm:"index;not null" json:"event_type"`
	Path        string    `json:"path"`
	Target      string    `json:"target,omitempty"`
	Status      string    `gorm:"not null;default:ok" json:"status"`
	Details     string    `gorm:"type:text" json:"details,omitempty"`
	Files       int       `gorm:"not null;default:0" json:"files"`
	Bytes       int64     `gorm:"not null;default:0" json:"bytes"`
	Duration    int64     `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
