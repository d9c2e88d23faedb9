package models

// QueueStatus is the lifecycle status of a pending sync entry.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Active reports whether the status still occupies the entry's key.
func (s QueueStatus) Active() bool {
	return s == QueueStatusPending || s == QueueStatusProcessing
}

// PendingSyncEntry represents a record waiting for the queue drainer.
type PendingSyncEntry struct {
	ID           UUID        `db:"id" json:"id"`
	ConnectionID UUID        `db:"connection_id" json:"connection_id"`
	LocalType    string      `db:"local_type" json:"local_type"`
	LocalID      string      `db:"local_id" json:"local_id"`
	Status       QueueStatus `db:"status" json:"status"`
	Priority     int         `db:"priority" json:"priority"`
	ScheduledAt  int64       `db:"scheduled_at" json:"scheduled_at"`
	AttemptCount int         `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int         `db:"max_attempts" json:"max_attempts"`
	LastError    string      `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    int64       `db:"created_at" json:"created_at"`
	UpdatedAt    int64       `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PendingSyncEntry.
func (PendingSyncEntry) TableName() string {
	return "pending_sync_queue"
}

// AttemptsExhausted reports whether no further attempt is allowed.
func (e *PendingSyncEntry) AttemptsExhausted() bool {
	return e.MaxAttempts > 0 && e.AttemptCount >= e.MaxAttempts
}
