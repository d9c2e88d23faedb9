package models

// SyncLogStatus is the outcome of one invocation.
type SyncLogStatus string

const (
	SyncLogRunning SyncLogStatus = "running"
	SyncLogSynced  SyncLogStatus = "synced"
	SyncLogFailed  SyncLogStatus = "failed"
)

// SyncLog is the audit record of a single or bulk invocation.
// It is immutable once CompletedAt is set.
type SyncLog struct {
	ID           UUID          `db:"id" json:"id"`
	ConnectionID UUID          `db:"connection_id" json:"connection_id"`
	StartedAt    int64         `db:"started_at" json:"started_at"`
	CompletedAt  int64         `db:"completed_at" json:"completed_at,omitempty"`
	Direction    Direction     `db:"direction" json:"direction"`
	EntityType   string        `db:"entity_type" json:"entity_type,omitempty"` // empty when spanning types
	Processed    int           `db:"processed" json:"processed"`
	Created      int           `db:"created" json:"created"`
	Updated      int           `db:"updated" json:"updated"`
	Failed       int           `db:"failed" json:"failed"`
	Status       SyncLogStatus `db:"status" json:"status"`
	ErrorSummary string        `db:"error_summary" json:"error_summary,omitempty"`
}

// TableName returns the table name for SyncLog.
func (SyncLog) TableName() string {
	return "sync_logs"
}

// Completed reports whether the log has been sealed.
func (l *SyncLog) Completed() bool {
	return l.CompletedAt != 0
}
