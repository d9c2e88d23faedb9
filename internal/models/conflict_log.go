package models

import "time"

// ConflictResolutionRefused is the only resolution the core applies:
// the update is refused and the mapping is left for a human to re-invoke.
const ConflictResolutionRefused = "refused"

// ConflictLog records a stale-version rejection for user awareness.
type ConflictLog struct {
	ID               UUID   `db:"id" json:"id"`
	MappingID        UUID   `db:"mapping_id" json:"mapping_id"`
	ConnectionID     UUID   `db:"connection_id" json:"connection_id"`
	LocalType        string `db:"local_type" json:"local_type"`
	LocalID          string `db:"local_id" json:"local_id"`
	RemoteID         string `db:"remote_id" json:"remote_id"`
	SentVersionToken string `db:"sent_version_token" json:"sent_version_token"`
	Message          string `db:"message" json:"message,omitempty"`
	Resolution       string `db:"resolution" json:"resolution"`
	DetectedAt       int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
