package models

import "time"

// MappingStatus is the per-record sync status shown to users.
type MappingStatus string

const (
	MappingStatusSynced       MappingStatus = "synced"
	MappingStatusPendingRetry MappingStatus = "pending_retry"
	MappingStatusFailed       MappingStatus = "failed"
)

// EntityMapping links a local object to its remote counterpart.
// RemoteID is empty until the first successful create and never changes after.
type EntityMapping struct {
	ID                 UUID          `db:"id" json:"id"`
	ConnectionID       UUID          `db:"connection_id" json:"connection_id"`
	LocalType          string        `db:"local_type" json:"local_type"`
	LocalID            string        `db:"local_id" json:"local_id"`
	RemoteType         string        `db:"remote_type" json:"remote_type"`
	RemoteID           string        `db:"remote_id" json:"remote_id,omitempty"`
	RemoteVersionToken string        `db:"remote_version_token" json:"remote_version_token,omitempty"`
	Status             MappingStatus `db:"status" json:"status"`
	LastSyncedAt       int64         `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastError          string        `db:"last_error" json:"last_error,omitempty"`
	LastErrorKind      string        `db:"last_error_kind" json:"last_error_kind,omitempty"`
	RetryCount         int           `db:"retry_count" json:"retry_count"`
	CreatedAt          int64         `db:"created_at" json:"created_at"`
	UpdatedAt          int64         `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for EntityMapping.
func (EntityMapping) TableName() string {
	return "entity_mappings"
}

// HasRemote reports whether a remote record has been created for this mapping.
func (m *EntityMapping) HasRemote() bool {
	return m != nil && m.RemoteID != ""
}

// LastSyncedTime returns LastSyncedAt as time.Time.
func (m *EntityMapping) LastSyncedTime() time.Time {
	return unixTime(m.LastSyncedAt)
}
