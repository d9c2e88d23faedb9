// Package db provides repository interfaces for the ledgerlink durable tables.
package db

import (
	"context"
	"time"

	"github.com/kimhsiao/ledgerlink/internal/models"
)

// ConnectionStore defines operations for connection persistence.
type ConnectionStore interface {
	// GetConnection retrieves a connection by ID.
	GetConnection(ctx context.Context, id models.UUID) (*models.Connection, error)

	// FindActiveConnection returns the active connection for (tenant, realm).
	FindActiveConnection(ctx context.Context, tenantID, realmID string) (*models.Connection, error)

	// SaveAuthorizedConnection stores the result of an OAuth completion.
	SaveAuthorizedConnection(ctx context.Context, c *models.Connection) error

	// UpdateConnectionTokens persists a successful refresh.
	UpdateConnectionTokens(ctx context.Context, c *models.Connection) error

	// MarkReauthRequired flags the connection for reconnection.
	MarkReauthRequired(ctx context.Context, id models.UUID, message string) error

	// RecordConnectionError stores last_error and leaves the reauth flag alone.
	RecordConnectionError(ctx context.Context, id models.UUID, message string) error

	// DeactivateConnection clears tokens and sets active=false.
	DeactivateConnection(ctx context.Context, id models.UUID) error
}

// OAuthStateStore defines operations for authorize round-trip state.
type OAuthStateStore interface {
	SaveOAuthState(ctx context.Context, s *models.OAuthState) error
	ConsumeOAuthState(ctx context.Context, nonce string) (*models.OAuthState, error)
	PurgeExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error)
}

// MappingStore defines operations for entity mapping persistence.
type MappingStore interface {
	// FindMapping returns the mapping for a local record, or nil.
	FindMapping(ctx context.Context, connectionID models.UUID, localType, localID string) (*models.EntityMapping, error)

	// ListSyncedLocalIDs returns local ids whose mapping is synced.
	ListSyncedLocalIDs(ctx context.Context, connectionID models.UUID, localType string) (map[string]struct{}, error)

	// UpsertOnSuccess marks a record synced with remote-issued values.
	UpsertOnSuccess(ctx context.Context, prev *models.EntityMapping, s MappingSuccess) (*models.EntityMapping, error)

	// RecordFailure stores a classified failure.
	RecordFailure(ctx context.Context, f MappingFailure) (*models.EntityMapping, error)

	// UpdateVersionToken stores a version token read back from the remote system.
	UpdateVersionToken(ctx context.Context, mappingID models.UUID, expected, fresh string) error
}

// SyncLogStore defines operations for the audit log.
type SyncLogStore interface {
	CreateSyncLog(ctx context.Context, l *models.SyncLog) error
	CompleteSyncLog(ctx context.Context, l *models.SyncLog) error
}

// QueueStore defines operations for the pending sync queue.
type QueueStore interface {
	UpsertQueueEntry(ctx context.Context, e *models.PendingSyncEntry) (bool, error)
	GetQueueEntry(ctx context.Context, id models.UUID) (*models.PendingSyncEntry, error)
	ListDueQueueEntries(ctx context.Context, now int64, limit int) ([]*models.PendingSyncEntry, error)
	TransitionQueueEntry(ctx context.Context, e *models.PendingSyncEntry, from models.QueueStatus) error
}

// ConflictLogStore defines operations for conflict log persistence.
type ConflictLogStore interface {
	// CreateConflictLog creates a new conflict log entry.
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
}

// LocalRecordSource is the read side of the local business records.
type LocalRecordSource interface {
	Load(ctx context.Context, tenantID, localType, localID string) (*models.LocalRecord, error)
	List(ctx context.Context, tenantID, localType string) ([]*models.LocalRecord, error)
}

// SyncStore groups the stores the orchestrators need.
type SyncStore interface {
	ConnectionStore
	MappingStore
	SyncLogStore
	ConflictLogStore
}

// Ensure the concrete types implement the interfaces at compile time.
var (
	_ ConnectionStore   = (*Repository)(nil)
	_ OAuthStateStore   = (*Repository)(nil)
	_ MappingStore      = (*Repository)(nil)
	_ SyncLogStore      = (*Repository)(nil)
	_ QueueStore        = (*Repository)(nil)
	_ ConflictLogStore  = (*Repository)(nil)
	_ SyncStore         = (*Repository)(nil)
	_ LocalRecordSource = (*RecordSource)(nil)
)
