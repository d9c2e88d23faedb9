// Package conflict keeps the record of optimistic-concurrency conflicts.
// Conflicts are detected and refused, never merged.
package conflict

import (
	"context"
	"time"

	"github.com/kimhsiao/ledgerlink/internal/db"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// Conflict describes an update the remote system rejected as stale, or a
// stored version token found to be behind the remote record.
type Conflict struct {
	MappingID        models.UUID
	ConnectionID     models.UUID
	LocalType        string
	LocalID          string
	RemoteID         string
	SentVersionToken string
	RemoteToken      string // empty when the remote token is unknown
	Message          string
}

// Recorder writes conflict log rows.
type Recorder struct {
	store db.ConflictLogStore
	now   func() time.Time
	log   *logging.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store db.ConflictLogStore) *Recorder {
	return &Recorder{store: store, now: time.Now, log: logging.For("conflict")}
}

// FromMapping builds a Conflict for a refused update of m.
func FromMapping(m *models.EntityMapping, message string) *Conflict {
	return &Conflict{
		MappingID:        m.ID,
		ConnectionID:     m.ConnectionID,
		LocalType:        m.LocalType,
		LocalID:          m.LocalID,
		RemoteID:         m.RemoteID,
		SentVersionToken: m.RemoteVersionToken,
		Message:          message,
	}
}

// Detect reports whether the stored token of m is behind remoteToken.
func Detect(m *models.EntityMapping, remoteToken string) (*Conflict, bool) {
	if m == nil || !m.HasRemote() || remoteToken == "" {
		return nil, false
	}
	if m.RemoteVersionToken == remoteToken {
		return nil, false
	}
	c := FromMapping(m, "stored version token is behind the remote record")
	c.RemoteToken = remoteToken
	return c, true
}

// Record stores c with resolution "refused".
func (r *Recorder) Record(ctx context.Context, c *Conflict) (*models.ConflictLog, error) {
	entry := &models.ConflictLog{
		MappingID:        c.MappingID,
		ConnectionID:     c.ConnectionID,
		LocalType:        c.LocalType,
		LocalID:          c.LocalID,
		RemoteID:         c.RemoteID,
		SentVersionToken: c.SentVersionToken,
		Message:          c.Message,
		Resolution:       models.ConflictResolutionRefused,
		DetectedAt:       r.now().Unix(),
	}
	if err := r.store.CreateConflictLog(ctx, entry); err != nil {
		return nil, err
	}

	r.log.Warn("concurrent edit conflict refused", map[string]interface{}{
		"connection_id": c.ConnectionID,
		"local_type":    c.LocalType,
		"local_id":      c.LocalID,
		"remote_id":     c.RemoteID,
		"sent_token":    c.SentVersionToken,
		"remote_token":  c.RemoteToken,
	})
	return entry, nil
}
