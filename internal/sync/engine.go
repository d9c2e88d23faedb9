// Package sync holds the single-entity and bulk sync orchestrators.
package sync

import (
	"context"
	"time"

	"github.com/EagleChen/mapmutex"

	"github.com/kimhsiao/ledgerlink/internal/db"
	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/gateway"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/metrics"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/sync/classify"
	"github.com/kimhsiao/ledgerlink/internal/sync/conflict"
)

// DefaultBatchCeiling caps how many records one bulk resolution enqueues per type.
const DefaultBatchCeiling = 100

// TokenManager keeps a connection's access token usable.
type TokenManager interface {
	EnsureValidToken(ctx context.Context, c *models.Connection) (*models.Connection, error)
	Refresh(ctx context.Context, c *models.Connection) (*models.Connection, error)
}

// Gateway is the remote entity API.
type Gateway interface {
	CreateEntity(ctx context.Context, conn *models.Connection, remoteType string, payload interface{}) (*gateway.Entity, error)
	UpdateEntity(ctx context.Context, conn *models.Connection, remoteType string, payload interface{}) (*gateway.Entity, error)
	QueryByID(ctx context.Context, conn *models.Connection, remoteType, id string) (*gateway.Entity, error)
}

// Enqueuer is the write side of the Pending Sync Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, connectionID models.UUID, localType, localID string, priority int) (*models.PendingSyncEntry, bool, error)
}

// ResultError is the error part of a per-call result.
type ResultError struct {
	Kind       string        `json:"kind"`
	Message    string        `json:"message"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"-"`
}

// Result is what one invocation reports back.
type Result struct {
	Success   bool                  `json:"success"`
	Created   int                   `json:"created"`
	Updated   int                   `json:"updated"`
	Failed    int                   `json:"failed"`
	Error     *ResultError          `json:"error,omitempty"`
	SyncLogID models.UUID           `json:"sync_log_id,omitempty"`
	Mapping   *models.EntityMapping `json:"mapping,omitempty"`
}

func failedResult(c classify.Classified) *Result {
	return &Result{
		Failed: 1,
		Error: &ResultError{
			Kind:       string(c.Kind),
			Message:    c.Message,
			Retryable:  c.Retryable,
			RetryAfter: c.RetryAfter,
		},
	}
}

// Engine runs sync invocations. Every invocation is one synchronous unit
// of work; the engine keeps no background state.
type Engine struct {
	store        db.SyncStore
	records      db.LocalRecordSource
	tokens       TokenManager
	remote       Gateway
	queue        Enqueuer
	conflicts    *conflict.Recorder
	batchCeiling int
	now          func() time.Time
	log          *logging.Logger

	// inflight holds one key per (connection, type, id) being synced.
	inflight *mapmutex.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchCeiling overrides DefaultBatchCeiling.
func WithBatchCeiling(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchCeiling = n
		}
	}
}

// WithClock overrides the time source used for metrics.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the orchestrators to their collaborators.
func NewEngine(store db.SyncStore, records db.LocalRecordSource, tokens TokenManager, remote Gateway, queue Enqueuer, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		records:      records,
		tokens:       tokens,
		remote:       remote,
		queue:        queue,
		conflicts:    conflict.NewRecorder(store),
		batchCeiling: DefaultBatchCeiling,
		now:          time.Now,
		log:          logging.For("sync"),
		// A single attempt: a held key fails fast instead of waiting.
		inflight: mapmutex.NewCustomizedMapMutex(1, 100000000, 10, 1.1, 0.2),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// loadConnection returns the connection if it exists and is active.
func (e *Engine) loadConnection(ctx context.Context, id models.UUID) (*models.Connection, error) {
	conn, err := e.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conn.Active {
		return nil, apperrors.New(apperrors.ErrConnectionInactive, "connection is not active")
	}
	return conn, nil
}

// finishLog seals the invocation's log row. Failing to seal is logged,
// never returned, so the caller still sees the sync outcome.
func (e *Engine) finishLog(ctx context.Context, l *models.SyncLog, r *Result) {
	if l == nil {
		return
	}
	l.Processed = r.Created + r.Updated + r.Failed
	l.Created = r.Created
	l.Updated = r.Updated
	l.Failed = r.Failed
	l.Status = models.SyncLogFailed
	if r.Success {
		l.Status = models.SyncLogSynced
	}
	if r.Error != nil {
		l.ErrorSummary = truncate(r.Error.Message, 1000)
	}
	if err := e.store.CompleteSyncLog(ctx, l); err != nil {
		e.log.Error("failed to complete sync log", err, map[string]interface{}{"sync_log_id": l.ID})
		return
	}
	r.SyncLogID = l.ID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func observe(mode string, r *Result) {
	status := "success"
	if !r.Success {
		status = "failure"
		if r.Error != nil {
			metrics.SyncErrors.WithLabelValues(r.Error.Kind).Inc()
		}
	}
	metrics.SyncInvocations.WithLabelValues(mode, status).Inc()
}
