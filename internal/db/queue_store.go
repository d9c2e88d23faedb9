package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/uuid"
)

const queueColumns = `id, connection_id, local_type, local_id, status, priority, scheduled_at,
	attempt_count, max_attempts, last_error, created_at, updated_at`

func scanQueueEntry(row rowScanner) (*models.PendingSyncEntry, error) {
	var e models.PendingSyncEntry
	var lastError sql.NullString
	err := row.Scan(&e.ID, &e.ConnectionID, &e.LocalType, &e.LocalID, &e.Status, &e.Priority,
		&e.ScheduledAt, &e.AttemptCount, &e.MaxAttempts, &lastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.LastError = lastError.String
	return &e, nil
}

func (r *Repository) scanQueueRows(rows *sql.Rows) ([]*models.PendingSyncEntry, error) {
	defer rows.Close()
	var out []*models.PendingSyncEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, dbErr("scan queue entry", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertQueueEntry inserts e as a pending entry, or resets the existing
// active entry for the same key (status pending, attempts and error
// cleared, rescheduled). It reports whether a new row was created.
func (r *Repository) UpsertQueueEntry(ctx context.Context, e *models.PendingSyncEntry) (bool, error) {
	now := r.now().Unix()
	if e.ScheduledAt == 0 {
		e.ScheduledAt = now
	}
	created := false

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var existingID models.UUID
		var createdAt int64
		err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT id, created_at FROM pending_sync_queue
			WHERE connection_id = ? AND local_type = ? AND local_id = ? AND status IN (?, ?)`),
			e.ConnectionID, e.LocalType, e.LocalID,
			models.QueueStatusPending, models.QueueStatusProcessing).Scan(&existingID, &createdAt)

		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, r.db.Rebind(`UPDATE pending_sync_queue SET
				status = ?, priority = ?, scheduled_at = ?, attempt_count = 0, max_attempts = ?,
				last_error = NULL, updated_at = ?
				WHERE id = ?`),
				models.QueueStatusPending, e.Priority, e.ScheduledAt, e.MaxAttempts, now, existingID)
			if err != nil {
				return dbErr("reset queue entry", err)
			}
			e.ID = existingID
			e.CreatedAt = createdAt
		case stderrors.Is(err, sql.ErrNoRows):
			e.ID = models.UUID(uuid.New())
			e.CreatedAt = now
			_, err = tx.ExecContext(ctx, r.db.Rebind(`INSERT INTO pending_sync_queue (`+queueColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, NULL, ?, ?)`),
				e.ID, e.ConnectionID, e.LocalType, e.LocalID, models.QueueStatusPending,
				e.Priority, e.ScheduledAt, e.MaxAttempts, now, now)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrConstraint, "insert queue entry", err)
			}
			created = true
		default:
			return dbErr("look up queue entry", err)
		}

		e.Status = models.QueueStatusPending
		e.AttemptCount = 0
		e.LastError = ""
		e.UpdatedAt = now
		return nil
	})
	return created, err
}

// GetQueueEntry retrieves a queue entry by ID.
func (r *Repository) GetQueueEntry(ctx context.Context, id models.UUID) (*models.PendingSyncEntry, error) {
	e, err := scanQueueEntry(r.queryRow(ctx, `SELECT `+queueColumns+` FROM pending_sync_queue WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "queue entry")
	}
	return e, nil
}

// FindActiveQueueEntry returns the pending or processing entry for a key, or nil.
func (r *Repository) FindActiveQueueEntry(ctx context.Context, connectionID models.UUID, localType, localID string) (*models.PendingSyncEntry, error) {
	e, err := scanQueueEntry(r.queryRow(ctx, `SELECT `+queueColumns+` FROM pending_sync_queue
		WHERE connection_id = ? AND local_type = ? AND local_id = ? AND status IN (?, ?)`,
		connectionID, localType, localID, models.QueueStatusPending, models.QueueStatusProcessing))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("load queue entry", err)
	}
	return e, nil
}

// ListQueueEntries returns every entry of a connection, oldest first.
func (r *Repository) ListQueueEntries(ctx context.Context, connectionID models.UUID) ([]*models.PendingSyncEntry, error) {
	rows, err := r.query(ctx, `SELECT `+queueColumns+` FROM pending_sync_queue
		WHERE connection_id = ? ORDER BY created_at, local_type, local_id`, connectionID)
	if err != nil {
		return nil, dbErr("list queue entries", err)
	}
	return r.scanQueueRows(rows)
}

// ListDueQueueEntries returns pending entries scheduled at or before now,
// highest priority first.
func (r *Repository) ListDueQueueEntries(ctx context.Context, now int64, limit int) ([]*models.PendingSyncEntry, error) {
	rows, err := r.query(ctx, `SELECT `+queueColumns+` FROM pending_sync_queue
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY priority DESC, scheduled_at, created_at LIMIT ?`,
		models.QueueStatusPending, now, limit)
	if err != nil {
		return nil, dbErr("list due queue entries", err)
	}
	return r.scanQueueRows(rows)
}

// TransitionQueueEntry writes e's status, schedule, attempts and error, but
// only while the stored status still equals from. A lost race returns
// ErrQueueTransition.
func (r *Repository) TransitionQueueEntry(ctx context.Context, e *models.PendingSyncEntry, from models.QueueStatus) error {
	now := r.now().Unix()
	res, err := r.exec(ctx, `UPDATE pending_sync_queue SET status = ?, scheduled_at = ?,
		attempt_count = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		e.Status, e.ScheduledAt, e.AttemptCount, nullString(e.LastError), now, e.ID, from)
	if err != nil {
		return dbErr("transition queue entry", err)
	}
	if affected(res) == 0 {
		return apperrors.Newf(apperrors.ErrQueueTransition,
			"queue entry %s is no longer %s", e.ID, from)
	}
	e.UpdatedAt = now
	return nil
}
