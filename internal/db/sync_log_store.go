package db

import (
	"context"
	"database/sql"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/uuid"
)

const syncLogColumns = `id, connection_id, started_at, completed_at, direction, entity_type,
	processed, created, updated, failed, status, error_summary`

func scanSyncLog(row rowScanner) (*models.SyncLog, error) {
	var l models.SyncLog
	var completedAt sql.NullInt64
	var entityType, summary sql.NullString
	err := row.Scan(&l.ID, &l.ConnectionID, &l.StartedAt, &completedAt, &l.Direction, &entityType,
		&l.Processed, &l.Created, &l.Updated, &l.Failed, &l.Status, &summary)
	if err != nil {
		return nil, err
	}
	l.CompletedAt = completedAt.Int64
	l.EntityType = entityType.String
	l.ErrorSummary = summary.String
	return &l, nil
}

// CreateSyncLog opens a running log row for one invocation.
func (r *Repository) CreateSyncLog(ctx context.Context, l *models.SyncLog) error {
	l.ID = models.UUID(uuid.New())
	l.StartedAt = r.now().Unix()
	l.CompletedAt = 0
	l.Status = models.SyncLogRunning

	_, err := r.exec(ctx, `INSERT INTO sync_logs (`+syncLogColumns+`)
		VALUES (?, ?, ?, NULL, ?, ?, 0, 0, 0, 0, ?, NULL)`,
		l.ID, l.ConnectionID, l.StartedAt, l.Direction, nullString(l.EntityType), l.Status)
	if err != nil {
		return dbErr("insert sync log", err)
	}
	return nil
}

// CompleteSyncLog seals a log with its counts and outcome. A sealed log is
// never written again; a second completion returns ErrLogCompleted.
func (r *Repository) CompleteSyncLog(ctx context.Context, l *models.SyncLog) error {
	if l.Status != models.SyncLogSynced && l.Status != models.SyncLogFailed {
		return apperrors.Newf(apperrors.ErrInvalid, "cannot complete sync log with status %q", l.Status)
	}
	completedAt := r.now().Unix()

	res, err := r.exec(ctx, `UPDATE sync_logs SET completed_at = ?, processed = ?, created = ?,
		updated = ?, failed = ?, status = ?, error_summary = ?
		WHERE id = ? AND completed_at IS NULL`,
		completedAt, l.Processed, l.Created, l.Updated, l.Failed, l.Status, nullString(l.ErrorSummary), l.ID)
	if err != nil {
		return dbErr("complete sync log", err)
	}
	if affected(res) == 0 {
		if _, err := r.GetSyncLog(ctx, l.ID); err != nil {
			return err
		}
		return apperrors.New(apperrors.ErrLogCompleted, "sync log already completed")
	}
	l.CompletedAt = completedAt
	return nil
}

// GetSyncLog retrieves a log by ID.
func (r *Repository) GetSyncLog(ctx context.Context, id models.UUID) (*models.SyncLog, error) {
	l, err := scanSyncLog(r.queryRow(ctx, `SELECT `+syncLogColumns+` FROM sync_logs WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "sync log")
	}
	return l, nil
}

// ListSyncLogs returns a connection's most recent logs.
func (r *Repository) ListSyncLogs(ctx context.Context, connectionID models.UUID, limit int) ([]*models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.query(ctx, `SELECT `+syncLogColumns+` FROM sync_logs
		WHERE connection_id = ? ORDER BY started_at DESC, id LIMIT ?`, connectionID, limit)
	if err != nil {
		return nil, dbErr("list sync logs", err)
	}
	defer rows.Close()

	var out []*models.SyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, dbErr("scan sync log", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
