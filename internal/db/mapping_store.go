package db

import (
	"context"
	"database/sql"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/uuid"
)

const mappingColumns = `id, connection_id, local_type, local_id, remote_type, remote_id,
	remote_version_token, status, last_synced_at, last_error, last_error_kind, retry_count,
	created_at, updated_at`

// MappingSuccess carries what the remote system returned for a synced record.
type MappingSuccess struct {
	ConnectionID models.UUID
	LocalType    string
	LocalID      string
	RemoteType   string
	RemoteID     string
	VersionToken string
}

// MappingFailure carries a classified failure for one record.
type MappingFailure struct {
	ConnectionID models.UUID
	LocalType    string
	LocalID      string
	RemoteType   string
	Status       models.MappingStatus
	Kind         string
	Message      string
}

func scanMapping(row rowScanner) (*models.EntityMapping, error) {
	var m models.EntityMapping
	var remoteID, token, lastError, lastKind sql.NullString
	err := row.Scan(&m.ID, &m.ConnectionID, &m.LocalType, &m.LocalID, &m.RemoteType, &remoteID,
		&token, &m.Status, &m.LastSyncedAt, &lastError, &lastKind, &m.RetryCount,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.RemoteID = remoteID.String
	m.RemoteVersionToken = token.String
	m.LastError = lastError.String
	m.LastErrorKind = lastKind.String
	return &m, nil
}

// FindMapping returns the mapping for a local record, or nil when none exists.
func (r *Repository) FindMapping(ctx context.Context, connectionID models.UUID, localType, localID string) (*models.EntityMapping, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+mappingColumns+` FROM entity_mappings
		WHERE connection_id = ? AND local_type = ? AND local_id = ?`)
	if err != nil {
		return nil, dbErr("prepare mapping lookup", err)
	}
	m, err := scanMapping(stmt.QueryRowContext(ctx, connectionID, localType, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("load mapping", err)
	}
	return m, nil
}

// GetMapping retrieves a mapping by ID.
func (r *Repository) GetMapping(ctx context.Context, id models.UUID) (*models.EntityMapping, error) {
	m, err := scanMapping(r.queryRow(ctx, `SELECT `+mappingColumns+` FROM entity_mappings WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundOr(err, "mapping")
	}
	return m, nil
}

// ListMappings returns a connection's mappings. An empty localType lists all types.
func (r *Repository) ListMappings(ctx context.Context, connectionID models.UUID, localType string) ([]*models.EntityMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM entity_mappings WHERE connection_id = ?`
	args := []interface{}{connectionID}
	if localType != "" {
		query += ` AND local_type = ?`
		args = append(args, localType)
	}
	query += ` ORDER BY local_type, local_id`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list mappings", err)
	}
	defer rows.Close()

	var out []*models.EntityMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, dbErr("scan mapping", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSyncedLocalIDs returns the local ids whose mapping is currently synced.
func (r *Repository) ListSyncedLocalIDs(ctx context.Context, connectionID models.UUID, localType string) (map[string]struct{}, error) {
	rows, err := r.query(ctx, `SELECT local_id FROM entity_mappings
		WHERE connection_id = ? AND local_type = ? AND status = ?`,
		connectionID, localType, models.MappingStatusSynced)
	if err != nil {
		return nil, dbErr("list synced mappings", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr("scan synced mapping", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// UpsertOnSuccess marks a record synced with the values the remote system
// returned. prev is the mapping as read at the start of the invocation (nil
// when none existed). The write only applies if the stored version token
// still equals prev's, and an assigned remote_id can never be replaced.
// Either guard failing returns ErrMappingChanged or ErrConstraint and
// leaves the row untouched.
func (r *Repository) UpsertOnSuccess(ctx context.Context, prev *models.EntityMapping, s MappingSuccess) (*models.EntityMapping, error) {
	if s.RemoteID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "remote id is required")
	}
	if prev.HasRemote() && prev.RemoteID != s.RemoteID {
		return nil, apperrors.Newf(apperrors.ErrConstraint,
			"remote id %s is immutable, refusing %s", prev.RemoteID, s.RemoteID)
	}
	now := r.now().Unix()

	if prev == nil {
		res, err := r.exec(ctx, `INSERT INTO entity_mappings (`+mappingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, 0, ?, ?)
			ON CONFLICT (connection_id, local_type, local_id) DO NOTHING`,
			uuid.New(), s.ConnectionID, s.LocalType, s.LocalID, s.RemoteType, s.RemoteID,
			nullString(s.VersionToken), models.MappingStatusSynced, now, now, now)
		if err != nil {
			return nil, dbErr("insert mapping", err)
		}
		if affected(res) == 0 {
			return nil, apperrors.New(apperrors.ErrMappingChanged, "mapping was created by a concurrent invocation")
		}
		return r.FindMapping(ctx, s.ConnectionID, s.LocalType, s.LocalID)
	}

	res, err := r.exec(ctx, `UPDATE entity_mappings SET
		remote_type = ?, remote_id = ?, remote_version_token = ?, status = ?,
		last_synced_at = ?, last_error = NULL, last_error_kind = NULL, updated_at = ?
		WHERE id = ? AND COALESCE(remote_version_token, '') = ? AND (remote_id IS NULL OR remote_id = ?)`,
		s.RemoteType, s.RemoteID, nullString(s.VersionToken), models.MappingStatusSynced,
		now, now, prev.ID, prev.RemoteVersionToken, s.RemoteID)
	if err != nil {
		return nil, dbErr("update mapping", err)
	}
	if affected(res) == 0 {
		current, err := r.GetMapping(ctx, prev.ID)
		if err != nil {
			return nil, err
		}
		if current.HasRemote() && current.RemoteID != s.RemoteID {
			return nil, apperrors.Newf(apperrors.ErrConstraint,
				"remote id %s is immutable, refusing %s", current.RemoteID, s.RemoteID)
		}
		return nil, apperrors.New(apperrors.ErrMappingChanged, "version token changed since it was read")
	}
	return r.GetMapping(ctx, prev.ID)
}

// RecordFailure stores a classified failure. The row is created when it does
// not exist yet (remote_id stays NULL); remote_id and remote_version_token of
// an existing row are never touched.
func (r *Repository) RecordFailure(ctx context.Context, f MappingFailure) (*models.EntityMapping, error) {
	switch f.Status {
	case models.MappingStatusFailed, models.MappingStatusPendingRetry:
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid failure status %q", f.Status)
	}
	now := r.now().Unix()

	_, err := r.exec(ctx, `INSERT INTO entity_mappings (id, connection_id, local_type, local_id, remote_type,
		status, last_error, last_error_kind, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (connection_id, local_type, local_id) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			last_error_kind = excluded.last_error_kind,
			retry_count = entity_mappings.retry_count + 1,
			updated_at = excluded.updated_at`,
		uuid.New(), f.ConnectionID, f.LocalType, f.LocalID, f.RemoteType,
		f.Status, nullString(f.Message), nullString(f.Kind), now, now)
	if err != nil {
		return nil, dbErr("record mapping failure", err)
	}
	return r.FindMapping(ctx, f.ConnectionID, f.LocalType, f.LocalID)
}

// UpdateVersionToken replaces the stored token with one freshly read from the
// remote system, provided the stored token still equals expected.
func (r *Repository) UpdateVersionToken(ctx context.Context, mappingID models.UUID, expected, fresh string) error {
	if fresh == "" {
		return apperrors.New(apperrors.ErrInvalid, "version token must come from the remote system")
	}
	res, err := r.exec(ctx, `UPDATE entity_mappings SET remote_version_token = ?, updated_at = ?
		WHERE id = ? AND COALESCE(remote_version_token, '') = ?`,
		fresh, r.now().Unix(), mappingID, expected)
	if err != nil {
		return dbErr("update version token", err)
	}
	if affected(res) == 0 {
		if _, err := r.GetMapping(ctx, mappingID); err != nil {
			return err
		}
		return apperrors.New(apperrors.ErrMappingChanged, "version token changed since it was read")
	}
	return nil
}
