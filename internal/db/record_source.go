package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// RecordSource serves local business records from the local_records table.
// Records are opaque JSON to the sync core.
type RecordSource struct {
	db *DB
}

// NewRecordSource creates a RecordSource.
func NewRecordSource(db *DB) *RecordSource {
	return &RecordSource{db: db}
}

// Load returns one record or an ErrNotFound error.
func (s *RecordSource) Load(ctx context.Context, tenantID, localType, localID string) (*models.LocalRecord, error) {
	var rec models.LocalRecord
	var data []byte
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT tenant_id, local_type, local_id, data, updated_at
		FROM local_records WHERE tenant_id = ? AND local_type = ? AND local_id = ?`),
		tenantID, localType, localID).Scan(&rec.TenantID, &rec.Type, &rec.ID, &data, &rec.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", localType, localID)
	}
	if err != nil {
		return nil, dbErr("load local record", err)
	}
	rec.Data = data
	return &rec, nil
}

// List returns every record of a type for a tenant, ordered by id.
func (s *RecordSource) List(ctx context.Context, tenantID, localType string) ([]*models.LocalRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`SELECT tenant_id, local_type, local_id, data, updated_at
		FROM local_records WHERE tenant_id = ? AND local_type = ? ORDER BY local_id`), tenantID, localType)
	if err != nil {
		return nil, dbErr("list local records", err)
	}
	defer rows.Close()

	var out []*models.LocalRecord
	for rows.Next() {
		var rec models.LocalRecord
		var data []byte
		if err := rows.Scan(&rec.TenantID, &rec.Type, &rec.ID, &data, &rec.UpdatedAt); err != nil {
			return nil, dbErr("scan local record", err)
		}
		rec.Data = data
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Put inserts or replaces a record.
func (s *RecordSource) Put(ctx context.Context, rec *models.LocalRecord) error {
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO local_records (tenant_id, local_type, local_id, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, local_type, local_id) DO UPDATE SET
			data = excluded.data, updated_at = excluded.updated_at`),
		rec.TenantID, rec.Type, rec.ID, string(rec.Data), rec.UpdatedAt)
	if err != nil {
		return dbErr("put local record", err)
	}
	return nil
}
