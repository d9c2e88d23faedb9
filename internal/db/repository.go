// Package db provides repository operations for the ledgerlink durable tables.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/ledgerlink/internal/crypto"
	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/uuid"
)

// Repository provides persistence for connections, mappings, logs, queue
// entries, OAuth states and conflict records.
type Repository struct {
	db     *DB
	cipher *crypto.TokenCipher
	now    func() time.Time

	// Prepared statement cache for the per-invocation lookups.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// Option configures a Repository.
type Option func(*Repository)

// WithTokenCipher encrypts connection tokens at rest.
func WithTokenCipher(c *crypto.TokenCipher) Option {
	return func(r *Repository) { r.cipher = c }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB, opts ...Option) *Repository {
	r := &Repository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DB returns the underlying database handle.
func (r *Repository) DB() *DB {
	return r.db
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the rebound query string.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	query = r.db.Rebind(query)
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

func (r *Repository) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.db.Rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.db.QueryContext(ctx, r.db.Rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.db.QueryRowContext(ctx, r.db.Rebind(query), args...)
}

// inTx runs fn in a transaction, rolling back on error.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit transaction", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func dbErr(op string, err error) error {
	return apperrors.Wrap(apperrors.ErrDatabase, op, err)
}

func notFoundOr(err error, what string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.ErrNotFound, "%s not found", what)
	}
	return dbErr("load "+what, err)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullString maps "" to SQL NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// =====================================================
// Connection Operations
// =====================================================

const connectionColumns = `id, tenant_id, remote_realm_id, access_token, refresh_token,
	access_token_expires_at, refresh_token_expires_at, sandbox, active, reauth_required,
	last_error, last_connected_at, created_at, updated_at`

func (r *Repository) scanConnection(row rowScanner) (*models.Connection, error) {
	var c models.Connection
	var lastError sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &c.RealmID, &c.AccessToken, &c.RefreshToken,
		&c.AccessTokenExpiresAt, &c.RefreshTokenExpiresAt, &c.Sandbox, &c.Active, &c.ReauthRequired,
		&lastError, &c.LastConnectedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.LastError = lastError.String

	if c.AccessToken, err = r.cipher.Open(c.AccessToken); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "decrypt access token", err)
	}
	if c.RefreshToken, err = r.cipher.Open(c.RefreshToken); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "decrypt refresh token", err)
	}
	return &c, nil
}

func (r *Repository) sealTokens(c *models.Connection) (access, refresh string, err error) {
	if access, err = r.cipher.Seal(c.AccessToken); err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "encrypt access token", err)
	}
	if refresh, err = r.cipher.Seal(c.RefreshToken); err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "encrypt refresh token", err)
	}
	return access, refresh, nil
}

// GetConnection retrieves a connection by ID.
func (r *Repository) GetConnection(ctx context.Context, id models.UUID) (*models.Connection, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = ?`)
	if err != nil {
		return nil, dbErr("prepare connection lookup", err)
	}
	c, err := r.scanConnection(stmt.QueryRowContext(ctx, id))
	if err != nil {
		return nil, notFoundOr(err, "connection")
	}
	return c, nil
}

// FindActiveConnection returns the active connection for (tenant, realm).
func (r *Repository) FindActiveConnection(ctx context.Context, tenantID, realmID string) (*models.Connection, error) {
	row := r.queryRow(ctx, `SELECT `+connectionColumns+` FROM connections
		WHERE tenant_id = ? AND remote_realm_id = ? AND active = 1`, tenantID, realmID)
	c, err := r.scanConnection(row)
	if err != nil {
		return nil, notFoundOr(err, "active connection")
	}
	return c, nil
}

// ListConnections returns every connection of a tenant, newest first.
func (r *Repository) ListConnections(ctx context.Context, tenantID string) ([]*models.Connection, error) {
	rows, err := r.query(ctx, `SELECT `+connectionColumns+` FROM connections
		WHERE tenant_id = ? ORDER BY created_at DESC, id`, tenantID)
	if err != nil {
		return nil, dbErr("list connections", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		c, err := r.scanConnection(rows)
		if err != nil {
			return nil, dbErr("scan connection", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveAuthorizedConnection stores the result of an OAuth completion. An
// existing row for (tenant, realm) is reactivated and updated in place, so
// mappings stay attached to it; otherwise a new row is created.
func (r *Repository) SaveAuthorizedConnection(ctx context.Context, c *models.Connection) error {
	access, refresh, err := r.sealTokens(c)
	if err != nil {
		return err
	}
	now := r.now().Unix()

	return r.inTx(ctx, func(tx *sql.Tx) error {
		var existingID models.UUID
		var createdAt int64
		err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT id, created_at FROM connections
			WHERE tenant_id = ? AND remote_realm_id = ?
			ORDER BY active DESC, updated_at DESC LIMIT 1`), c.TenantID, c.RealmID).Scan(&existingID, &createdAt)

		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, r.db.Rebind(`UPDATE connections SET
				access_token = ?, refresh_token = ?, access_token_expires_at = ?, refresh_token_expires_at = ?,
				sandbox = ?, active = 1, reauth_required = 0, last_error = NULL,
				last_connected_at = ?, updated_at = ?
				WHERE id = ?`),
				access, refresh, c.AccessTokenExpiresAt, c.RefreshTokenExpiresAt,
				boolInt(c.Sandbox), now, now, existingID)
			if err != nil {
				return dbErr("reactivate connection", err)
			}
			c.ID = existingID
			c.CreatedAt = createdAt
		case stderrors.Is(err, sql.ErrNoRows):
			c.ID = models.UUID(uuid.New())
			c.CreatedAt = now
			_, err = tx.ExecContext(ctx, r.db.Rebind(`INSERT INTO connections (`+connectionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, NULL, ?, ?, ?)`),
				c.ID, c.TenantID, c.RealmID, access, refresh,
				c.AccessTokenExpiresAt, c.RefreshTokenExpiresAt, boolInt(c.Sandbox),
				now, now, now)
			if err != nil {
				return dbErr("insert connection", err)
			}
		default:
			return dbErr("look up connection", err)
		}

		c.Active = true
		c.ReauthRequired = false
		c.LastError = ""
		c.LastConnectedAt = now
		c.UpdatedAt = now
		return nil
	})
}

// UpdateConnectionTokens persists a successful refresh: both tokens, both
// expiries, cleared error state and a new last_connected_at.
func (r *Repository) UpdateConnectionTokens(ctx context.Context, c *models.Connection) error {
	access, refresh, err := r.sealTokens(c)
	if err != nil {
		return err
	}
	now := r.now().Unix()

	res, err := r.exec(ctx, `UPDATE connections SET
		access_token = ?, refresh_token = ?, access_token_expires_at = ?, refresh_token_expires_at = ?,
		reauth_required = 0, last_error = NULL, last_connected_at = ?, updated_at = ?
		WHERE id = ?`,
		access, refresh, c.AccessTokenExpiresAt, c.RefreshTokenExpiresAt, now, now, c.ID)
	if err != nil {
		return dbErr("update connection tokens", err)
	}
	if affected(res) == 0 {
		return apperrors.New(apperrors.ErrNotFound, "connection not found")
	}

	c.ReauthRequired = false
	c.LastError = ""
	c.LastConnectedAt = now
	c.UpdatedAt = now
	return nil
}

// MarkReauthRequired records that the connection needs a human to reconnect.
// Tokens are left untouched.
func (r *Repository) MarkReauthRequired(ctx context.Context, id models.UUID, message string) error {
	res, err := r.exec(ctx, `UPDATE connections SET reauth_required = 1, last_error = ?, updated_at = ?
		WHERE id = ?`, nullString(message), r.now().Unix(), id)
	if err != nil {
		return dbErr("mark connection reauth", err)
	}
	if affected(res) == 0 {
		return apperrors.New(apperrors.ErrNotFound, "connection not found")
	}
	return nil
}

// RecordConnectionError stores last_error without flagging the connection
// for reconnection.
func (r *Repository) RecordConnectionError(ctx context.Context, id models.UUID, message string) error {
	res, err := r.exec(ctx, `UPDATE connections SET last_error = ?, updated_at = ? WHERE id = ?`,
		nullString(message), r.now().Unix(), id)
	if err != nil {
		return dbErr("record connection error", err)
	}
	if affected(res) == 0 {
		return apperrors.New(apperrors.ErrNotFound, "connection not found")
	}
	return nil
}

// DeactivateConnection clears tokens and sets active=false. The row is kept.
func (r *Repository) DeactivateConnection(ctx context.Context, id models.UUID) error {
	res, err := r.exec(ctx, `UPDATE connections SET access_token = '', refresh_token = '',
		access_token_expires_at = 0, refresh_token_expires_at = 0, active = 0, updated_at = ?
		WHERE id = ?`, r.now().Unix(), id)
	if err != nil {
		return dbErr("deactivate connection", err)
	}
	if affected(res) == 0 {
		return apperrors.New(apperrors.ErrNotFound, "connection not found")
	}
	return nil
}

// =====================================================
// OAuthState Operations
// =====================================================

// SaveOAuthState stores a pending authorize round trip.
func (r *Repository) SaveOAuthState(ctx context.Context, s *models.OAuthState) error {
	if s.CreatedAt == 0 {
		s.CreatedAt = r.now().Unix()
	}
	_, err := r.exec(ctx, `INSERT INTO oauth_states (nonce, tenant_id, sandbox, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`, s.Nonce, s.TenantID, boolInt(s.Sandbox), s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return dbErr("insert oauth state", err)
	}
	return nil
}

// ConsumeOAuthState loads and deletes a state row. A nonce can be consumed once.
func (r *Repository) ConsumeOAuthState(ctx context.Context, nonce string) (*models.OAuthState, error) {
	var s models.OAuthState
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT nonce, tenant_id, sandbox, expires_at, created_at
			FROM oauth_states WHERE nonce = ?`), nonce).
			Scan(&s.Nonce, &s.TenantID, &s.Sandbox, &s.ExpiresAt, &s.CreatedAt)
		if stderrors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrStateInvalid, "unknown or already used oauth state")
		}
		if err != nil {
			return dbErr("load oauth state", err)
		}

		res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM oauth_states WHERE nonce = ?`), nonce)
		if err != nil {
			return dbErr("consume oauth state", err)
		}
		if affected(res) != 1 {
			return apperrors.New(apperrors.ErrStateInvalid, "oauth state already used")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PurgeExpiredOAuthStates deletes states that expired before now.
func (r *Repository) PurgeExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, dbErr("purge oauth states", err)
	}
	return affected(res), nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog records a refused stale-version update.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	log.ID = models.UUID(uuid.New())
	if log.DetectedAt == 0 {
		log.DetectedAt = r.now().Unix()
	}
	if log.Resolution == "" {
		log.Resolution = models.ConflictResolutionRefused
	}

	_, err := r.exec(ctx, `INSERT INTO conflict_log (id, mapping_id, connection_id, local_type, local_id,
		remote_id, sent_version_token, message, resolution, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, nullString(string(log.MappingID)), log.ConnectionID, log.LocalType, log.LocalID,
		log.RemoteID, log.SentVersionToken, nullString(log.Message), log.Resolution, log.DetectedAt)
	if err != nil {
		return dbErr("insert conflict log", err)
	}
	return nil
}

// ListConflictLogs returns a connection's conflict records, newest first.
func (r *Repository) ListConflictLogs(ctx context.Context, connectionID models.UUID) ([]*models.ConflictLog, error) {
	rows, err := r.query(ctx, `SELECT id, mapping_id, connection_id, local_type, local_id, remote_id,
		sent_version_token, message, resolution, detected_at
		FROM conflict_log WHERE connection_id = ? ORDER BY detected_at DESC, id`, connectionID)
	if err != nil {
		return nil, dbErr("list conflict logs", err)
	}
	defer rows.Close()

	var out []*models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		var mappingID, message sql.NullString
		if err := rows.Scan(&c.ID, &mappingID, &c.ConnectionID, &c.LocalType, &c.LocalID, &c.RemoteID,
			&c.SentVersionToken, &message, &c.Resolution, &c.DetectedAt); err != nil {
			return nil, dbErr("scan conflict log", err)
		}
		c.MappingID = models.UUID(mappingID.String)
		c.Message = message.String
		out = append(out, &c)
	}
	return out, rows.Err()
}
