package sync

import (
	"context"

	"github.com/kimhsiao/ledgerlink/internal/db"
	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/gateway"
	"github.com/kimhsiao/ledgerlink/internal/metrics"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/sync/classify"
	"github.com/kimhsiao/ledgerlink/internal/sync/conflict"
	"github.com/kimhsiao/ledgerlink/internal/transform"
)

// EntityRequest names the one record a single-entity invocation syncs.
type EntityRequest struct {
	ConnectionID models.UUID      `json:"connection_id"`
	LocalType    string           `json:"local_type"`
	LocalID      string           `json:"local_id"`
	Direction    models.Direction `json:"direction"`
}

// Validate checks that all four fields are present and supported.
func (r EntityRequest) Validate() error {
	switch {
	case r.ConnectionID == "":
		return apperrors.New(apperrors.ErrInvalid, "connection_id is required")
	case r.LocalType == "":
		return apperrors.New(apperrors.ErrInvalid, "local_type is required")
	case r.LocalID == "":
		return apperrors.New(apperrors.ErrInvalid, "local_id is required")
	case r.Direction == "":
		return apperrors.New(apperrors.ErrInvalid, "direction is required")
	case !r.Direction.Valid():
		return apperrors.Newf(apperrors.ErrInvalid, "unsupported direction %q", r.Direction)
	case !models.IsSupportedLocalType(r.LocalType):
		return apperrors.Newf(apperrors.ErrInvalid, "unsupported local_type %q", r.LocalType)
	}
	return nil
}

func (r EntityRequest) key() string {
	return string(r.ConnectionID) + "|" + r.LocalType + "|" + r.LocalID
}

// invocation carries the state of one single-entity sync.
type invocation struct {
	req        EntityRequest
	remoteType string
	conn       *models.Connection
	log        *models.SyncLog
	mapping    *models.EntityMapping
	refreshed  bool
	refreshErr error
}

// SyncEntity syncs exactly one record end to end. The returned result is
// never nil; err is the terminal error when the result is not a success.
//
// On a remote auth rejection the token is refreshed once and the call is
// retried once. A second failure is terminal.
func (e *Engine) SyncEntity(ctx context.Context, req EntityRequest) (*Result, error) {
	start := e.now()
	if err := req.Validate(); err != nil {
		res := failedResult(classify.Classify(err))
		observe("entity", res)
		return res, err
	}

	if !e.inflight.TryLock(req.key()) {
		err := apperrors.Newf(apperrors.ErrSyncInProgress, "%s %s is already being synced", req.LocalType, req.LocalID)
		res := failedResult(classify.Classify(err))
		observe("entity", res)
		return res, err
	}
	defer e.inflight.Unlock(req.key())

	remoteType, _ := models.RemoteTypeFor(req.LocalType)
	inv := &invocation{req: req, remoteType: remoteType}

	var (
		res *Result
		err error
	)
	switch req.Direction {
	case models.DirectionPull:
		res, err = e.pull(ctx, inv)
	default:
		res, err = e.push(ctx, inv)
	}

	e.finishLog(ctx, inv.log, res)
	if res.Mapping == nil {
		res.Mapping = inv.mapping
	}
	observe("entity", res)
	metrics.SyncDuration.WithLabelValues(req.LocalType).Observe(e.now().Sub(start).Seconds())

	fields := map[string]interface{}{
		"connection_id": req.ConnectionID,
		"local_type":    req.LocalType,
		"local_id":      req.LocalID,
		"direction":     req.Direction,
		"refreshed":     inv.refreshed,
	}
	if err != nil {
		e.log.Warn("entity sync failed", fields, map[string]interface{}{
			"kind":  res.Error.Kind,
			"error": res.Error.Message,
		})
		return res, err
	}
	e.log.Info("entity synced", fields, map[string]interface{}{
		"created": res.Created,
		"updated": res.Updated,
	})
	return res, nil
}

// prepare runs the shared steps up to a usable connection and an open log.
func (e *Engine) prepare(ctx context.Context, inv *invocation) error {
	conn, err := e.loadConnection(ctx, inv.req.ConnectionID)
	if err != nil {
		return err
	}
	inv.conn = conn

	inv.log = &models.SyncLog{
		ConnectionID: conn.ID,
		Direction:    inv.req.Direction,
		EntityType:   inv.req.LocalType,
	}
	if err := e.store.CreateSyncLog(ctx, inv.log); err != nil {
		inv.log = nil
		return err
	}

	ready, err := e.tokens.EnsureValidToken(ctx, conn)
	if err != nil {
		return err
	}
	inv.conn = ready

	inv.mapping, err = e.store.FindMapping(ctx, conn.ID, inv.req.LocalType, inv.req.LocalID)
	return err
}

// fail records a classified failure on the mapping when the failure is
// about the record, and builds the result.
func (e *Engine) fail(ctx context.Context, inv *invocation, err error, recordOnMapping bool) (*Result, error) {
	c := classify.Classify(err)
	res := failedResult(c)

	if recordOnMapping && inv.conn != nil {
		m, ferr := e.store.RecordFailure(ctx, db.MappingFailure{
			ConnectionID: inv.conn.ID,
			LocalType:    inv.req.LocalType,
			LocalID:      inv.req.LocalID,
			RemoteType:   inv.remoteType,
			Status:       c.MappingStatus(),
			Kind:         string(c.Kind),
			Message:      c.Message,
		})
		if ferr != nil {
			e.log.Error("failed to record mapping failure", ferr, map[string]interface{}{
				"local_type": inv.req.LocalType,
				"local_id":   inv.req.LocalID,
			})
		} else {
			res.Mapping = m
			if c.Kind == classify.KindConflict && m.HasRemote() {
				if _, cerr := e.conflicts.Record(ctx, conflict.FromMapping(m, c.Message)); cerr != nil {
					e.log.Error("failed to record conflict", cerr, nil)
				}
			}
		}
	}
	if c.Kind == classify.KindAuth {
		e.recordAuthFailure(ctx, inv, err, c)
	}
	return res, err
}

// recordAuthFailure surfaces a terminal auth failure on the connection. A
// token that was rejected right after a successful refresh flags the
// connection for reconnection; any other remote rejection only stores the
// error. Failures the token manager already persisted are skipped.
func (e *Engine) recordAuthFailure(ctx context.Context, inv *invocation, err error, c classify.Classified) {
	if inv.conn == nil ||
		apperrors.Is(err, apperrors.ErrReauthRequired) ||
		apperrors.Is(err, apperrors.ErrConnectionInactive) ||
		apperrors.Is(inv.refreshErr, apperrors.ErrReauthRequired) {
		return
	}

	var werr error
	if inv.refreshed {
		werr = e.store.MarkReauthRequired(ctx, inv.conn.ID, c.Message)
	} else {
		werr = e.store.RecordConnectionError(ctx, inv.conn.ID, c.Message)
	}
	if werr != nil {
		e.log.Error("failed to record auth failure on connection", werr, map[string]interface{}{
			"connection_id": inv.conn.ID,
		})
	}
}

// callWithRefresh performs call, and on a remote auth rejection refreshes
// the token once and performs call once more:
//
//	call → classify → [refresh → call] → classify
//
// When the refresh itself fails the original error is returned.
func (e *Engine) callWithRefresh(ctx context.Context, inv *invocation, call func(*models.Connection) (*gateway.Entity, error)) (*gateway.Entity, error) {
	entity, err := call(inv.conn)
	if err == nil {
		return entity, nil
	}
	if !classify.Classify(err).RefreshAndRetry() {
		return nil, err
	}

	refreshed, rerr := e.tokens.Refresh(ctx, inv.conn)
	if rerr != nil {
		inv.refreshErr = rerr
		e.log.Warn("token refresh after auth rejection failed", map[string]interface{}{
			"connection_id": inv.conn.ID,
			"error":         rerr.Error(),
		})
		return nil, err
	}
	inv.conn = refreshed
	inv.refreshed = true

	return call(inv.conn)
}

// resolveRefs loads the remote ids of the records rec depends on. A
// dependency that has not been synced is simply absent; the transformer
// reports it.
func (e *Engine) resolveRefs(ctx context.Context, conn *models.Connection, rec *models.LocalRecord) (transform.Refs, error) {
	deps, err := transform.Dependencies(rec)
	if err != nil {
		return nil, err
	}
	refs := make(transform.Refs, len(deps))
	for _, d := range deps {
		m, err := e.store.FindMapping(ctx, conn.ID, d.LocalType, d.LocalID)
		if err != nil {
			return nil, err
		}
		if m.HasRemote() {
			refs[d] = m.RemoteID
		}
	}
	return refs, nil
}

// push sends the local record to the remote system.
func (e *Engine) push(ctx context.Context, inv *invocation) (*Result, error) {
	if err := e.prepare(ctx, inv); err != nil {
		// A rejected token is surfaced on the record as well as on the connection.
		return e.fail(ctx, inv, err, apperrors.Is(err, apperrors.ErrReauthRequired))
	}

	rec, err := e.records.Load(ctx, inv.conn.TenantID, inv.req.LocalType, inv.req.LocalID)
	if err != nil {
		// A missing record is terminal and leaves the mapping alone.
		return e.fail(ctx, inv, err, !apperrors.Is(err, apperrors.ErrNotFound))
	}

	refs, err := e.resolveRefs(ctx, inv.conn, rec)
	if err != nil {
		return e.fail(ctx, inv, err, true)
	}

	var target transform.Target
	if inv.mapping.HasRemote() {
		target = transform.Target{RemoteID: inv.mapping.RemoteID, VersionToken: inv.mapping.RemoteVersionToken}
	}
	payload, err := transform.Build(rec, target, refs)
	if err != nil {
		return e.fail(ctx, inv, err, true)
	}

	entity, err := e.callWithRefresh(ctx, inv, func(conn *models.Connection) (*gateway.Entity, error) {
		if payload.Update {
			return e.remote.UpdateEntity(ctx, conn, payload.RemoteType, payload.Body)
		}
		return e.remote.CreateEntity(ctx, conn, payload.RemoteType, payload.Body)
	})
	if err != nil {
		return e.fail(ctx, inv, err, true)
	}

	m, err := e.store.UpsertOnSuccess(ctx, inv.mapping, db.MappingSuccess{
		ConnectionID: inv.conn.ID,
		LocalType:    inv.req.LocalType,
		LocalID:      inv.req.LocalID,
		RemoteType:   payload.RemoteType,
		RemoteID:     entity.ID,
		VersionToken: entity.SyncToken,
	})
	if err != nil {
		return e.fail(ctx, inv, err, true)
	}

	res := &Result{Success: true, Mapping: m}
	if payload.Update {
		res.Updated = 1
	} else {
		res.Created = 1
	}
	return res, nil
}

// pull reads the remote counterpart back and records its current version
// token. Local records are never written.
func (e *Engine) pull(ctx context.Context, inv *invocation) (*Result, error) {
	if err := e.prepare(ctx, inv); err != nil {
		return e.fail(ctx, inv, err, apperrors.Is(err, apperrors.ErrReauthRequired))
	}
	if !inv.mapping.HasRemote() {
		err := apperrors.Newf(apperrors.ErrNotFound, "%s %s has no remote counterpart yet", inv.req.LocalType, inv.req.LocalID)
		return e.fail(ctx, inv, err, false)
	}

	entity, err := e.callWithRefresh(ctx, inv, func(conn *models.Connection) (*gateway.Entity, error) {
		return e.remote.QueryByID(ctx, conn, inv.remoteType, inv.mapping.RemoteID)
	})
	if err == nil && entity == nil {
		err = apperrors.Newf(apperrors.ErrNotFound, "remote %s %s no longer exists", inv.remoteType, inv.mapping.RemoteID)
	}
	if err != nil {
		return e.fail(ctx, inv, err, true)
	}

	res := &Result{Success: true, Mapping: inv.mapping}
	if stale, ok := conflict.Detect(inv.mapping, entity.SyncToken); ok {
		if err := e.store.UpdateVersionToken(ctx, inv.mapping.ID, stale.SentVersionToken, entity.SyncToken); err != nil {
			return e.fail(ctx, inv, err, true)
		}
		refreshed := *inv.mapping
		refreshed.RemoteVersionToken = entity.SyncToken
		res.Mapping = &refreshed
		res.Updated = 1
	}
	return res, nil
}

// RefetchVersionToken is the explicit resolution step after a conflict:
// it reads the current version token of the remote counterpart and stores
// it on the mapping, so the next push carries a token the remote accepts.
func (e *Engine) RefetchVersionToken(ctx context.Context, connectionID models.UUID, localType, localID string) (*models.EntityMapping, error) {
	res, err := e.SyncEntity(ctx, EntityRequest{
		ConnectionID: connectionID,
		LocalType:    localType,
		LocalID:      localID,
		Direction:    models.DirectionPull,
	})
	if err != nil {
		return nil, err
	}
	return res.Mapping, nil
}
