package sync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
	"github.com/kimhsiao/ledgerlink/internal/sync/classify"
)

// BulkRequest selects the records a bulk invocation enqueues.
type BulkRequest struct {
	ConnectionID models.UUID      `json:"connection_id"`
	EntityType   string           `json:"entity_type"`
	LocalIDs     []string         `json:"local_ids,omitempty"`
	Direction    models.Direction `json:"direction"`
	Priority     int              `json:"priority,omitempty"`
}

// Validate checks the request shape.
func (r BulkRequest) Validate() error {
	switch {
	case r.ConnectionID == "":
		return apperrors.New(apperrors.ErrInvalid, "connection_id is required")
	case r.EntityType == "":
		return apperrors.New(apperrors.ErrInvalid, "entity_type is required")
	case r.EntityType != models.EntityTypeAll && !models.IsSupportedLocalType(r.EntityType):
		return apperrors.Newf(apperrors.ErrInvalid, "unsupported entity_type %q", r.EntityType)
	case r.EntityType == models.EntityTypeAll && len(r.LocalIDs) > 0:
		return apperrors.New(apperrors.ErrInvalid, "explicit local_ids need a single entity_type")
	case r.Direction != "" && r.Direction != models.DirectionPush:
		// Queue entries are drained as pushes.
		return apperrors.Newf(apperrors.ErrInvalid, "bulk sync does not support direction %q", r.Direction)
	}
	return nil
}

func (r BulkRequest) types() []string {
	if r.EntityType == models.EntityTypeAll {
		return models.SupportedLocalTypes()
	}
	return []string{r.EntityType}
}

// SyncBulk resolves candidate records and enqueues them into the Pending
// Sync Queue. Nothing is sent to the remote system here; the queue is
// drained later through SyncEntity.
//
// Created counts new queue rows, Updated counts reset rows and Failed
// counts records or types that could not be enqueued. The invocation
// succeeds when at least one record was queued, or when there was nothing
// to do and nothing failed.
func (e *Engine) SyncBulk(ctx context.Context, req BulkRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		res := failedResult(classify.Classify(err))
		observe("bulk", res)
		return res, err
	}

	conn, err := e.loadConnection(ctx, req.ConnectionID)
	if err != nil {
		res := failedResult(classify.Classify(err))
		observe("bulk", res)
		return res, err
	}

	l := &models.SyncLog{ConnectionID: conn.ID, Direction: models.DirectionPush}
	if req.EntityType != models.EntityTypeAll {
		l.EntityType = req.EntityType
	}
	if err := e.store.CreateSyncLog(ctx, l); err != nil {
		res := failedResult(classify.Classify(err))
		observe("bulk", res)
		return res, err
	}

	res := &Result{}
	var errs error
	for _, localType := range req.types() {
		ids, err := e.resolve(ctx, conn, localType, req.LocalIDs)
		if err != nil {
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("resolve %s: %w", localType, err))
			e.log.Warn("bulk resolution failed", map[string]interface{}{
				"connection_id": conn.ID,
				"local_type":    localType,
				"error":         err.Error(),
			})
			continue
		}

		for _, id := range ids {
			_, created, err := e.queue.Enqueue(ctx, conn.ID, localType, id, req.Priority)
			switch {
			case err != nil:
				res.Failed++
				errs = multierr.Append(errs, fmt.Errorf("enqueue %s %s: %w", localType, id, err))
			case created:
				res.Created++
			default:
				res.Updated++
			}
		}
	}

	queued := res.Created + res.Updated
	res.Success = queued > 0 || res.Failed == 0
	if errs != nil {
		c := classify.Classify(multierr.Errors(errs)[0])
		res.Error = &ResultError{
			Kind:      string(c.Kind),
			Message:   summarize(errs),
			Retryable: c.Retryable,
		}
	}

	e.finishLog(ctx, l, res)
	observe("bulk", res)

	fields := map[string]interface{}{
		"connection_id": conn.ID,
		"entity_type":   req.EntityType,
		"created":       res.Created,
		"updated":       res.Updated,
		"failed":        res.Failed,
	}
	if !res.Success {
		e.log.Warn("bulk sync enqueued nothing", fields)
		return res, apperrors.Wrap(apperrors.ErrSyncFailed, "bulk sync failed", errs)
	}
	e.log.Info("bulk sync enqueued", fields)
	return res, nil
}

// resolve returns the local ids to enqueue for one type. Explicit ids are
// taken verbatim. Otherwise every record of the tenant not yet synced is
// taken, up to the batch ceiling; the rest is left for a later invocation.
func (e *Engine) resolve(ctx context.Context, conn *models.Connection, localType string, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}

	records, err := e.records.List(ctx, conn.TenantID, localType)
	if err != nil {
		return nil, err
	}
	synced, err := e.store.ListSyncedLocalIDs(ctx, conn.ID, localType)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := synced[rec.ID]; ok {
			continue
		}
		ids = append(ids, rec.ID)
		if len(ids) == e.batchCeiling {
			break
		}
	}
	return ids, nil
}

func summarize(err error) string {
	all := multierr.Errors(err)
	msgs := make([]string, 0, len(all))
	for _, e := range all {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
