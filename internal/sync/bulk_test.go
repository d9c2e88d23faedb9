package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/ledgerlink/internal/db"
	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// failingSource fails List for the listed types.
type failingSource struct {
	db.LocalRecordSource
	fail map[string]bool
}

func (s *failingSource) List(ctx context.Context, tenantID, localType string) ([]*models.LocalRecord, error) {
	if s.fail[localType] {
		return nil, errors.New("record source unavailable")
	}
	return s.LocalRecordSource.List(ctx, tenantID, localType)
}

func (h *harness) withSource(src db.LocalRecordSource, opts ...Option) *Engine {
	return NewEngine(h.repo, src, h.tokens, h.remote, h.queue,
		append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func (h *harness) activeEntries(t *testing.T) map[string]*models.PendingSyncEntry {
	t.Helper()
	entries, err := h.repo.ListQueueEntries(context.Background(), h.conn.ID)
	require.NoError(t, err)
	out := make(map[string]*models.PendingSyncEntry)
	for _, e := range entries {
		if !e.Status.Active() {
			continue
		}
		key := e.LocalType + "/" + e.LocalID
		require.NotContains(t, out, key, "two active entries for %s", key)
		out[key] = e
	}
	return out
}

func TestSyncBulkExplicitIDsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	req := BulkRequest{
		ConnectionID: h.conn.ID,
		EntityType:   models.LocalTypeSubcontractor,
		LocalIDs:     []string{"sub-1", "sub-2"},
		Direction:    models.DirectionPush,
	}

	res, err := h.engine.SyncBulk(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Created)

	res, err = h.engine.SyncBulk(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Updated)

	entries := h.activeEntries(t)
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "subcontractor/sub-1")
	assert.Equal(t, models.QueueStatusPending, entries["subcontractor/sub-2"].Status)
}

func TestSyncBulkSkipsSyncedRecords(t *testing.T) {
	h := newHarness(t)
	h.putSubcontractor(t, "sub-1", "ABC Co")
	h.putSubcontractor(t, "sub-2", "XYZ Ltd")
	h.synced(t, models.LocalTypeSubcontractor, "sub-1", "V-1", "0")

	res, err := h.engine.SyncBulk(context.Background(), BulkRequest{
		ConnectionID: h.conn.ID,
		EntityType:   models.LocalTypeSubcontractor,
		Direction:    models.DirectionPush,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	entries := h.activeEntries(t)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, "subcontractor/sub-2")
}

func TestSyncBulkCapsAtBatchCeiling(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 5; i++ {
		h.putSubcontractor(t, fmt.Sprintf("sub-%d", i), "Co")
	}
	engine := h.withSource(h.records, WithBatchCeiling(3))

	res, err := engine.SyncBulk(context.Background(), BulkRequest{
		ConnectionID: h.conn.ID,
		EntityType:   models.LocalTypeSubcontractor,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Len(t, h.activeEntries(t), 3)
}

func TestSyncBulkAllContinuesPastFailingType(t *testing.T) {
	h := newHarness(t)
	h.put(t, models.LocalTypeProject, "p-1", models.Project{ID: "p-1", Name: "Tower"})
	h.putSubcontractor(t, "sub-1", "ABC Co")
	src := &failingSource{LocalRecordSource: h.records, fail: map[string]bool{models.LocalTypePaymentApplication: true}}
	engine := h.withSource(src)

	res, err := engine.SyncBulk(context.Background(), BulkRequest{
		ConnectionID: h.conn.ID,
		EntityType:   models.EntityTypeAll,
		Direction:    models.DirectionPush,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Failed)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "payment_application")

	entries := h.activeEntries(t)
	assert.Contains(t, entries, "project/p-1")
	assert.Contains(t, entries, "subcontractor/sub-1")

	l, err := h.repo.GetSyncLog(context.Background(), res.SyncLogID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncLogSynced, l.Status)
	assert.Empty(t, l.EntityType)
	assert.Equal(t, 3, l.Processed)
	assert.Equal(t, 1, l.Failed)
	assert.Contains(t, l.ErrorSummary, "record source unavailable")
}

func TestSyncBulkFailsWhenEveryTypeFails(t *testing.T) {
	h := newHarness(t)
	fail := make(map[string]bool)
	for _, lt := range models.SupportedLocalTypes() {
		fail[lt] = true
	}
	engine := h.withSource(&failingSource{LocalRecordSource: h.records, fail: fail})

	res, err := engine.SyncBulk(context.Background(), BulkRequest{ConnectionID: h.conn.ID, EntityType: models.EntityTypeAll})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed))
	assert.False(t, res.Success)
	assert.Equal(t, 4, res.Failed)

	l, err := h.repo.GetSyncLog(context.Background(), res.SyncLogID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncLogFailed, l.Status)
}

func TestSyncBulkNothingToDo(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.SyncBulk(context.Background(), BulkRequest{ConnectionID: h.conn.ID, EntityType: models.LocalTypeProject})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.Created+res.Updated+res.Failed)
}

func TestSyncBulkRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	cases := map[string]BulkRequest{
		"missing type":   {ConnectionID: h.conn.ID},
		"unknown type":   {ConnectionID: h.conn.ID, EntityType: "widget"},
		"ids with all":   {ConnectionID: h.conn.ID, EntityType: models.EntityTypeAll, LocalIDs: []string{"x"}},
		"pull direction": {ConnectionID: h.conn.ID, EntityType: models.LocalTypeProject, Direction: models.DirectionPull},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.engine.SyncBulk(context.Background(), req)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "got %v", err)
		})
	}

	require.NoError(t, h.repo.DeactivateConnection(context.Background(), h.conn.ID))
	_, err := h.engine.SyncBulk(context.Background(), BulkRequest{ConnectionID: h.conn.ID, EntityType: models.LocalTypeProject})
	assert.True(t, apperrors.Is(err, apperrors.ErrConnectionInactive))
}
