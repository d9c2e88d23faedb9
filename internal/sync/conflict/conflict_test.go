package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kimhsiao/ledgerlink/internal/models"
)

type memoryStore struct {
	logs []*models.ConflictLog
	err  error
}

func (s *memoryStore) CreateConflictLog(_ context.Context, log *models.ConflictLog) error {
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, log)
	return nil
}

func syncedMapping() *models.EntityMapping {
	return &models.EntityMapping{
		ID:                 "m-1",
		ConnectionID:       "c-1",
		LocalType:          models.LocalTypeSubcontractor,
		LocalID:            "sub-1",
		RemoteType:         models.RemoteTypeVendor,
		RemoteID:           "V-1",
		RemoteVersionToken: "3",
		Status:             models.MappingStatusSynced,
	}
}

// TestRecordWritesRefusal tests that a conflict is stored as refused.
func TestRecordWritesRefusal(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store)
	r.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	entry, err := r.Record(context.Background(), FromMapping(syncedMapping(), "Stale Object Error"))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(store.logs) != 1 {
		t.Fatalf("Expected 1 conflict log, got %d", len(store.logs))
	}
	if entry.Resolution != models.ConflictResolutionRefused {
		t.Errorf("Expected resolution %q, got %q", models.ConflictResolutionRefused, entry.Resolution)
	}
	if entry.SentVersionToken != "3" {
		t.Errorf("Expected sent token 3, got %q", entry.SentVersionToken)
	}
	if entry.DetectedAt != 1_700_000_000 {
		t.Errorf("Expected detected_at from clock, got %d", entry.DetectedAt)
	}
	if entry.MappingID != "m-1" || entry.RemoteID != "V-1" {
		t.Errorf("Unexpected mapping reference: %+v", entry)
	}
}

// TestRecordPropagatesStoreError tests that storage failures surface.
func TestRecordPropagatesStoreError(t *testing.T) {
	r := NewRecorder(&memoryStore{err: errors.New("disk full")})
	if _, err := r.Record(context.Background(), FromMapping(syncedMapping(), "")); err == nil {
		t.Error("Expected error from store")
	}
}

// TestDetect tests stale token detection.
func TestDetect(t *testing.T) {
	m := syncedMapping()

	if _, stale := Detect(m, "3"); stale {
		t.Error("Equal tokens should not conflict")
	}

	c, stale := Detect(m, "4")
	if !stale {
		t.Fatal("Expected conflict for newer remote token")
	}
	if c.RemoteToken != "4" || c.SentVersionToken != "3" {
		t.Errorf("Unexpected tokens: sent=%q remote=%q", c.SentVersionToken, c.RemoteToken)
	}

	if _, stale := Detect(nil, "4"); stale {
		t.Error("Nil mapping should not conflict")
	}
	if _, stale := Detect(&models.EntityMapping{LocalID: "x"}, "4"); stale {
		t.Error("Mapping without remote id should not conflict")
	}
	if _, stale := Detect(m, ""); stale {
		t.Error("Unknown remote token should not conflict")
	}
}
