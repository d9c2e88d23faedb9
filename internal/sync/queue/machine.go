package queue

import (
	"context"

	"github.com/looplab/fsm"

	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// Queue events.
const (
	EventClaim    = "claim"
	EventComplete = "complete"
	EventRetry    = "retry"
	EventFail     = "fail"
)

var events = fsm.Events{
	{Name: EventClaim, Src: []string{string(models.QueueStatusPending)}, Dst: string(models.QueueStatusProcessing)},
	{Name: EventComplete, Src: []string{string(models.QueueStatusProcessing)}, Dst: string(models.QueueStatusCompleted)},
	{Name: EventRetry, Src: []string{string(models.QueueStatusProcessing)}, Dst: string(models.QueueStatusPending)},
	{Name: EventFail, Src: []string{string(models.QueueStatusProcessing)}, Dst: string(models.QueueStatusFailed)},
}

// advance applies event to e's status. It returns the status the entry
// left, for the compare-and-swap on the stored row.
func advance(ctx context.Context, e *models.PendingSyncEntry, event string) (models.QueueStatus, error) {
	from := e.Status
	machine := fsm.NewFSM(string(from), events, fsm.Callbacks{})
	if err := machine.Event(ctx, event); err != nil {
		return from, apperrors.Wrap(apperrors.ErrQueueTransition,
			"queue entry "+string(e.ID)+" cannot "+event+" from "+string(from), err)
	}
	e.Status = models.QueueStatus(machine.Current())
	return from, nil
}

// CanTransition reports whether event is allowed from status.
func CanTransition(status models.QueueStatus, event string) bool {
	return fsm.NewFSM(string(status), events, fsm.Callbacks{}).Can(event)
}
