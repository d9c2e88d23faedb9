// Package scheduler drains the pending sync queue in the background.
// It is the reference worker for queue entries written by bulk sync; the
// sync engine itself never runs anything on its own.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/models"
	syncpkg "github.com/kimhsiao/ledgerlink/internal/sync"
)

// EntitySyncer runs one single-entity invocation.
type EntitySyncer interface {
	SyncEntity(ctx context.Context, req syncpkg.EntityRequest) (*syncpkg.Result, error)
}

// WorkQueue is the worker side of the pending sync queue.
type WorkQueue interface {
	Claim(ctx context.Context, limit int) ([]*models.PendingSyncEntry, error)
	Complete(ctx context.Context, id models.UUID) error
	Fail(ctx context.Context, id models.UUID, retryable bool, retryAfter time.Duration, cause error) (*models.PendingSyncEntry, error)
}

// Drainer claims due queue entries and syncs them one at a time.
type Drainer struct {
	engine       EntitySyncer
	queue        WorkQueue
	interval     time.Duration
	batch        int
	entryTimeout time.Duration
	log          *logging.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	draining  bool
	lastDrain time.Time
	last      Report
}

// Config holds drainer configuration.
type Config struct {
	Interval     time.Duration // how often to drain (default: 1 minute)
	Batch        int           // entries claimed per drain (default: 10)
	EntryTimeout time.Duration // bound on one entity sync (default: 2 minutes)
}

// DefaultConfig returns default drainer configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:     time.Minute,
		Batch:        10,
		EntryTimeout: 2 * time.Minute,
	}
}

// Report summarizes one drain pass.
type Report struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// NewDrainer creates a Drainer. Zero config fields take their defaults.
func NewDrainer(engine EntitySyncer, queue WorkQueue, config *Config) *Drainer {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	d := &Drainer{
		engine:       engine,
		queue:        queue,
		interval:     config.Interval,
		batch:        config.Batch,
		entryTimeout: config.EntryTimeout,
		log:          logging.For("drainer"),
		stopCh:       make(chan struct{}),
	}
	if d.interval <= 0 {
		d.interval = def.Interval
	}
	if d.batch <= 0 {
		d.batch = def.Batch
	}
	if d.entryTimeout <= 0 {
		d.entryTimeout = def.EntryTimeout
	}
	return d
}

// DrainOnce claims up to one batch of due entries and syncs each of them.
// Entries whose sync succeeds are completed; the others are failed, which
// reschedules them when the failure is retryable and attempts remain.
func (d *Drainer) DrainOnce(ctx context.Context) (Report, error) {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return Report{}, nil
	}
	d.draining = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.draining = false
		d.mu.Unlock()
	}()

	entries, err := d.queue.Claim(ctx, d.batch)
	if err != nil {
		return Report{}, err
	}

	report := Report{Claimed: len(entries)}
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		d.process(ctx, entry, &report)
	}

	d.mu.Lock()
	d.lastDrain = time.Now()
	d.last = report
	d.mu.Unlock()

	if report.Claimed > 0 {
		d.log.Info("queue drained", map[string]interface{}{
			"claimed":   report.Claimed,
			"completed": report.Completed,
			"retried":   report.Retried,
			"failed":    report.Failed,
		})
	}
	return report, nil
}

func (d *Drainer) process(ctx context.Context, entry *models.PendingSyncEntry, report *Report) {
	fields := map[string]interface{}{
		"entry_id":      entry.ID,
		"connection_id": entry.ConnectionID,
		"local_type":    entry.LocalType,
		"local_id":      entry.LocalID,
		"attempt":       entry.AttemptCount,
	}

	syncCtx, cancel := context.WithTimeout(ctx, d.entryTimeout)
	res, err := d.engine.SyncEntity(syncCtx, syncpkg.EntityRequest{
		ConnectionID: entry.ConnectionID,
		LocalType:    entry.LocalType,
		LocalID:      entry.LocalID,
		Direction:    models.DirectionPush,
	})
	cancel()

	if err == nil {
		if cerr := d.queue.Complete(ctx, entry.ID); cerr != nil {
			d.log.Error("failed to complete queue entry", cerr, fields)
			return
		}
		report.Completed++
		return
	}

	var (
		retryable  bool
		retryAfter time.Duration
	)
	if res != nil && res.Error != nil {
		retryable = res.Error.Retryable
		retryAfter = res.Error.RetryAfter
	}
	updated, ferr := d.queue.Fail(ctx, entry.ID, retryable, retryAfter, err)
	if ferr != nil {
		d.log.Error("failed to fail queue entry", ferr, fields)
		return
	}
	if updated.Status == models.QueueStatusPending {
		report.Retried++
		d.log.Debug("queue entry rescheduled", fields, map[string]interface{}{"scheduled_at": updated.ScheduledAt})
		return
	}
	report.Failed++
	d.log.Warn("queue entry failed", fields, map[string]interface{}{"error": err.Error()})
}

// Start runs DrainOnce every interval until Stop is called or ctx ends.
func (d *Drainer) Start(ctx context.Context) {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx)

	d.log.Info("queue drainer started", map[string]interface{}{
		"interval": d.interval.String(),
		"batch":    d.batch,
	})
}

// Stop stops the drainer and waits for the current pass to finish.
func (d *Drainer) Stop() {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("queue drainer stopped")
}

func (d *Drainer) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.log.Error("queue drain failed", err, nil)
			}
		}
	}
}

// Status is a snapshot of the drainer.
type Status struct {
	IsRunning bool       `json:"is_running"`
	Draining  bool       `json:"draining"`
	LastDrain *time.Time `json:"last_drain,omitempty"`
	Last      Report     `json:"last"`
}

// GetStatus returns the current status of the drainer.
func (d *Drainer) GetStatus() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{IsRunning: d.isRunning, Draining: d.draining, Last: d.last}
	if !d.lastDrain.IsZero() {
		t := d.lastDrain
		status.LastDrain = &t
	}
	return status
}

// IsRunning returns whether the drainer is running.
func (d *Drainer) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}
