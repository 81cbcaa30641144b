// Package outbox drains graph events from the relational store into
// the graph store. The drainer is the only writer the graph has: the
// ingest path enqueues events transactionally and this loop replays
// them, so the two stores converge even after a graph outage.
package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/store"
)

const (
	// PollInterval is the idle wait between drain batches.
	PollInterval = 2 * time.Second
	// BatchSize caps the rows read per drain pass.
	BatchSize = 50

	connectAttempts  = 10
	maxConnectWait   = 30 * time.Second
	breakerThreshold = 5
	breakerPause     = 60 * time.Second
)

// ErrGraphUnavailable means the graph store never answered during the
// startup connect window. The process should exit and let the
// supervisor retry.
var ErrGraphUnavailable = errors.New("outbox: graph store unreachable")

// EventSource is the slice of the relational store the drainer needs.
type EventSource interface {
	PendingOutbox(ctx context.Context, limit int) ([]store.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id int64) error
	ReopenOutbox(ctx context.Context, id int64, applyErr error) error
	FailOutbox(ctx context.Context, id int64, reason string) error
}

// EventApplier executes one event against the graph store.
type EventApplier interface {
	Apply(ctx context.Context, eventType string, payload []byte) error
	Ping(ctx context.Context) error
}

// RefreshFunc is notified after every applied event so the note mirror
// can rewrite affected files. It must not block for long and its
// failures are its own.
type RefreshFunc func(ctx context.Context, eventType string, payload []byte)

// Drainer replays outbox rows against the graph store in FIFO order.
type Drainer struct {
	source  EventSource
	applier EventApplier
	refresh RefreshFunc
	logger  *zap.Logger
	poll    time.Duration

	consecutiveFailures int
}

// NewDrainer wires a drainer. refresh may be nil.
func NewDrainer(source EventSource, applier EventApplier, refresh RefreshFunc, logger *zap.Logger) *Drainer {
	return &Drainer{
		source:  source,
		applier: applier,
		refresh: refresh,
		logger:  logger,
		poll:    PollInterval,
	}
}

// WaitForGraph blocks until the graph store answers a ping, backing
// off exponentially between attempts. Returns ErrGraphUnavailable once
// the attempt budget is spent.
func (d *Drainer) WaitForGraph(ctx context.Context) error {
	backoff := time.Second
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		err := d.applier.Ping(ctx)
		if err == nil {
			d.logger.Info("graph store connected", zap.Int("attempt", attempt))
			return nil
		}
		d.logger.Warn("graph store not ready",
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxConnectWait {
			backoff *= 2
		}
	}
	return ErrGraphUnavailable
}

// Run drains until the context is cancelled. Batches with five or more
// consecutive apply failures open a breaker that pauses the loop for a
// minute before retrying.
func (d *Drainer) Run(ctx context.Context) error {
	d.logger.Info("outbox drainer started",
		zap.Duration("poll", d.poll),
		zap.Int("batch", BatchSize))

	for {
		if err := d.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox drain pass failed", zap.Error(err))
		}

		wait := d.poll
		if d.consecutiveFailures >= breakerThreshold {
			d.logger.Warn("graph apply breaker open",
				zap.Int("consecutive_failures", d.consecutiveFailures),
				zap.Duration("pause", breakerPause))
			d.consecutiveFailures = 0
			wait = breakerPause
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// DrainOnce reads one batch and applies it. Rows are stamped processed
// before the graph write: replaying an already-applied MERGE is
// harmless, silently dropping an unapplied event is not. A failed apply
// reopens the row with the attempt still counted, so exhaustion
// eventually dead-letters it.
func (d *Drainer) DrainOnce(ctx context.Context) error {
	events, err := d.source.PendingOutbox(ctx, BatchSize)
	if err != nil {
		return err
	}

	for _, e := range events {
		if d.consecutiveFailures >= breakerThreshold {
			return nil
		}

		if e.Attempts >= store.OutboxMaxAttempts {
			if err := d.source.FailOutbox(ctx, e.ID, "max attempts exceeded"); err != nil {
				d.logger.Error("dead-lettering outbox row failed",
					zap.Int64("id", e.ID), zap.Error(err))
			} else {
				d.logger.Warn("outbox event dead-lettered",
					zap.Int64("id", e.ID),
					zap.String("event_type", e.EventType),
					zap.Int("attempts", e.Attempts))
			}
			continue
		}

		if err := d.source.MarkOutboxProcessed(ctx, e.ID); err != nil {
			d.logger.Error("marking outbox row failed",
				zap.Int64("id", e.ID), zap.Error(err))
			continue
		}

		if err := d.applier.Apply(ctx, e.EventType, e.Payload); err != nil {
			d.consecutiveFailures++
			d.logger.Error("outbox event apply failed",
				zap.Int64("id", e.ID),
				zap.String("event_type", e.EventType),
				zap.Error(err))
			if rerr := d.source.ReopenOutbox(ctx, e.ID, err); rerr != nil {
				d.logger.Error("reopening outbox row failed",
					zap.Int64("id", e.ID), zap.Error(rerr))
			}
			continue
		}

		d.consecutiveFailures = 0
		if d.refresh != nil {
			d.refresh(ctx, e.EventType, e.Payload)
		}
	}
	return nil
}
