package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"mtd-vat-service/internal/config"
	"mtd-vat-service/internal/coordinator"
	"mtd-vat-service/internal/models"
	"mtd-vat-service/internal/queue"
	"mtd-vat-service/internal/store"
	"mtd-vat-service/internal/telemetry"
)

// ReceiptArchiver receives the encoded outcome of a completed VAT submission.
// Archival is best-effort; implementations log their own failures.
type ReceiptArchiver interface {
	Archive(ctx context.Context, rc models.RequestContext, receipt []byte)
}

// Executor consumes dispatched jobs, runs the domain operation, and writes
// the terminal record. Redelivery of a job whose record holds a decided
// outcome is acked without re-running the operation; a record failed with
// internal_error marks an undecided attempt, so the redelivery runs again.
type Executor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	store    store.Store
	terminal *store.BestEffort
	registry *coordinator.Registry
	archiver ReceiptArchiver
	log      *zap.Logger
}

func NewExecutor(cfg config.Config, q *queue.RedisQueue, st store.Store, reg *coordinator.Registry, log *zap.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		terminal: store.NewBestEffort(st, log),
		registry: reg,
		log:      log,
	}
}

// SetArchiver attaches an optional receipt archiver.
func (e *Executor) SetArchiver(a ReceiptArchiver) {
	e.archiver = a
}

// Run drives the consume loop until context cancellation.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = e.queue.PromoteDue(ctx, time.Now(), 100)
		if reclaimed, _ := e.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			e.log.Warn("requeued expired leases", zap.Int("count", len(reclaimed)))
		}
		if depth, err := e.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		d, err := e.queue.Lease(ctx)
		if err != nil {
			e.log.Warn("lease failed", zap.Error(err))
			sleep(ctx, e.cfg.WorkerPollInterval)
			continue
		}
		if d == nil {
			sleep(ctx, e.cfg.WorkerPollInterval)
			continue
		}

		telemetry.InFlightGauge.Inc()
		e.processDelivery(ctx, d)
		telemetry.InFlightGauge.Dec()
	}
}

// processDelivery handles exactly one leased delivery.
func (e *Executor) processDelivery(ctx context.Context, d *queue.Delivery) {
	rc := d.Payload.Context()
	log := e.log.With(rc.Fields()...)
	log = log.With(zap.String("operation", d.Payload.Operation), zap.Int("delivery", d.Delivery))

	rec, err := e.store.Get(ctx, rc.UserKey, rc.RequestID)
	if err != nil {
		log.Warn("record lookup failed, redelivering", zap.Error(err))
		e.nack(ctx, d, log)
		return
	}
	if rec != nil && rec.Status.Terminal() && decidedOutcome(rec) {
		// Duplicate delivery; the decided outcome already exists.
		telemetry.WorkerDuplicate.Inc()
		if err := e.queue.Ack(ctx, d); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	e.terminal.Put(ctx, rc, models.StatusProcessing, nil)

	proc, ok := e.registry.Lookup(d.Payload.Operation)
	if !ok {
		log.Error("no processor registered for operation")
		data, _ := models.EncodeOutcome(models.InternalError())
		e.terminal.Put(ctx, rc, models.StatusFailed, data)
		e.nack(ctx, d, log)
		return
	}

	outcome, err := proc(ctx, rc, d.Payload.Args)
	if err != nil {
		// Unknown fate: persist a failed record so reattachments see a
		// consistent answer, then let the transport decide on another attempt.
		log.Error("processor failed", zap.Error(err))
		data, _ := models.EncodeOutcome(models.InternalError())
		e.terminal.Put(ctx, rc, models.StatusFailed, data)
		telemetry.WorkerFailure.Inc()
		e.nack(ctx, d, log)
		return
	}

	data, encErr := models.EncodeOutcome(outcome)
	if encErr != nil {
		log.Error("encode outcome", zap.Error(encErr))
		data, _ = models.EncodeOutcome(models.InternalError())
		outcome = models.InternalError()
	}
	e.terminal.Put(ctx, rc, outcome.RecordStatus(), data)

	if outcome.Status == models.OutcomeSubmitted && e.archiver != nil {
		e.archiver.Archive(ctx, rc, data)
	}

	if outcome.Failure() {
		telemetry.WorkerFailure.Inc()
	} else {
		telemetry.WorkerSuccess.Inc()
	}
	// Decided outcomes, including domain failures, are never redelivered.
	if err := e.queue.Ack(ctx, d); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

// decidedOutcome reports whether a terminal record carries a decided domain
// result. Completed records always do; a failed record counts only when its
// data decodes to a tag other than internal_error, which is written when an
// attempt ends with its fate unknown and the job is still eligible to run.
func decidedOutcome(rec *models.AsyncRequestRecord) bool {
	if rec.Status == models.StatusCompleted {
		return true
	}
	outcome, err := models.DecodeOutcome(rec.Data)
	if err != nil {
		return false
	}
	return outcome.Status != models.OutcomeInternalError
}

func (e *Executor) nack(ctx context.Context, d *queue.Delivery, log *zap.Logger) {
	delay := backoffWithJitter(e.cfg.RetryBackoffBase, e.cfg.RetryBackoffMax, d.Delivery)
	dead, err := e.queue.Nack(ctx, d, delay)
	if err != nil {
		log.Warn("nack failed", zap.Error(err))
		return
	}
	if dead {
		telemetry.WorkerDeadLetter.Inc()
		log.Error("job dead-lettered")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
