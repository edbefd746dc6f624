package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mtd-vat-service/internal/models"
	"mtd-vat-service/internal/queue"
	"mtd-vat-service/internal/store"
	"mtd-vat-service/internal/telemetry"
)

// Request is one incoming logical operation attempt.
type Request struct {
	Context   models.RequestContext
	Operation string
	Args      json.RawMessage

	// WaitTime is the client-requested synchronous budget. Zero means
	// fire-and-forget: the call never blocks on execution.
	WaitTime time.Duration

	// FirstAttempt distinguishes a fresh submission from a reattachment poll.
	FirstAttempt bool
}

// Result is the coordinator's answer: either a pending signal carrying the
// request id, or a terminal outcome.
type Result struct {
	Pending   bool
	RequestID string
	Outcome   models.Outcome
}

// Coordinator is the single entry point for every mutating request. It decides
// between idempotent reattachment, inline execution, and queue dispatch, and
// is the only writer of the pending claim.
type Coordinator struct {
	store        store.Store
	terminal     *store.BestEffort
	dispatcher   queue.Dispatcher
	registry     *Registry
	inline       bool
	maxWait      time.Duration
	pollInterval time.Duration
	log          *zap.Logger
}

// Options collects construction knobs.
type Options struct {
	// Inline makes the coordinator run processors in-process up to the wait
	// budget; otherwise it dispatches and polls the store for the worker's
	// terminal write.
	Inline       bool
	MaxWait      time.Duration
	PollInterval time.Duration
}

func New(st store.Store, d queue.Dispatcher, reg *Registry, opts Options, log *zap.Logger) *Coordinator {
	if opts.MaxWait <= 0 {
		opts.MaxWait = 25 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	return &Coordinator{
		store:        st,
		terminal:     store.NewBestEffort(st, log),
		dispatcher:   d,
		registry:     reg,
		inline:       opts.Inline,
		maxWait:      opts.MaxWait,
		pollInterval: opts.PollInterval,
		log:          log,
	}
}

// Handle coordinates one request. Errors are infrastructure failures on the
// synchronous path (store or transport unavailable); decided domain results
// always come back as outcomes inside the Result.
func (c *Coordinator) Handle(ctx context.Context, req Request) (Result, error) {
	log := c.log.With(req.Context.Fields()...)

	if !req.FirstAttempt {
		rec, err := c.store.Get(ctx, req.Context.UserKey, req.Context.RequestID)
		if err != nil {
			return Result{}, fmt.Errorf("lookup async request: %w", err)
		}
		if rec != nil {
			telemetry.Reattachments.Inc()
			return c.resultFromRecord(req.Context, rec, log), nil
		}
		// Record absent (expired or never claimed): fall through and treat
		// this as a first attempt so the client is not stranded.
		log.Info("reattachment found no record, treating as first attempt")
	}

	// The pending claim is the one store write that must not fail silently.
	if err := c.store.Put(ctx, req.Context.UserKey, req.Context.RequestID, models.StatusPending, nil); err != nil {
		return Result{}, fmt.Errorf("claim pending record: %w", err)
	}

	budget := req.WaitTime
	if budget > c.maxWait {
		budget = c.maxWait
	}

	if c.inline {
		return c.runInline(ctx, req, budget, log)
	}
	return c.dispatchAndWait(ctx, req, budget, log)
}

type inlineResult struct {
	outcome models.Outcome
}

// runInline executes the processor in-process. If the budget elapses first,
// the caller gets a pending signal while the execution keeps running in the
// background and persists its own terminal record; the job is not also
// dispatched, so the side effect runs once.
func (c *Coordinator) runInline(ctx context.Context, req Request, budget time.Duration, log *zap.Logger) (Result, error) {
	proc, ok := c.registry.Lookup(req.Operation)
	if !ok {
		// Fail the claimed record; leaving it pending would have
		// reattachments polling until the TTL ran out.
		data, _ := models.EncodeOutcome(models.InternalError())
		c.terminal.Put(ctx, req.Context, models.StatusFailed, data)
		return Result{}, fmt.Errorf("no processor registered for operation %q", req.Operation)
	}

	done := make(chan inlineResult, 1)
	// The execution must outlive the HTTP request that started it.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		outcome, err := proc(bgCtx, req.Context, req.Args)
		if err != nil {
			log.Error("inline processor failed", zap.Error(err))
			outcome = models.InternalError()
		}
		data, encErr := models.EncodeOutcome(outcome)
		if encErr != nil {
			log.Error("encode inline outcome", zap.Error(encErr))
			outcome = models.InternalError()
			data, _ = models.EncodeOutcome(outcome)
		}
		c.terminal.Put(bgCtx, req.Context, outcome.RecordStatus(), data)
		done <- inlineResult{outcome: outcome}
	}()

	if budget <= 0 {
		telemetry.PendingReturned.Inc()
		return pendingResult(req.Context), nil
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case r := <-done:
		telemetry.InlineCompleted.Inc()
		return Result{RequestID: req.Context.RequestID, Outcome: r.outcome}, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	telemetry.PendingReturned.Inc()
	return pendingResult(req.Context), nil
}

// dispatchAndWait hands the job to the transport and, when the client asked
// for a synchronous window, polls the store for the worker's terminal write.
func (c *Coordinator) dispatchAndWait(ctx context.Context, req Request, budget time.Duration, log *zap.Logger) (Result, error) {
	payload := models.JobPayload{
		UserKey:       req.Context.UserKey,
		RequestID:     req.Context.RequestID,
		TraceID:       req.Context.TraceID,
		CorrelationID: req.Context.CorrelationID,
		Operation:     req.Operation,
		Args:          req.Args,
	}
	if err := c.dispatcher.Dispatch(ctx, payload); err != nil {
		return Result{}, fmt.Errorf("dispatch job: %w", err)
	}
	telemetry.Dispatched.Inc()

	if budget <= 0 {
		telemetry.PendingReturned.Inc()
		return pendingResult(req.Context), nil
	}

	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	tick := time.NewTicker(c.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			telemetry.PendingReturned.Inc()
			return pendingResult(req.Context), nil
		case <-deadline.C:
			telemetry.PendingReturned.Inc()
			return pendingResult(req.Context), nil
		case <-tick.C:
			rec, err := c.store.Get(ctx, req.Context.UserKey, req.Context.RequestID)
			if err != nil {
				// Transient read failure while waiting; the record is the
				// worker's to write, keep polling inside the budget.
				log.Warn("store poll failed", zap.Error(err))
				continue
			}
			if rec != nil && rec.Status.Terminal() {
				return c.resultFromRecord(req.Context, rec, log), nil
			}
		}
	}
}

func (c *Coordinator) resultFromRecord(rc models.RequestContext, rec *models.AsyncRequestRecord, log *zap.Logger) Result {
	if !rec.Status.Terminal() {
		return pendingResult(rc)
	}
	outcome, err := models.DecodeOutcome(rec.Data)
	if err != nil {
		log.Error("terminal record has undecodable data", zap.Error(err))
		outcome = models.InternalError()
	}
	return Result{RequestID: rc.RequestID, Outcome: outcome}
}

func pendingResult(rc models.RequestContext) Result {
	return Result{Pending: true, RequestID: rc.RequestID}
}
