package calls

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DispatcherConfig bounds a batch.
type DispatcherConfig struct {
	// MaxBatchSize rejects oversized batches as a whole before any session
	// is created.
	MaxBatchSize int

	// MaxConcurrent is only used when no explicit limiter is supplied.
	MaxConcurrent int

	// BatchTimeout bounds how long Dispatch waits for results. Sessions
	// still running at the deadline are reported failed with a timeout
	// error but keep running in the background; their late results are
	// dropped from this batch's response.
	BatchTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	out := c
	if out.MaxBatchSize <= 0 {
		out.MaxBatchSize = 50
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 10
	}
	if out.BatchTimeout <= 0 {
		out.BatchTimeout = 10 * time.Minute
	}
	return out
}

// Dispatcher fans a batch of call requests out into independent sessions
// under a bounded-concurrency pool and aggregates their terminal outcomes.
//
// One session's failure never aborts its siblings; Dispatch always returns
// a complete, order-preserving result list.
type Dispatcher struct {
	cfg      DispatcherConfig
	limiter  SlotLimiter
	registry *Registry
	deps     SessionDeps
	log      *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig, limiter SlotLimiter, registry *Registry, deps SessionDeps, log *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	if limiter == nil {
		limiter = NewSemaphoreLimiter(cfg.MaxConcurrent)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{cfg: cfg, limiter: limiter, registry: registry, deps: deps, log: log}
}

// Dispatch runs one batch. It returns once every session reached a terminal
// state or the batch deadline elapsed. The returned BulkResult has exactly
// one entry per request, in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []CallRequest) (BulkResult, error) {
	if len(reqs) == 0 {
		return BulkResult{}, ErrEmptyBatch
	}
	if len(reqs) > d.cfg.MaxBatchSize {
		return BulkResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), d.cfg.MaxBatchSize)
	}

	batchCtx, cancel := context.WithTimeout(ctx, d.cfg.BatchTimeout)
	defer cancel()
	// Sessions outlive the batch deadline on purpose: the deadline cancels
	// waiting, never a live phone call.
	sessionCtx := context.WithoutCancel(ctx)

	done := make([]chan BulkEntry, len(reqs))
	ids := make([]chan string, len(reqs))
	for i, req := range reqs {
		done[i] = make(chan BulkEntry, 1)
		ids[i] = make(chan string, 1)
		go d.runOne(batchCtx, sessionCtx, req, ids[i], done[i])
	}

	out := BulkResult{Entries: make([]BulkEntry, len(reqs))}
	for i, req := range reqs {
		select {
		case e := <-done[i]:
			out.Entries[i] = e
		case <-batchCtx.Done():
			e := BulkEntry{
				BorrowerID: req.BorrowerID,
				Success:    false,
				Error:      "batch deadline elapsed before the call finished",
			}
			select {
			case e.CallID = <-ids[i]:
			default:
			}
			out.Entries[i] = e
		}
	}
	return out, nil
}

// DispatchOne is the single-call convenience used by the API layer.
func (d *Dispatcher) DispatchOne(ctx context.Context, req CallRequest) (BulkEntry, error) {
	res, err := d.Dispatch(ctx, []CallRequest{req})
	if err != nil {
		return BulkEntry{}, err
	}
	return res.Entries[0], nil
}

// runOne takes a slot, creates and runs one session to its terminal state,
// and publishes the entry. queueCtx (batch-scoped) bounds queueing only;
// the session itself runs under sessionCtx.
func (d *Dispatcher) runOne(queueCtx, sessionCtx context.Context, req CallRequest, idCh chan<- string, out chan<- BulkEntry) {
	fail := func(err error) {
		out <- BulkEntry{BorrowerID: req.BorrowerID, Success: false, Error: err.Error()}
	}

	if err := req.Validate(d.deps.Languages); err != nil {
		fail(err)
		return
	}

	release, err := d.limiter.Acquire(queueCtx)
	if err != nil {
		fail(fmt.Errorf("batch deadline elapsed before the call started: %w", err))
		return
	}
	defer release()

	s, err := NewSession(req, d.deps)
	if err != nil {
		fail(err)
		return
	}
	idCh <- s.ID()
	if d.registry != nil {
		d.registry.Insert(s)
	}

	s.Run(sessionCtx, func(providerCallID string) {
		if d.registry != nil {
			d.registry.BindProvider(providerCallID, s.ID())
		}
	})

	st := s.State()
	e := BulkEntry{
		BorrowerID: req.BorrowerID,
		CallID:     s.ID(),
		State:      st,
		Success:    st == StateAnalyzed || st == StateCompleted,
		Analysis:   s.AnalysisResult(),
	}
	if err := s.LastError(); err != nil && !e.Success {
		e.Error = err.Error()
	}
	out <- e
}
