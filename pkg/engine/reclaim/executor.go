// Package reclaim executes policy decisions against the cloud, in parallel,
// with per-candidate isolation: one failure never aborts the batch.
package reclaim

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/engine/guard"
	"github.com/cloudreap/cloudreap/pkg/engine/policy"
	"github.com/cloudreap/cloudreap/pkg/engine/swarm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Mode selects between simulation and destructive execution.
type Mode string

const (
	ModeDryRun Mode = "DRY_RUN"
	ModeLive   Mode = "LIVE"
)

// Outcome is the terminal state of one candidate's execution.
type Outcome string

const (
	OutcomeReclaimed Outcome = "RECLAIMED"
	OutcomeSimulated Outcome = "SIMULATED"
	OutcomeFailed    Outcome = "FAILED"
	// OutcomeAlreadyGone covers resources that vanished between discovery
	// and deletion. Counted as success, but never as savings.
	OutcomeAlreadyGone Outcome = "ALREADY_GONE"
)

// Result records what happened to one candidate.
type Result struct {
	Decision   policy.Decision
	Outcome    Outcome
	Savings    float64
	SnapshotID string
	Attempts   int
	Error      string
}

// BatchResult aggregates a full run.
type BatchResult struct {
	Results      []Result
	TotalSavings float64
	Counts       map[Outcome]int
}

// Executor drives reclamation for a batch of decisions.
type Executor struct {
	Guard  *guard.Guard
	Mode   Mode
	Retry  config.RetryConfig
	Pool   *swarm.Engine
	Logger *slog.Logger
}

func NewExecutor(g *guard.Guard, mode Mode, retry config.RetryConfig, pool *swarm.Engine, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Guard: g, Mode: mode, Retry: retry, Pool: pool, Logger: logger}
}

// RunBatch executes every eligible RECLAIM decision and returns the
// aggregated results. Sizing recommendations and excluded candidates pass
// through untouched; they are reported, not executed.
func (e *Executor) RunBatch(ctx context.Context, decisions []policy.Decision) BatchResult {
	tracer := otel.Tracer("cloudreap/reclaim")
	ctx, span := tracer.Start(ctx, "reclaim.RunBatch")
	defer span.End()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var results []Result

	for _, d := range decisions {
		if !d.Eligible || d.Action != policy.ActionReclaim {
			continue
		}

		d := d
		wg.Add(1)
		err := e.Pool.Submit(func(taskCtx context.Context) error {
			defer wg.Done()
			r := e.runOne(taskCtx, d)

			mu.Lock()
			results = append(results, r)
			mu.Unlock()

			if r.Outcome == OutcomeFailed {
				return errors.New(r.Error)
			}
			return nil
		})
		if err != nil {
			// Pool shut down mid-batch. The candidate is recorded as failed
			// so the join below still sees every decision.
			wg.Done()
			mu.Lock()
			results = append(results, Result{Decision: d, Outcome: OutcomeFailed, Error: err.Error()})
			mu.Unlock()
		}
	}

	wg.Wait()

	batch := BatchResult{Results: results, Counts: make(map[Outcome]int)}
	for _, r := range results {
		batch.Counts[r.Outcome]++
		batch.TotalSavings += r.Savings
	}

	span.SetAttributes(
		attribute.Int("reclaim.candidates", len(results)),
		attribute.Float64("reclaim.total_savings", batch.TotalSavings),
	)
	if batch.Counts[OutcomeFailed] > 0 {
		span.SetStatus(codes.Error, "batch completed with failures")
	}
	return batch
}

// runOne takes a single candidate through the safety protocol. Dry runs
// never touch the guard; there must be no way for simulation to mutate.
func (e *Executor) runOne(ctx context.Context, d policy.Decision) Result {
	c := d.Candidate

	// Cancellation is checked per candidate so a stopped run never starts
	// new destructive work.
	if err := ctx.Err(); err != nil {
		return Result{Decision: d, Outcome: OutcomeFailed, Error: err.Error()}
	}

	if e.Mode != ModeLive {
		e.Logger.Info("DRY RUN: would reclaim",
			"id", c.ID, "kind", c.Kind, "savings", d.EstimatedMonthlyCost)
		return Result{Decision: d, Outcome: OutcomeSimulated, Savings: d.EstimatedMonthlyCost, Attempts: 0}
	}

	// The handle survives across retry attempts: a transient delete failure
	// retries only the delete, never a second safety snapshot.
	var snapshotID string
	var h *guard.Handle
	attempts, err := withRetry(ctx, e.Retry, func() error {
		if h == nil {
			acquired, err := e.Guard.Acquire(ctx, c)
			if err != nil {
				return err
			}
			h = acquired
			snapshotID = h.SnapshotID
		}
		return e.Guard.Release(ctx, h)
	})

	switch {
	case err == nil:
		e.Logger.Info("Reclaimed resource",
			"id", c.ID, "kind", c.Kind, "savings", d.EstimatedMonthlyCost, "attempts", attempts)
		return Result{
			Decision: d, Outcome: OutcomeReclaimed,
			Savings: d.EstimatedMonthlyCost, SnapshotID: snapshotID, Attempts: attempts,
		}
	case errors.Is(err, guard.ErrAlreadyGone):
		return Result{Decision: d, Outcome: OutcomeAlreadyGone, Attempts: attempts}
	default:
		e.Logger.Error("Reclamation failed",
			"id", c.ID, "kind", c.Kind, "attempts", attempts, "error", err)
		return Result{Decision: d, Outcome: OutcomeFailed, Attempts: attempts, Error: err.Error()}
	}
}
