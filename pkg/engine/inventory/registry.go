// Package inventory discovers reclamation candidates across registered
// sources. A failing source marks the run partial instead of aborting it.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cloudreap/cloudreap/pkg/engine/swarm"
	"github.com/cloudreap/cloudreap/pkg/resource"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Source lists candidates of one kind from one backend.
type Source interface {
	Name() string
	Kind() resource.Kind
	List(ctx context.Context) ([]resource.Candidate, error)
}

// ScopeError records a source that could not be listed.
type ScopeError struct {
	Scope string `json:"scope"`
	Error string `json:"error"`
}

// Inventory is the aggregated discovery result.
type Inventory struct {
	Candidates []resource.Candidate
	// Partial is true when at least one source failed. The candidates
	// from healthy sources are still valid.
	Partial bool
	Failed  []ScopeError
}

// Registry manages a collection of sources.
type Registry struct {
	sources []Source
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) {
	r.sources = append(r.sources, s)
}

// ListAll runs every source on the worker pool and merges the results.
func (r *Registry) ListAll(ctx context.Context, pool *swarm.Engine, region string) Inventory {
	tr := otel.Tracer("cloudreap/inventory")
	ctx, span := tr.Start(ctx, "inventory.ListAll")
	defer span.End()

	var mu sync.Mutex
	var wg sync.WaitGroup
	inv := Inventory{}

	for _, s := range r.sources {
		source := s
		wg.Add(1)
		err := pool.Submit(func(taskCtx context.Context) error {
			defer wg.Done()
			candidates, err := r.listOne(taskCtx, source, region)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				inv.Partial = true
				scope := fmt.Sprintf("%s [%s]", region, source.Name())
				inv.Failed = append(inv.Failed, ScopeError{Scope: scope, Error: err.Error()})
				return err
			}
			inv.Candidates = append(inv.Candidates, candidates...)
			return nil
		})
		if err != nil {
			// Pool shut down before the source could run; record it as a
			// failed scope so the run is marked partial instead of hanging.
			wg.Done()
			mu.Lock()
			scope := fmt.Sprintf("%s [%s]", region, source.Name())
			inv.Partial = true
			inv.Failed = append(inv.Failed, ScopeError{Scope: scope, Error: err.Error()})
			mu.Unlock()
		}
	}
	wg.Wait()

	// Deterministic order regardless of source completion timing.
	sort.Slice(inv.Candidates, func(i, j int) bool {
		if inv.Candidates[i].Kind != inv.Candidates[j].Kind {
			return inv.Candidates[i].Kind < inv.Candidates[j].Kind
		}
		return inv.Candidates[i].ID < inv.Candidates[j].ID
	})
	sort.Slice(inv.Failed, func(i, j int) bool {
		return inv.Failed[i].Scope < inv.Failed[j].Scope
	})

	span.SetAttributes(
		attribute.Int("inventory.candidates", len(inv.Candidates)),
		attribute.Int("inventory.failed_scopes", len(inv.Failed)),
	)
	if inv.Partial {
		span.SetStatus(codes.Error, "inventory incomplete")
	}
	return inv
}

func (r *Registry) listOne(ctx context.Context, s Source, region string) ([]resource.Candidate, error) {
	tr := otel.Tracer("cloudreap/inventory")
	ctx, span := tr.Start(ctx, s.Name(), trace.WithAttributes(
		attribute.String("provider", "aws"),
		attribute.String("region", region),
		attribute.String("resource.kind", string(s.Kind())),
	))
	defer span.End()

	r.logger.Debug("Starting source", "name", s.Name())
	candidates, err := s.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Source encountered error", "name", s.Name(), "error", err)
		return nil, err
	}
	r.logger.Debug("Source completed", "name", s.Name(), "candidates", len(candidates))
	return candidates, nil
}
