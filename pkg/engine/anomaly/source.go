package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudreap/cloudreap/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// ErrQueryTimeout marks a backend query that never completed. The detector
// is skipped, never failed, so one slow backend cannot sink the run.
var ErrQueryTimeout = errors.New("query timed out")

// JobHandle tracks an asynchronous backend query.
type JobHandle interface {
	// Poll reports completion. Observations are only valid once done.
	Poll(ctx context.Context) (done bool, obs []Observation, err error)
}

// Source submits queries to a metric or log backend.
type Source interface {
	Name() string
	Query(ctx context.Context) (JobHandle, error)
}

// Await polls a handle until completion or timeout.
func Await(ctx context.Context, h JobHandle, q config.QueryConfig) ([]Observation, error) {
	deadline := time.Now().Add(q.Timeout)
	ticker := time.NewTicker(q.PollInterval)
	defer ticker.Stop()

	for {
		done, obs, err := h.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return obs, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrQueryTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Detector pairs a source with its detection config.
type Detector struct {
	Source Source
	Config Config
}

// Skipped records a detector that produced no verdict.
type Skipped struct {
	Detector string `json:"detector"`
	Reason   string `json:"reason"`
}

// Findings aggregates a detection pass.
type Findings struct {
	Anomalies []Anomaly `json:"anomalies"`
	Skipped   []Skipped `json:"skipped,omitempty"`
}

// Run executes every detector sequentially. Query failures and timeouts
// demote the detector to the skipped list; detection itself cannot fail.
func Run(ctx context.Context, detectors []Detector, q config.QueryConfig, logger *slog.Logger) Findings {
	if logger == nil {
		logger = slog.Default()
	}
	tracer := otel.Tracer("cloudreap/anomaly")
	ctx, span := tracer.Start(ctx, "anomaly.Run")
	defer span.End()

	var f Findings
	for _, d := range detectors {
		name := d.Config.Name

		h, err := d.Source.Query(ctx)
		if err != nil {
			logger.Warn("Detector query failed", "detector", name, "error", err)
			f.Skipped = append(f.Skipped, Skipped{Detector: name, Reason: fmt.Sprintf("query failed: %v", err)})
			continue
		}

		obs, err := Await(ctx, h, q)
		if err != nil {
			if errors.Is(err, ErrQueryTimeout) {
				logger.Warn("Detector query timed out", "detector", name, "timeout", q.Timeout)
				f.Skipped = append(f.Skipped, Skipped{Detector: name, Reason: "query timed out"})
				continue
			}
			logger.Warn("Detector poll failed", "detector", name, "error", err)
			f.Skipped = append(f.Skipped, Skipped{Detector: name, Reason: fmt.Sprintf("poll failed: %v", err)})
			continue
		}

		found := Detect(d.Config, obs)
		logger.Info("Detector finished", "detector", name, "observations", len(obs), "anomalies", len(found))
		f.Anomalies = append(f.Anomalies, found...)
	}

	if len(f.Skipped) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d detectors skipped", len(f.Skipped)))
	}
	return f
}
