// Package engine wires discovery, policy evaluation, safe reclamation,
// anomaly detection, and reporting into a single run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/cloudreap/cloudreap/pkg/audit"
	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
	"github.com/cloudreap/cloudreap/pkg/engine/aws"
	"github.com/cloudreap/cloudreap/pkg/engine/guard"
	"github.com/cloudreap/cloudreap/pkg/engine/history"
	"github.com/cloudreap/cloudreap/pkg/engine/inventory"
	"github.com/cloudreap/cloudreap/pkg/engine/notifier"
	"github.com/cloudreap/cloudreap/pkg/engine/policy"
	"github.com/cloudreap/cloudreap/pkg/engine/pricing"
	"github.com/cloudreap/cloudreap/pkg/engine/reclaim"
	"github.com/cloudreap/cloudreap/pkg/engine/report"
	"github.com/cloudreap/cloudreap/pkg/engine/swarm"
	"github.com/cloudreap/cloudreap/pkg/storage"
	"github.com/cloudreap/cloudreap/pkg/telemetry"
	"github.com/cloudreap/cloudreap/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPartialResult indicates the run completed but some scopes or
// detectors were skipped.
var ErrPartialResult = errors.New("run completed with partial results")

// Engine is the runtime core.
type Engine struct {
	Pool   *swarm.Engine
	Logger *slog.Logger
	Tracer trace.Tracer

	runCfg config.RunConfig
	policy config.Policy

	Notifier *notifier.SlackClient
	Audit    *audit.Trail

	shutdownTelemetry func(context.Context) error
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New initializes the Engine with safe defaults: dry-run mode, structured
// logs with credential redaction, discard telemetry.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		Pool:   swarm.NewEngine(),
		Tracer: otel.Tracer("cloudreap/engine"),
		runCfg: config.DefaultRunConfig(),
		policy: config.DefaultPolicy(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.Logger == nil {
		level := slog.LevelInfo
		if e.runCfg.Verbose {
			level = slog.LevelDebug
		}
		hopts := &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redactSensitiveData,
		}
		var handler slog.Handler = slog.NewJSONHandler(os.Stdout, hopts)
		if !e.runCfg.JsonLogs {
			handler = slog.NewTextHandler(os.Stderr, hopts)
		}
		e.Logger = slog.New(handler)
	}
	slog.SetDefault(e.Logger)

	if err := e.runCfg.Validate(); err != nil {
		return nil, err
	}
	if err := e.policy.Validate(); err != nil {
		return nil, err
	}

	if !e.runCfg.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, e.runCfg.OtelEndpoint)
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdownTelemetry = shutdown
		}
	}

	if e.runCfg.AuditLog != "" {
		e.Audit = audit.NewTrail(e.runCfg.AuditLog)
	}
	if e.runCfg.SlackWebhook != "" {
		e.Notifier = notifier.NewSlackClient(e.runCfg.SlackWebhook, e.runCfg.SlackChannel)
	}

	return e, nil
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.Logger = l
	}
}

// WithRunConfig sets the execution surface.
func WithRunConfig(cfg config.RunConfig) Option {
	return func(e *Engine) {
		e.runCfg = cfg
		if cfg.MaxConcurrency > 0 {
			e.Pool.MaxWorkers = cfg.MaxConcurrency
		}
	}
}

// WithPolicy sets the reclamation policy.
func WithPolicy(p config.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// Run executes one full cycle: discover, evaluate, reclaim, detect,
// report. The report is returned even on partial failure.
func (e *Engine) Run(ctx context.Context) (report.Report, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Run")
	defer span.End()
	defer e.recoverPanic(ctx)
	if e.shutdownTelemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = e.shutdownTelemetry(shutdownCtx)
		}()
	}

	mode := reclaim.ModeDryRun
	if e.runCfg.Live {
		mode = reclaim.ModeLive
	}
	e.Logger.Info("Starting engine",
		"version", version.Current, "mode", mode,
		"region", e.runCfg.Region, "concurrency", e.Pool.MaxWorkers)

	e.Pool.Throttled = reclaim.IsThrottle
	e.Pool.Start(ctx)
	defer e.Pool.Stop()

	awsClient, err := aws.NewClient(ctx, e.runCfg.Region, "")
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to create AWS client: %w", err)
	}

	// Identity verification is mandatory before destructive calls and
	// best-effort otherwise.
	account, err := awsClient.VerifyIdentity(ctx)
	if err != nil {
		if mode == reclaim.ModeLive {
			return report.Report{}, fmt.Errorf("refusing live run without verified identity: %w", err)
		}
		e.Logger.Warn("Identity verification failed, continuing dry run", "error", err)
	} else {
		e.Logger.Info("Connected to AWS", "account", account, "region", e.runCfg.Region)
	}

	store, err := e.openStore(awsClient)
	if err != nil {
		return report.Report{}, err
	}

	// Discovery.
	metrics := aws.NewMetricsClient(awsClient.Config)
	registry := inventory.NewRegistry(e.Logger)
	registry.Register(aws.NewVolumeSource(awsClient.Config))
	registry.Register(aws.NewAddressSource(awsClient.Config))
	registry.Register(aws.NewSnapshotSource(awsClient.Config))
	registry.Register(aws.NewInstanceSource(awsClient.Config, metrics, e.policy.Utilization.LookbackDays))

	inv := registry.ListAll(ctx, e.Pool, e.runCfg.Region)
	e.Logger.Info("Discovery finished",
		"candidates", len(inv.Candidates), "partial", inv.Partial)

	// Evaluation.
	if e.runCfg.CalibrateRates {
		// The Pricing API only lives in us-east-1.
		pcfg := awsClient.Config.Copy()
		pcfg.Region = "us-east-1"
		pricing.NewClient(pcfg, e.Logger, "").Calibrate(ctx, &e.policy, e.runCfg.Region)
	}
	rules, err := policy.LoadRules(e.runCfg.RulesFile)
	if err != nil {
		return report.Report{}, fmt.Errorf("failed to load rules: %w", err)
	}
	evaluator, err := policy.NewEvaluator(e.policy, rules, e.Logger)
	if err != nil {
		return report.Report{}, err
	}
	decisions := make([]policy.Decision, 0, len(inv.Candidates))
	for _, c := range inv.Candidates {
		decisions = append(decisions, evaluator.Evaluate(c))
	}

	// Reclamation.
	deleter := aws.NewDeleter(awsClient.Config)
	g := guard.New(deleter, deleter, store, e.Logger)
	executor := reclaim.NewExecutor(g, mode, e.runCfg.Retry, e.Pool, e.Logger)
	batch := executor.RunBatch(ctx, decisions)
	e.recordAudit(account, batch)

	// Detection.
	findings := anomaly.Run(ctx, e.buildDetectors(awsClient, store), e.runCfg.Query, e.Logger)

	rep := report.Build(mode, e.runCfg.Region, account, inv, decisions, batch, findings, e.policy)
	if len(findings.Skipped) > 0 {
		rep.Partial = true
	}
	if e.runCfg.FlowLogGroup != "" {
		rep.RejectedTraffic = e.collectRejections(ctx, awsClient)
	}

	if err := e.writeArtifacts(rep); err != nil {
		e.Logger.Error("Failed to write report artifacts", "error", err)
	}
	e.appendHistory(ctx, store, rep, report.ResourceCounts(inv.Candidates))

	if e.Notifier != nil {
		if err := e.Notifier.SendRunReport(ctx, rep); err != nil {
			e.Logger.Warn("Slack notification failed", "error", err)
		}
	}

	span.SetAttributes(
		attribute.Float64("run.total_savings", rep.TotalSavings),
		attribute.Int("run.anomalies", len(rep.Anomalies)),
		attribute.Bool("run.partial", rep.Partial),
	)

	if rep.Partial {
		span.SetStatus(codes.Error, "partial results")
		if e.runCfg.StrictMode {
			e.Logger.Error("Strict mode: failing due to partial results")
			return rep, ErrPartialResult
		}
		e.Logger.Warn("Run finished with partial results")
	}
	return rep, nil
}

func (e *Engine) openStore(awsClient *aws.Client) (storage.BlobStore, error) {
	target := e.runCfg.HistoryURL
	if target == "" {
		target = ".cloudreap"
	}
	store, err := storage.Open(target, awsClient.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return store, nil
}

func (e *Engine) buildDetectors(awsClient *aws.Client, store storage.BlobStore) []anomaly.Detector {
	a := e.policy.Anomaly

	detectors := []anomaly.Detector{
		{
			Source: aws.NewSpendSource(awsClient.Config, e.policy.Utilization.LookbackDays),
			Config: anomaly.Config{
				Name: "spend-delta", Mode: anomaly.ModeDelta,
				MediumPct: a.DeltaMediumPct, HighPct: a.DeltaHighPct,
			},
		},
		{
			Source: history.NewSpendSource(history.NewClient(store), 10),
			Config: anomaly.Config{
				Name: "run-spend-delta", Mode: anomaly.ModeDelta,
				MediumPct: a.DeltaMediumPct, HighPct: a.DeltaHighPct,
			},
		},
	}

	if e.runCfg.FlowLogGroup != "" {
		detectors = append(detectors,
			anomaly.Detector{
				Source: aws.NewPortScanSource(awsClient.Config, e.runCfg.FlowLogGroup,
					time.Duration(a.PortScanWindowHours)*time.Hour),
				Config: anomaly.Config{
					Name: "port-scan", Mode: anomaly.ModeCardinality,
					Threshold: float64(a.PortScanUniquePorts),
				},
			},
			anomaly.Detector{
				Source: aws.NewExfilSource(awsClient.Config, e.runCfg.FlowLogGroup,
					time.Duration(a.ExfilWindowHours)*time.Hour),
				Config: anomaly.Config{
					Name: "exfiltration", Mode: anomaly.ModeVolume,
					Threshold: a.ExfilBytes,
				},
			},
		)
	}
	return detectors
}

// collectRejections summarizes refused traffic from the flow logs. Failures
// only cost the summary, never the run.
func (e *Engine) collectRejections(ctx context.Context, awsClient *aws.Client) []anomaly.RejectedEndpoint {
	window := time.Duration(e.policy.Anomaly.ExfilWindowHours) * time.Hour
	src := aws.NewDenialSource(awsClient.Config, e.runCfg.FlowLogGroup, window)

	handle, err := src.Query(ctx)
	if err != nil {
		e.Logger.Warn("Denial summary query failed", "error", err)
		return nil
	}
	obs, err := anomaly.Await(ctx, handle, e.runCfg.Query)
	if err != nil {
		e.Logger.Warn("Denial summary unavailable", "error", err)
		return nil
	}
	return anomaly.TopRejected(obs, 10)
}

func (e *Engine) recordAudit(account string, batch reclaim.BatchResult) {
	if e.Audit == nil {
		return
	}
	for _, r := range batch.Results {
		entry := audit.Entry{
			Account:    account,
			Region:     r.Decision.Candidate.Region,
			ResourceID: r.Decision.Candidate.ID,
			Kind:       string(r.Decision.Candidate.Kind),
			Action:     string(r.Decision.Action),
			Outcome:    string(r.Outcome),
			SnapshotID: r.SnapshotID,
			Savings:    r.Savings,
			Error:      r.Error,
		}
		if err := e.Audit.Append(entry); err != nil {
			e.Logger.Warn("Audit append failed", "resource", entry.ResourceID, "error", err)
		}
	}
}

func (e *Engine) writeArtifacts(rep report.Report) error {
	dir := e.runCfg.OutputDir
	if dir == "" {
		dir = "cloudreap-out"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := rep.WriteJSON(filepath.Join(dir, "run_report.json")); err != nil {
		return err
	}
	return rep.WriteCSV(filepath.Join(dir, "run_report.csv"))
}

func (e *Engine) appendHistory(ctx context.Context, store storage.BlobStore, rep report.Report, counts map[string]int) {
	h := history.NewClient(store)
	s := history.FromRun(rep.Cost.TotalMonthlyCost, rep.TotalSavings,
		rep.Cost.UntaggedPercentage, counts, len(rep.Anomalies), rep.Partial)
	if err := h.Append(ctx, s); err != nil {
		e.Logger.Warn("History append failed", "error", err)
	}
}

// recoverPanic converts a crash into telemetry and a structured log line
// so library callers can decide what to do.
func (e *Engine) recoverPanic(ctx context.Context) {
	if r := recover(); r != nil {
		tr := otel.Tracer("cloudreap/engine")
		_, span := tr.Start(ctx, "CriticalPanic")

		stack := debug.Stack()
		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "CRITICAL FAILURE")
		span.SetAttributes(
			attribute.String("crash.stack", string(stack)),
			attribute.String("crash.reason", fmt.Sprintf("%v", r)),
		)
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
	}
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	sensitiveKeys := map[string]bool{
		"password": true, "access_key": true, "token": true,
		"secret": true, "api_key": true, "private_key": true, "auth_token": true,
		"refresh_token": true, "certificate": true, "signature": true,
		"credential": true, "ssh_key": true, "connection_string": true,
	}

	if sensitiveKeys[a.Key] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
