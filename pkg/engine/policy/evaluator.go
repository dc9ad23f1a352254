// Package policy decides which discovered resources are reclaimable and
// which running instances are mis-sized. Decisions are pure functions of the
// candidate and the configured thresholds; no cloud calls happen here.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

// Action is the recommended follow-up for a decision.
type Action string

const (
	// ActionReclaim releases or deletes the resource.
	ActionReclaim Action = "RECLAIM"
	// ActionDownsize and ActionUpsize are sizing recommendations for
	// running instances. They never trigger destructive calls.
	ActionDownsize Action = "DOWNSIZE"
	ActionUpsize   Action = "UPSIZE"
	// ActionNone means leave the resource alone.
	ActionNone Action = "NONE"
)

// Reason explains why a candidate was or was not selected.
type Reason string

const (
	ReasonEligible          Reason = "ELIGIBLE"
	ReasonBelowAgeThreshold Reason = "BELOW_AGE_THRESHOLD"
	ReasonMissingAttribute  Reason = "MISSING_ATTRIBUTE"
	ReasonExempt            Reason = "EXEMPT"
	ReasonInsufficientData  Reason = "INSUFFICIENT_DATA"
	ReasonUtilizationNormal Reason = "UTILIZATION_NORMAL"
	ReasonUnknownKind       Reason = "UNKNOWN_KIND"
)

// Decision is the evaluation outcome for a single candidate.
type Decision struct {
	Candidate resource.Candidate
	Action    Action
	Eligible  bool
	Reason    Reason
	// EstimatedMonthlyCost is the projected monthly saving if the action
	// is taken. Sizing recommendations carry zero here because the saving
	// depends on the replacement type, which this engine does not choose.
	EstimatedMonthlyCost float64
	// MatchedRules lists the IDs of exemption rules that fired.
	MatchedRules []string
}

// Evaluator applies the configured policy to candidates.
type Evaluator struct {
	policy config.Policy
	rules  *CELEngine
	logger *slog.Logger
}

// NewEvaluator builds an evaluator. rules may be nil when no exemption
// rules file is configured.
func NewEvaluator(p config.Policy, rules *CELEngine, logger *slog.Logger) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("evaluator: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{policy: p, rules: rules, logger: logger}, nil
}

// Evaluate produces the decision for one candidate. It never returns an
// error for a malformed candidate; such candidates are excluded with an
// explanatory reason so the run can account for them.
func (e *Evaluator) Evaluate(c resource.Candidate) Decision {
	kp, ok := e.policy.KindPolicyFor(c.Kind)
	if !ok {
		return Decision{Candidate: c, Action: ActionNone, Reason: ReasonUnknownKind}
	}

	// Exemption rules run first so a protected resource is never even
	// considered for age or utilization checks.
	if matched := e.matchRules(c, kp); len(matched) > 0 {
		e.logger.Debug("Candidate exempted by rule",
			"id", c.ID, "kind", c.Kind, "rules", matched)
		return Decision{Candidate: c, Action: ActionNone, Reason: ReasonExempt, MatchedRules: matched}
	}

	if c.Kind == resource.KindInstance {
		return e.evaluateUtilization(c)
	}

	if !c.AgeKnown {
		return Decision{Candidate: c, Action: ActionNone, Reason: ReasonMissingAttribute}
	}
	if c.AgeDays < kp.MinAgeDays {
		return Decision{Candidate: c, Action: ActionNone, Reason: ReasonBelowAgeThreshold}
	}

	return Decision{
		Candidate:            c,
		Action:               ActionReclaim,
		Eligible:             true,
		Reason:               ReasonEligible,
		EstimatedMonthlyCost: c.Size * kp.RatePerUnitMonth,
	}
}

// evaluateUtilization classifies an instance as over- or under-provisioned.
// Low requires both average and p95 under their thresholds; high fires on
// either. A sample can match neither and is reported as normal.
func (e *Evaluator) evaluateUtilization(c resource.Candidate) Decision {
	u := e.policy.Utilization

	s := c.Utilization
	if s == nil || s.Datapoints == 0 {
		return Decision{Candidate: c, Action: ActionNone, Reason: ReasonInsufficientData}
	}

	if s.Average < u.LowAvgPct && s.P95 < u.LowP95Pct {
		return Decision{Candidate: c, Action: ActionDownsize, Eligible: true, Reason: ReasonEligible}
	}
	if s.Average > u.HighAvgPct || s.P95 > u.HighP95Pct {
		return Decision{Candidate: c, Action: ActionUpsize, Eligible: true, Reason: ReasonEligible}
	}
	return Decision{Candidate: c, Action: ActionNone, Reason: ReasonUtilizationNormal}
}

func (e *Evaluator) matchRules(c resource.Candidate, kp config.KindPolicy) []string {
	if e.rules == nil {
		return nil
	}
	matched, err := e.rules.Evaluate(EvaluationContext{
		ID:   c.ID,
		Kind: string(c.Kind),
		Cost: c.Size * kp.RatePerUnitMonth,
		Tags: c.Tags,
		Props: map[string]interface{}{
			"region":    c.Region,
			"age_days":  c.AgeDays,
			"age_known": c.AgeKnown,
			"size":      c.Size,
		},
	})
	if err != nil {
		// Rule failures must not silently allow deletion of a resource a
		// rule intended to protect, so they count as an exemption.
		e.logger.Warn("Rule evaluation failed, excluding candidate", "id", c.ID, "error", err)
		return []string{"rule-evaluation-error"}
	}
	ids := make([]string, 0, len(matched))
	for _, r := range matched {
		ids = append(ids, r.ID)
	}
	return ids
}
