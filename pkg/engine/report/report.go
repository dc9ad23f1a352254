// Package report aggregates a run into a single artifact: reclamation
// results, sizing recommendations, exclusions, anomalies, untagged-cost
// accounting, and the partial-failure record.
package report

import (
	"time"

	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/engine/anomaly"
	"github.com/cloudreap/cloudreap/pkg/engine/inventory"
	"github.com/cloudreap/cloudreap/pkg/engine/policy"
	"github.com/cloudreap/cloudreap/pkg/engine/reclaim"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

// CostAccounting summarizes the monthly cost surface of the inventory.
type CostAccounting struct {
	TotalMonthlyCost    float64 `json:"total_monthly_cost"`
	UntaggedMonthlyCost float64 `json:"untagged_monthly_cost"`
	TotalResources      int     `json:"total_resources"`
	UntaggedResources   int     `json:"untagged_resources"`
	// UntaggedPercentage is the untagged share of total monthly cost,
	// zero when the total cost is zero.
	UntaggedPercentage float64 `json:"untagged_percentage"`
}

// Report is the run artifact.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Mode        reclaim.Mode `json:"mode"`
	Region      string       `json:"region"`
	Account     string       `json:"account,omitempty"`

	Results      []reclaim.Result        `json:"results"`
	TotalSavings float64                 `json:"total_savings"`
	Outcomes     map[reclaim.Outcome]int `json:"outcomes"`

	// Recommendations carries the sizing decisions; they are advisory.
	Recommendations []policy.Decision `json:"recommendations,omitempty"`

	// Denials counts excluded candidates by reason.
	Denials       map[policy.Reason]int `json:"denials,omitempty"`
	ExcludedCount int                   `json:"excluded_count"`

	Anomalies        []anomaly.Anomaly `json:"anomalies,omitempty"`
	SkippedDetectors []anomaly.Skipped `json:"skipped_detectors,omitempty"`

	// RejectedTraffic lists the most refused (source, port) pairs from the
	// flow logs. Informational; it carries no severity.
	RejectedTraffic []anomaly.RejectedEndpoint `json:"rejected_traffic,omitempty"`

	Cost CostAccounting `json:"cost"`

	Partial      bool                   `json:"partial"`
	FailedScopes []inventory.ScopeError `json:"failed_scopes,omitempty"`
}

// Account computes the cost surface from the full inventory.
func Account(candidates []resource.Candidate, p config.Policy) CostAccounting {
	var acc CostAccounting
	for _, c := range candidates {
		kp, ok := p.KindPolicyFor(c.Kind)
		if !ok {
			continue
		}
		cost := c.Size * kp.RatePerUnitMonth
		acc.TotalMonthlyCost += cost
		acc.TotalResources++
		if !c.Tagged(p.RequiredTags) {
			acc.UntaggedMonthlyCost += cost
			acc.UntaggedResources++
		}
	}
	acc.UntaggedPercentage = safePct(acc.UntaggedMonthlyCost, acc.TotalMonthlyCost)
	return acc
}

// safePct guards the zero-cost division.
func safePct(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total * 100
}

// SummarizeDenials counts non-eligible decisions by reason.
func SummarizeDenials(decisions []policy.Decision) map[policy.Reason]int {
	out := make(map[policy.Reason]int)
	for _, d := range decisions {
		if d.Eligible {
			continue
		}
		out[d.Reason]++
	}
	return out
}

// Build assembles the report from the run's pieces.
func Build(
	mode reclaim.Mode,
	region, account string,
	inv inventory.Inventory,
	decisions []policy.Decision,
	batch reclaim.BatchResult,
	findings anomaly.Findings,
	p config.Policy,
) Report {
	var recommendations []policy.Decision
	for _, d := range decisions {
		if d.Action == policy.ActionDownsize || d.Action == policy.ActionUpsize {
			recommendations = append(recommendations, d)
		}
	}

	denials := SummarizeDenials(decisions)
	excluded := 0
	for _, n := range denials {
		excluded += n
	}

	return Report{
		GeneratedAt:      time.Now().UTC(),
		Mode:             mode,
		Region:           region,
		Account:          account,
		Results:          batch.Results,
		TotalSavings:     batch.TotalSavings,
		Outcomes:         batch.Counts,
		Recommendations:  recommendations,
		Denials:          denials,
		ExcludedCount:    excluded,
		Anomalies:        findings.Anomalies,
		SkippedDetectors: findings.Skipped,
		Cost:             Account(inv.Candidates, p),
		Partial:          inv.Partial,
		FailedScopes:     inv.Failed,
	}
}

// ResourceCounts tallies the inventory by kind for the history ledger.
func ResourceCounts(candidates []resource.Candidate) map[string]int {
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[string(c.Kind)]++
	}
	return counts
}
