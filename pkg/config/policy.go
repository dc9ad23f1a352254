// Package config defines default configuration, reclamation policies, and
// anomaly thresholds.
package config

import (
	"fmt"

	"github.com/cloudreap/cloudreap/pkg/resource"
)

// KindPolicy holds the per-kind eligibility thresholds.
// Rates are policy data; evaluators never hardcode prices.
type KindPolicy struct {
	// MinAgeDays is the minimum age before a resource is reclaimable.
	MinAgeDays int `mapstructure:"min_age_days"`
	// RatePerUnitMonth is the monthly price per billable unit
	// (GB-month for storage kinds, one flat unit for Elastic IPs).
	RatePerUnitMonth float64 `mapstructure:"rate_per_unit_month"`
}

// UtilizationPolicy classifies pre-aggregated (average, p95) metric pairs.
// Low and High use independent thresholds; a sample can match neither.
type UtilizationPolicy struct {
	LowAvgPct    float64 `mapstructure:"low_avg_pct"`
	LowP95Pct    float64 `mapstructure:"low_p95_pct"`
	HighAvgPct   float64 `mapstructure:"high_avg_pct"`
	HighP95Pct   float64 `mapstructure:"high_p95_pct"`
	LookbackDays int     `mapstructure:"lookback_days"`
}

// AnomalyPolicy holds the severity and detection thresholds for the
// anomaly detectors.
type AnomalyPolicy struct {
	// DeltaMediumPct and DeltaHighPct classify absolute percentage change
	// between consecutive observations within a group.
	DeltaMediumPct float64 `mapstructure:"delta_medium_pct"`
	DeltaHighPct   float64 `mapstructure:"delta_high_pct"`
	// PortScanUniquePorts is the distinct destination-port count above
	// which a source address is flagged.
	PortScanUniquePorts int `mapstructure:"port_scan_unique_ports"`
	// ExfilBytes is the outbound byte sum above which a source address
	// is flagged.
	ExfilBytes float64 `mapstructure:"exfil_bytes"`
	// PortScanWindowHours and ExfilWindowHours bound the query windows.
	PortScanWindowHours int `mapstructure:"port_scan_window_hours"`
	ExfilWindowHours    int `mapstructure:"exfil_window_hours"`
}

// Policy is the immutable policy surface supplied at engine construction.
type Policy struct {
	Kinds       map[resource.Kind]KindPolicy `mapstructure:"kinds"`
	Utilization UtilizationPolicy            `mapstructure:"utilization"`
	Anomaly     AnomalyPolicy                `mapstructure:"anomaly"`
	// RequiredTags drives the untagged-cost accounting in the report.
	RequiredTags []string `mapstructure:"required_tags"`
}

// DefaultPolicy returns the baseline thresholds.
// Rates track published on-demand pricing (gp3 $0.08/GB-mo, snapshot
// $0.05/GB-mo, idle EIP $3.60/mo).
func DefaultPolicy() Policy {
	return Policy{
		Kinds: map[resource.Kind]KindPolicy{
			resource.KindVolume:    {MinAgeDays: 7, RatePerUnitMonth: 0.08},
			resource.KindSnapshot:  {MinAgeDays: 90, RatePerUnitMonth: 0.05},
			resource.KindElasticIP: {MinAgeDays: 0, RatePerUnitMonth: 3.60},
			resource.KindInstance:  {MinAgeDays: 0, RatePerUnitMonth: 0},
		},
		Utilization: UtilizationPolicy{
			LowAvgPct:    10,
			LowP95Pct:    20,
			HighAvgPct:   80,
			HighP95Pct:   90,
			LookbackDays: 7,
		},
		Anomaly: AnomalyPolicy{
			DeltaMediumPct:      20,
			DeltaHighPct:        50,
			PortScanUniquePorts: 20,
			ExfilBytes:          10 * 1024 * 1024 * 1024,
			PortScanWindowHours: 1,
			ExfilWindowHours:    24,
		},
		RequiredTags: []string{"Environment", "CostCenter", "Owner", "Project"},
	}
}

// Validate rejects unusable policies before any mutating call is issued.
func (p Policy) Validate() error {
	if len(p.Kinds) == 0 {
		return fmt.Errorf("policy: no kind thresholds configured")
	}
	for kind, kp := range p.Kinds {
		if kp.MinAgeDays < 0 {
			return fmt.Errorf("policy: kind %s: min_age_days must not be negative", kind)
		}
		if kp.RatePerUnitMonth < 0 {
			return fmt.Errorf("policy: kind %s: rate_per_unit_month must not be negative", kind)
		}
	}
	u := p.Utilization
	if u.LowAvgPct > u.HighAvgPct {
		return fmt.Errorf("policy: utilization low_avg_pct %.1f exceeds high_avg_pct %.1f", u.LowAvgPct, u.HighAvgPct)
	}
	if u.LookbackDays <= 0 {
		return fmt.Errorf("policy: utilization lookback_days must be positive")
	}
	a := p.Anomaly
	if a.DeltaMediumPct <= 0 || a.DeltaHighPct <= 0 {
		return fmt.Errorf("policy: anomaly delta thresholds must be positive")
	}
	if a.DeltaHighPct < a.DeltaMediumPct {
		return fmt.Errorf("policy: anomaly delta_high_pct %.1f below delta_medium_pct %.1f", a.DeltaHighPct, a.DeltaMediumPct)
	}
	return nil
}

// KindPolicyFor returns the thresholds for a kind.
func (p Policy) KindPolicyFor(kind resource.Kind) (KindPolicy, bool) {
	kp, ok := p.Kinds[kind]
	return kp, ok
}
