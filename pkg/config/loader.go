package config

import (
	"fmt"

	"github.com/cloudreap/cloudreap/pkg/resource"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// HCL schema for policy files. Attributes are pointers so an absent value
// keeps the default instead of zeroing it.
type hclKindBlock struct {
	Name             string   `hcl:"name,label"`
	MinAgeDays       *int     `hcl:"min_age_days,optional"`
	RatePerUnitMonth *float64 `hcl:"rate_per_unit_month,optional"`
}

type hclUtilizationBlock struct {
	LowAvgPct    *float64 `hcl:"low_avg_pct,optional"`
	LowP95Pct    *float64 `hcl:"low_p95_pct,optional"`
	HighAvgPct   *float64 `hcl:"high_avg_pct,optional"`
	HighP95Pct   *float64 `hcl:"high_p95_pct,optional"`
	LookbackDays *int     `hcl:"lookback_days,optional"`
}

type hclAnomalyBlock struct {
	DeltaMediumPct      *float64 `hcl:"delta_medium_pct,optional"`
	DeltaHighPct        *float64 `hcl:"delta_high_pct,optional"`
	PortScanUniquePorts *int     `hcl:"port_scan_unique_ports,optional"`
	ExfilBytes          *float64 `hcl:"exfil_bytes,optional"`
	PortScanWindowHours *int     `hcl:"port_scan_window_hours,optional"`
	ExfilWindowHours    *int     `hcl:"exfil_window_hours,optional"`
}

type hclPolicyFile struct {
	RequiredTags *[]string            `hcl:"required_tags,optional"`
	Kinds        []hclKindBlock       `hcl:"kind,block"`
	Utilization  *hclUtilizationBlock `hcl:"utilization,block"`
	Anomaly      *hclAnomalyBlock     `hcl:"anomaly,block"`
}

// policyEvalContext exposes byte-size constants to policy expressions,
// e.g. `exfil_bytes = 10 * gib`.
func policyEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"kib": cty.NumberIntVal(1024),
			"mib": cty.NumberIntVal(1024 * 1024),
			"gib": cty.NumberIntVal(1024 * 1024 * 1024),
		},
	}
}

// LoadPolicyHCL reads an HCL policy file and overlays it on DefaultPolicy.
func LoadPolicyHCL(path string) (Policy, error) {
	var file hclPolicyFile
	if err := hclsimple.DecodeFile(path, policyEvalContext(), &file); err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}

	p := DefaultPolicy()

	if file.RequiredTags != nil {
		p.RequiredTags = *file.RequiredTags
	}

	for _, block := range file.Kinds {
		kind := resource.Kind(block.Name)
		kp, ok := p.Kinds[kind]
		if !ok {
			return Policy{}, fmt.Errorf("policy file %s: unknown kind %q", path, block.Name)
		}
		if block.MinAgeDays != nil {
			kp.MinAgeDays = *block.MinAgeDays
		}
		if block.RatePerUnitMonth != nil {
			kp.RatePerUnitMonth = *block.RatePerUnitMonth
		}
		p.Kinds[kind] = kp
	}

	if u := file.Utilization; u != nil {
		if u.LowAvgPct != nil {
			p.Utilization.LowAvgPct = *u.LowAvgPct
		}
		if u.LowP95Pct != nil {
			p.Utilization.LowP95Pct = *u.LowP95Pct
		}
		if u.HighAvgPct != nil {
			p.Utilization.HighAvgPct = *u.HighAvgPct
		}
		if u.HighP95Pct != nil {
			p.Utilization.HighP95Pct = *u.HighP95Pct
		}
		if u.LookbackDays != nil {
			p.Utilization.LookbackDays = *u.LookbackDays
		}
	}

	if a := file.Anomaly; a != nil {
		if a.DeltaMediumPct != nil {
			p.Anomaly.DeltaMediumPct = *a.DeltaMediumPct
		}
		if a.DeltaHighPct != nil {
			p.Anomaly.DeltaHighPct = *a.DeltaHighPct
		}
		if a.PortScanUniquePorts != nil {
			p.Anomaly.PortScanUniquePorts = *a.PortScanUniquePorts
		}
		if a.ExfilBytes != nil {
			p.Anomaly.ExfilBytes = *a.ExfilBytes
		}
		if a.PortScanWindowHours != nil {
			p.Anomaly.PortScanWindowHours = *a.PortScanWindowHours
		}
		if a.ExfilWindowHours != nil {
			p.Anomaly.ExfilWindowHours = *a.ExfilWindowHours
		}
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
