// Package anomaly turns metric and flow-log observations into findings.
// Three detection modes cover the engine's needs: delta (spend spikes),
// cardinality (port scans), and volume (data exfiltration).
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Mode selects the aggregation applied to a detector's observations.
type Mode string

const (
	// ModeDelta compares consecutive observations per group and flags
	// large percentage changes in either direction.
	ModeDelta Mode = "DELTA"
	// ModeCardinality counts distinct secondary keys per group.
	ModeCardinality Mode = "CARDINALITY"
	// ModeVolume sums values per group.
	ModeVolume Mode = "VOLUME"
)

// Severity ranks findings for notification routing.
type Severity string

const (
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Observation is one normalized data point from a source.
type Observation struct {
	Timestamp time.Time
	// GroupKey partitions observations, e.g. a service name or source
	// address.
	GroupKey string
	// SecondaryKey feeds cardinality counting, e.g. a destination port.
	SecondaryKey string
	Value        float64
}

// Anomaly is a single finding.
type Anomaly struct {
	Detector  string    `json:"detector"`
	GroupKey  string    `json:"group_key"`
	Severity  Severity  `json:"severity"`
	Baseline  float64   `json:"baseline"`
	Current   float64   `json:"current"`
	PctChange float64   `json:"pct_change,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Config parameterizes one detector.
type Config struct {
	Name string
	Mode Mode

	// MediumPct and HighPct apply to ModeDelta only. Comparison is on
	// the absolute change, so a 60% drop is as anomalous as a 60% rise.
	MediumPct float64
	HighPct   float64

	// Threshold applies to ModeCardinality (distinct count) and
	// ModeVolume (value sum). Findings fire strictly above it.
	Threshold float64
}

// Detect runs the configured aggregation over a batch of observations.
// It is pure: callers fetch observations through a Source first.
func Detect(cfg Config, obs []Observation) []Anomaly {
	switch cfg.Mode {
	case ModeDelta:
		return detectDelta(cfg, obs)
	case ModeCardinality:
		return detectCardinality(cfg, obs)
	case ModeVolume:
		return detectVolume(cfg, obs)
	default:
		return nil
	}
}

func detectDelta(cfg Config, obs []Observation) []Anomaly {
	groups := make(map[string][]Observation)
	for _, o := range obs {
		groups[o.GroupKey] = append(groups[o.GroupKey], o)
	}

	var out []Anomaly
	for key, series := range groups {
		sort.Slice(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})

		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]
			// A zero baseline makes the percentage undefined; skip
			// rather than fabricate an infinite spike.
			if prev.Value == 0 {
				continue
			}
			pct := (cur.Value - prev.Value) / prev.Value * 100

			var sev Severity
			switch {
			case math.Abs(pct) >= cfg.HighPct:
				sev = SeverityHigh
			case math.Abs(pct) >= cfg.MediumPct:
				sev = SeverityMedium
			default:
				continue
			}

			out = append(out, Anomaly{
				Detector:  cfg.Name,
				GroupKey:  key,
				Severity:  sev,
				Baseline:  prev.Value,
				Current:   cur.Value,
				PctChange: pct,
				Timestamp: cur.Timestamp,
				Message:   fmt.Sprintf("%s changed %+.1f%% (%.2f -> %.2f)", key, pct, prev.Value, cur.Value),
			})
		}
	}
	sortAnomalies(out)
	return out
}

func detectCardinality(cfg Config, obs []Observation) []Anomaly {
	distinct := make(map[string]map[string]bool)
	latest := make(map[string]time.Time)
	for _, o := range obs {
		if distinct[o.GroupKey] == nil {
			distinct[o.GroupKey] = make(map[string]bool)
		}
		distinct[o.GroupKey][o.SecondaryKey] = true
		if o.Timestamp.After(latest[o.GroupKey]) {
			latest[o.GroupKey] = o.Timestamp
		}
	}

	var out []Anomaly
	for key, set := range distinct {
		count := float64(len(set))
		if count <= cfg.Threshold {
			continue
		}
		out = append(out, Anomaly{
			Detector:  cfg.Name,
			GroupKey:  key,
			Severity:  SeverityHigh,
			Baseline:  cfg.Threshold,
			Current:   count,
			Timestamp: latest[key],
			Message:   fmt.Sprintf("%s touched %d distinct targets (threshold %d)", key, int(count), int(cfg.Threshold)),
		})
	}
	sortAnomalies(out)
	return out
}

func detectVolume(cfg Config, obs []Observation) []Anomaly {
	sums := make(map[string]float64)
	latest := make(map[string]time.Time)
	for _, o := range obs {
		sums[o.GroupKey] += o.Value
		if o.Timestamp.After(latest[o.GroupKey]) {
			latest[o.GroupKey] = o.Timestamp
		}
	}

	var out []Anomaly
	for key, sum := range sums {
		if sum <= cfg.Threshold {
			continue
		}
		out = append(out, Anomaly{
			Detector:  cfg.Name,
			GroupKey:  key,
			Severity:  SeverityHigh,
			Baseline:  cfg.Threshold,
			Current:   sum,
			Timestamp: latest[key],
			Message:   fmt.Sprintf("%s transferred %.0f bytes (threshold %.0f)", key, sum, cfg.Threshold),
		})
	}
	sortAnomalies(out)
	return out
}

// sortAnomalies orders output deterministically for reports and tests.
func sortAnomalies(a []Anomaly) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].GroupKey != a[j].GroupKey {
			return a[i].GroupKey < a[j].GroupKey
		}
		return a[i].Timestamp.Before(a[j].Timestamp)
	})
}
