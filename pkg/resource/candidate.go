// Package resource defines the typed reclamation candidates shared by the
// inventory, policy, and reclamation layers.
package resource

// Kind identifies the class of a discovered resource.
type Kind string

const (
	KindVolume    Kind = "Volume"
	KindElasticIP Kind = "ElasticIP"
	KindSnapshot  Kind = "Snapshot"
	KindInstance  Kind = "Instance"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindVolume, KindElasticIP, KindSnapshot, KindInstance}
}

// RequiresSafetySnapshot reports whether deleting this kind destroys data and
// therefore requires a confirmed safety snapshot before the destructive call.
// Elastic IPs carry no data payload and snapshots are already backups; both
// are exempt by policy.
func (k Kind) RequiresSafetySnapshot() bool {
	return k == KindVolume
}

// UtilizationSample is a pre-aggregated metric pair over a fixed lookback
// window, attached to utilization-based kinds at discovery time.
type UtilizationSample struct {
	Average    float64
	P95        float64
	Datapoints int
}

// Candidate is a discovered resource subject to policy evaluation.
// It is immutable once discovered: age is computed by the inventory source,
// never re-derived downstream, so evaluation stays deterministic.
type Candidate struct {
	ID     string
	Kind   Kind
	Region string

	// AgeDays is valid only when AgeKnown is true. Sources that cannot
	// resolve a creation timestamp leave it false and the evaluator
	// excludes the candidate with a MissingAttribute reason.
	AgeDays  int
	AgeKnown bool

	// Size is the billable capacity in the kind's native unit
	// (GB for storage kinds, 1 for flat-rate kinds such as Elastic IPs).
	Size float64

	Tags map[string]string

	// Utilization is populated for Instance candidates only.
	Utilization *UtilizationSample
}

// Tagged reports whether the candidate carries all required tag keys.
func (c Candidate) Tagged(required []string) bool {
	for _, key := range required {
		if _, ok := c.Tags[key]; !ok {
			return false
		}
	}
	return true
}
