package anomaly

import "sort"

// RejectedEndpoint aggregates refused connection attempts from one source
// address against one destination port.
type RejectedEndpoint struct {
	Source string  `json:"source"`
	Port   string  `json:"port"`
	Count  float64 `json:"count"`
}

// TopRejected ranks observations of refused traffic by hit count and keeps
// the n worst offenders. Ties break on source then port for stable output.
func TopRejected(obs []Observation, n int) []RejectedEndpoint {
	out := make([]RejectedEndpoint, 0, len(obs))
	for _, o := range obs {
		out = append(out, RejectedEndpoint{Source: o.GroupKey, Port: o.SecondaryKey, Count: o.Value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Port < out[j].Port
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
