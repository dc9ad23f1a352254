package anomaly

import "testing"

func TestTopRejected(t *testing.T) {
	obs := []Observation{
		{GroupKey: "10.0.0.1", SecondaryKey: "22", Value: 5},
		{GroupKey: "203.0.113.5", SecondaryKey: "3389", Value: 412},
		{GroupKey: "10.0.0.2", SecondaryKey: "443", Value: 5},
		{GroupKey: "10.0.0.3", SecondaryKey: "80", Value: 90},
	}

	top := TopRejected(obs, 3)
	if len(top) != 3 {
		t.Fatalf("Expected 3 endpoints, got %d", len(top))
	}
	if top[0].Source != "203.0.113.5" || top[0].Count != 412 {
		t.Errorf("Worst offender should rank first: %+v", top[0])
	}
	// Equal counts break ties on source address.
	if top[2].Source != "10.0.0.1" {
		t.Errorf("Expected 10.0.0.1 in third place, got %+v", top[2])
	}
}

func TestTopRejected_Empty(t *testing.T) {
	if got := TopRejected(nil, 10); len(got) != 0 {
		t.Errorf("Expected empty summary, got %v", got)
	}
}
