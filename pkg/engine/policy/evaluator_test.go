package policy

import (
	"testing"

	"github.com/cloudreap/cloudreap/pkg/config"
	"github.com/cloudreap/cloudreap/pkg/resource"
)

func newTestEvaluator(t *testing.T, rules *CELEngine) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(config.DefaultPolicy(), rules, nil)
	if err != nil {
		t.Fatalf("Failed to create evaluator: %v", err)
	}
	return e
}

func TestEvaluate_AgeThreshold(t *testing.T) {
	e := newTestEvaluator(t, nil)

	// A 100GB volume older than the 7 day threshold is reclaimable at the
	// configured rate.
	old := resource.Candidate{
		ID: "vol-old", Kind: resource.KindVolume,
		AgeDays: 30, AgeKnown: true, Size: 100,
	}
	d := e.Evaluate(old)
	if !d.Eligible || d.Action != ActionReclaim {
		t.Fatalf("Expected eligible RECLAIM, got %+v", d)
	}
	if d.EstimatedMonthlyCost != 8.0 {
		t.Errorf("Expected savings 8.00, got %f", d.EstimatedMonthlyCost)
	}

	// The same volume created yesterday must be excluded.
	young := old
	young.ID = "vol-young"
	young.AgeDays = 1
	d = e.Evaluate(young)
	if d.Eligible {
		t.Error("Young volume must not be eligible")
	}
	if d.Reason != ReasonBelowAgeThreshold {
		t.Errorf("Expected BELOW_AGE_THRESHOLD, got %s", d.Reason)
	}
}

func TestEvaluate_BoundaryAgeIsEligible(t *testing.T) {
	e := newTestEvaluator(t, nil)

	// Exactly at the threshold counts as old enough.
	d := e.Evaluate(resource.Candidate{
		ID: "vol-edge", Kind: resource.KindVolume,
		AgeDays: 7, AgeKnown: true, Size: 10,
	})
	if !d.Eligible {
		t.Errorf("Age equal to threshold must be eligible, got %+v", d)
	}
}

func TestEvaluate_MissingAge(t *testing.T) {
	e := newTestEvaluator(t, nil)

	d := e.Evaluate(resource.Candidate{
		ID: "vol-noage", Kind: resource.KindVolume, Size: 100,
	})
	if d.Eligible {
		t.Error("Candidate without a known age must be excluded")
	}
	if d.Reason != ReasonMissingAttribute {
		t.Errorf("Expected MISSING_ATTRIBUTE, got %s", d.Reason)
	}
}

func TestEvaluate_ElasticIPFlatRate(t *testing.T) {
	e := newTestEvaluator(t, nil)

	d := e.Evaluate(resource.Candidate{
		ID: "eipalloc-1", Kind: resource.KindElasticIP,
		AgeDays: 0, AgeKnown: true, Size: 1,
	})
	if !d.Eligible {
		t.Fatalf("Unassociated EIP must be eligible, got %+v", d)
	}
	if d.EstimatedMonthlyCost != 3.60 {
		t.Errorf("Expected flat 3.60/mo, got %f", d.EstimatedMonthlyCost)
	}
}

func TestEvaluate_Utilization(t *testing.T) {
	e := newTestEvaluator(t, nil)

	cases := []struct {
		name   string
		sample *resource.UtilizationSample
		action Action
		reason Reason
	}{
		{"idle instance", &resource.UtilizationSample{Average: 3, P95: 9, Datapoints: 100}, ActionDownsize, ReasonEligible},
		{"hot average", &resource.UtilizationSample{Average: 85, P95: 88, Datapoints: 100}, ActionUpsize, ReasonEligible},
		{"hot p95 only", &resource.UtilizationSample{Average: 40, P95: 95, Datapoints: 100}, ActionUpsize, ReasonEligible},
		// Low requires both thresholds; avg under 10 but p95 over 20 is normal.
		{"low avg high p95", &resource.UtilizationSample{Average: 5, P95: 45, Datapoints: 100}, ActionNone, ReasonUtilizationNormal},
		{"normal", &resource.UtilizationSample{Average: 40, P95: 60, Datapoints: 100}, ActionNone, ReasonUtilizationNormal},
		{"no datapoints", &resource.UtilizationSample{}, ActionNone, ReasonInsufficientData},
		{"no sample", nil, ActionNone, ReasonInsufficientData},
	}

	for _, tc := range cases {
		d := e.Evaluate(resource.Candidate{
			ID: "i-1", Kind: resource.KindInstance, Utilization: tc.sample,
		})
		if d.Action != tc.action || d.Reason != tc.reason {
			t.Errorf("%s: expected (%s, %s), got (%s, %s)", tc.name, tc.action, tc.reason, d.Action, d.Reason)
		}
	}
}

func TestEvaluate_SizingCarriesNoSavings(t *testing.T) {
	e := newTestEvaluator(t, nil)

	d := e.Evaluate(resource.Candidate{
		ID: "i-idle", Kind: resource.KindInstance,
		Utilization: &resource.UtilizationSample{Average: 2, P95: 5, Datapoints: 50},
	})
	if d.EstimatedMonthlyCost != 0 {
		t.Errorf("Sizing recommendations must not claim savings, got %f", d.EstimatedMonthlyCost)
	}
}

func TestEvaluate_ExemptionRule(t *testing.T) {
	rules, err := NewCELEngine()
	if err != nil {
		t.Fatal(err)
	}
	if err := rules.Compile([]DynamicRule{
		{ID: "keep_prod", Condition: "tags.env == 'prod'", Action: "exempt"},
	}); err != nil {
		t.Fatal(err)
	}
	e := newTestEvaluator(t, rules)

	// Old enough to reclaim, but tagged prod.
	d := e.Evaluate(resource.Candidate{
		ID: "vol-prod", Kind: resource.KindVolume,
		AgeDays: 365, AgeKnown: true, Size: 500,
		Tags: map[string]string{"env": "prod"},
	})
	if d.Eligible {
		t.Error("Exempted candidate must not be eligible")
	}
	if d.Reason != ReasonExempt {
		t.Errorf("Expected EXEMPT, got %s", d.Reason)
	}
	if len(d.MatchedRules) != 1 || d.MatchedRules[0] != "keep_prod" {
		t.Errorf("Expected matched rule keep_prod, got %v", d.MatchedRules)
	}

	// A dev-tagged sibling still goes through.
	d = e.Evaluate(resource.Candidate{
		ID: "vol-dev", Kind: resource.KindVolume,
		AgeDays: 365, AgeKnown: true, Size: 500,
		Tags: map[string]string{"env": "dev"},
	})
	if !d.Eligible {
		t.Errorf("Non-matching candidate must remain eligible, got %+v", d)
	}
}

func TestEvaluate_ErroringRuleExcludesCandidate(t *testing.T) {
	// A protection rule that fails at evaluation time must exclude the
	// candidate, not let through the deletion it was written to prevent.
	rules, err := NewCELEngine()
	if err != nil {
		t.Fatal(err)
	}
	if err := rules.Compile([]DynamicRule{
		{ID: "keep_critical", Condition: "tags.critical == 'true'", Action: "exempt"},
	}); err != nil {
		t.Fatal(err)
	}
	e := newTestEvaluator(t, rules)

	// No tags at all, so the rule errors on the missing key.
	d := e.Evaluate(resource.Candidate{
		ID: "vol-untagged", Kind: resource.KindVolume,
		AgeDays: 365, AgeKnown: true, Size: 100,
	})
	if d.Eligible {
		t.Fatal("Candidate with an erroring rule must not be eligible")
	}
	if d.Reason != ReasonExempt {
		t.Errorf("Expected EXEMPT, got %s", d.Reason)
	}
	if len(d.MatchedRules) != 1 || d.MatchedRules[0] != "rule-evaluation-error" {
		t.Errorf("Expected rule-evaluation-error marker, got %v", d.MatchedRules)
	}
}

func TestEvaluate_UnknownKind(t *testing.T) {
	e := newTestEvaluator(t, nil)
	d := e.Evaluate(resource.Candidate{ID: "x", Kind: resource.Kind("Mainframe")})
	if d.Eligible || d.Reason != ReasonUnknownKind {
		t.Errorf("Expected UNKNOWN_KIND exclusion, got %+v", d)
	}
}
