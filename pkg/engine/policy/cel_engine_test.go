package policy

import (
	"testing"
)

func TestCELEngine(t *testing.T) {
	engine, err := NewCELEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	rules := []DynamicRule{
		{
			ID:        "high_cost",
			Condition: "cost > 1000.0",
			Action:    "exempt",
		},
		{
			ID:        "prod_protection",
			Condition: "tags.env == 'prod' && props.action == 'delete'",
			Action:    "exempt",
		},
	}

	if err := engine.Compile(rules); err != nil {
		t.Fatalf("Compilation failed: %v", err)
	}

	// Scenario A: High Cost
	dataA := EvaluationContext{
		Cost: 1500,
		Tags: map[string]string{"env": "dev"},
	}
	matches, _ := engine.Evaluate(dataA)
	if len(matches) != 1 || matches[0].ID != "high_cost" {
		t.Errorf("Scenario A failed. Expected ['high_cost'], got %v", matches)
	}

	// Scenario B: Protected
	dataB := EvaluationContext{
		Cost:  50,
		Tags:  map[string]string{"env": "prod"},
		Props: map[string]interface{}{"action": "delete"},
	}
	matches, _ = engine.Evaluate(dataB)
	if len(matches) != 1 || matches[0].ID != "prod_protection" {
		t.Errorf("Scenario B failed. Expected ['prod_protection'], got %v", matches)
	}
}

func TestCELEngine_CompileError(t *testing.T) {
	engine, err := NewCELEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	rules := []DynamicRule{
		{ID: "broken", Condition: "cost >>> 5"},
	}
	if err := engine.Compile(rules); err == nil {
		t.Error("Expected compilation error for malformed condition")
	}
}

func TestCELEngine_RuntimeErrorSurfaces(t *testing.T) {
	engine, err := NewCELEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.Compile([]DynamicRule{
		{ID: "critical_tag", Condition: "tags.critical == 'true'", Action: "exempt"},
	}); err != nil {
		t.Fatalf("Compilation failed: %v", err)
	}

	// The candidate has no tags, so the map access errors at runtime.
	matches, err := engine.Evaluate(EvaluationContext{ID: "vol-1", Cost: 10})
	if err == nil {
		t.Fatal("Expected evaluation error for missing map key")
	}
	if len(matches) != 0 {
		t.Errorf("Errored rule must not count as a match, got %v", matches)
	}
}

func TestLoadRules_EmptyPathIsOptional(t *testing.T) {
	engine, err := LoadRules("")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if engine != nil {
		t.Error("Expected nil engine for empty path")
	}
}
