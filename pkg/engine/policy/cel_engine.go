package policy

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// DynamicRule is a user-defined exemption rule, typically loaded from YAML.
// A rule whose condition evaluates true exempts the candidate.
type DynamicRule struct {
	ID        string `yaml:"id" json:"id"`
	Condition string `yaml:"condition" json:"condition"` // CEL expression: "cost > 100 && tags.env == 'prod'"
	Action    string `yaml:"action" json:"action"`       // informational, e.g. "exempt"
}

// EvaluationContext is the variable surface visible to rule expressions.
type EvaluationContext struct {
	ID    string
	Kind  string
	Cost  float64
	Tags  map[string]string
	Props map[string]interface{}
}

// CELEngine manages the compilation and execution of dynamic rules.
type CELEngine struct {
	env      *cel.Env
	programs map[string]cel.Program
	rules    map[string]DynamicRule
}

// NewCELEngine initializes the CEL environment with standard variable declarations.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("id", decls.String),
			decls.NewVar("kind", decls.String),
			decls.NewVar("cost", decls.Double),
			decls.NewVar("tags", decls.NewMapType(decls.String, decls.String)),
			decls.NewVar("props", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &CELEngine{
		env:      env,
		programs: make(map[string]cel.Program),
		rules:    make(map[string]DynamicRule),
	}, nil
}

// Compile compiles a list of rules into executable programs.
// A compilation error in any rule fails the whole batch so a typo cannot
// silently disable a protection.
func (e *CELEngine) Compile(rules []DynamicRule) error {
	for _, r := range rules {
		ast, issues := e.env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %s compilation error: %w", r.ID, issues.Err())
		}

		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %s program creation error: %w", r.ID, err)
		}

		e.programs[r.ID] = prg
		e.rules[r.ID] = r
	}
	return nil
}

// Evaluate returns the rules whose conditions hold for the given context.
// A rule that errors at evaluation time is reported in the joined error
// alongside any matches. A broken protection rule must surface to the
// caller, not silently permit what it was written to prevent.
func (e *CELEngine) Evaluate(ec EvaluationContext) ([]DynamicRule, error) {
	tags := ec.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	props := ec.Props
	if props == nil {
		props = map[string]interface{}{}
	}

	vars := map[string]interface{}{
		"id":    ec.ID,
		"kind":  ec.Kind,
		"cost":  ec.Cost,
		"tags":  tags,
		"props": props,
	}

	var matches []DynamicRule
	var errs []error
	for id, prg := range e.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", id, err))
			continue
		}

		// Rules must return a boolean; true means the rule fires.
		if match, ok := out.Value().(bool); ok && match {
			matches = append(matches, e.rules[id])
		}
	}

	return matches, errors.Join(errs...)
}
