package domain

import (
	"context"
	"fmt"
)

// RuleView is the read surface a rule may inspect after a transaction has
// applied its changes.
type RuleView interface {
	FindNamespace(id string) (Namespace, bool)
	FindProject(id string) (Project, bool)
	FindSample(id string) (Sample, bool)
	FindLiveSamplesByName(projectID string, names []string) []Sample
}

// Rule checks the changes of one transaction before commit.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs commit-time rules in registration order.
type RulesEngine struct {
	rules []Rule
}

func NewRulesEngine(rules ...Rule) *RulesEngine {
	e := &RulesEngine{}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// Register adds rule to the end of the evaluation order. Nil rules are ignored.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.rules = append(e.rules, rule)
}

// Rules lists registered rule names.
func (e *RulesEngine) Rules() []string {
	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Name()
	}
	return out
}

// Evaluate collects the violations of every rule. The first rule error stops
// evaluation and is returned prefixed with the rule name.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var all Result
	if len(changes) == 0 {
		return all, nil
	}
	for _, r := range e.rules {
		res, err := r.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", r.Name(), err)
		}
		all.Merge(res)
	}
	return all, nil
}
