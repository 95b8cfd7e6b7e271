package core

import (
	"context"
	"fmt"
	"samplecore/pkg/domain"
)

// NewDefaultRulesEngine returns an engine with the commit-time safety rules.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewUniqueSampleNameRule())
	engine.Register(NewNonNegativeAggregateRule())
	return engine
}

type uniqueSampleNameRule struct{}

// NewUniqueSampleNameRule blocks commits that leave two live samples with the
// same name in one project.
func NewUniqueSampleNameRule() domain.Rule { return uniqueSampleNameRule{} }

func (uniqueSampleNameRule) Name() string { return "unique_sample_name" }

func (r uniqueSampleNameRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	checked := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntitySample || change.Action == domain.ActionDelete {
			continue
		}
		after, ok := change.After.(domain.Sample)
		if !ok || !after.Live() {
			continue
		}
		key := after.ProjectID + "\x00" + after.Name
		if _, done := checked[key]; done {
			continue
		}
		checked[key] = struct{}{}
		if matches := view.FindLiveSamplesByName(after.ProjectID, []string{after.Name}); len(matches) > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("project %s has %d live samples named %q", after.ProjectID, len(matches), after.Name),
				Entity:   domain.EntitySample,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

type nonNegativeAggregateRule struct{}

// NewNonNegativeAggregateRule blocks commits that drive a sample count or a
// metadata summary entry below zero.
func NewNonNegativeAggregateRule() domain.Rule { return nonNegativeAggregateRule{} }

func (nonNegativeAggregateRule) Name() string { return "non_negative_aggregate" }

func (r nonNegativeAggregateRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	block := func(entity domain.EntityType, id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   entity,
			EntityID: id,
		})
	}
	for _, change := range changes {
		switch change.Entity {
		case domain.EntityNamespace:
			n, ok := change.After.(domain.Namespace)
			if !ok {
				continue
			}
			if current, found := view.FindNamespace(n.ID); found {
				n = current
			}
			if n.SamplesCount < 0 {
				block(domain.EntityNamespace, n.ID, fmt.Sprintf("samples count %d is negative", n.SamplesCount))
			}
			for _, k := range sortedKeys(n.MetadataSummary) {
				if n.MetadataSummary[k] < 0 {
					block(domain.EntityNamespace, n.ID, fmt.Sprintf("metadata summary %q is %d", k, n.MetadataSummary[k]))
				}
			}
		case domain.EntityProject:
			p, ok := change.After.(domain.Project)
			if !ok {
				continue
			}
			if current, found := view.FindProject(p.ID); found {
				p = current
			}
			if p.SamplesCount < 0 {
				block(domain.EntityProject, p.ID, fmt.Sprintf("samples count %d is negative", p.SamplesCount))
			}
		}
	}
	return res, nil
}
