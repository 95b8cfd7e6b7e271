package core

import (
	"context"
	"fmt"
	"maps"
)

// NamespaceDrift records an aggregate corrected by reconciliation.
type NamespaceDrift struct {
	NamespaceID   string         `json:"namespace_id"`
	CountBefore   int            `json:"count_before"`
	CountAfter    int            `json:"count_after"`
	SummaryBefore map[string]int `json:"summary_before,omitempty"`
	SummaryAfter  map[string]int `json:"summary_after,omitempty"`
}

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	RootID    string           `json:"root_id"`
	Checked   int              `json:"checked"`
	Corrected []NamespaceDrift `json:"corrected,omitempty"`
}

// Reconcile recomputes the aggregates of the subtree rooted at namespaceID
// from the live sample population and corrects any drift. The root's drift is
// propagated to its ancestors as a relative adjustment. It is a recovery
// tool for crashes between a mutation and its aggregate step.
func (s *Service) Reconcile(ctx context.Context, namespaceID string) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.run(ctx, operation{name: "reconcile_aggregates", entity: EntityNamespace, action: ActionUpdate},
		func(ctx context.Context) (string, int, error) {
			var err error
			report, err = s.aggregates.Reconcile(ctx, namespaceID)
			return namespaceID, 0, err
		})
	return report, err
}

type population struct {
	count int
	keys  map[string]int
}

// Reconcile is the maintainer side of Service.Reconcile.
func (m *AggregateMaintainer) Reconcile(ctx context.Context, rootID string) (ReconcileReport, error) {
	report := ReconcileReport{RootID: rootID}
	_, err := m.store.RunInTransaction(ctx, func(tx Transaction) error {
		report.Checked, report.Corrected = 0, nil
		view := tx.Snapshot()
		subtree, err := m.graph.Descendants(view, rootID)
		if err != nil {
			return err
		}
		truth := make(map[string]*population, len(subtree))
		for _, ns := range subtree {
			truth[ns.ID] = &population{keys: make(map[string]int)}
		}
		for i := len(subtree) - 1; i >= 0; i-- {
			ns := subtree[i]
			pop := truth[ns.ID]
			if ns.Kind == NamespaceProjectKind {
				if project, ok := view.FindProjectByNamespace(ns.ID); ok {
					samples := view.ListProjectSamples(project.ID)
					pop.count = len(samples)
					for _, smp := range samples {
						for _, k := range smp.MetadataKeys() {
							pop.keys[k]++
						}
					}
					if project.SamplesCount != pop.count {
						count := pop.count
						if _, err := tx.UpdateProject(project.ID, func(p *Project) error {
							p.SamplesCount = count
							return nil
						}); err != nil {
							return err
						}
					}
				}
			}
			if i > 0 && ns.ParentID != nil {
				parent := truth[*ns.ParentID]
				parent.count += pop.count
				for k, v := range pop.keys {
					parent.keys[k] += v
				}
			}
		}
		var rootDelta ProjectDelta
		for _, ns := range subtree {
			report.Checked++
			pop := truth[ns.ID]
			if ns.SamplesCount == pop.count && maps.Equal(nonZero(ns.MetadataSummary), pop.keys) {
				continue
			}
			drift := NamespaceDrift{
				NamespaceID:   ns.ID,
				CountBefore:   ns.SamplesCount,
				CountAfter:    pop.count,
				SummaryBefore: ns.MetadataSummary,
				SummaryAfter:  pop.keys,
			}
			report.Corrected = append(report.Corrected, drift)
			if ns.ID == rootID {
				rootDelta = summaryDiff(ns, pop)
			}
			if _, err := tx.UpdateNamespace(ns.ID, func(n *Namespace) error {
				n.SamplesCount = pop.count
				n.MetadataSummary = maps.Clone(pop.keys)
				return nil
			}); err != nil {
				return fmt.Errorf("reconcile %s: %w", ns.ID, err)
			}
		}
		if rootDelta.empty() {
			return nil
		}
		chain, err := m.graph.Ancestors(view, rootID)
		if err != nil {
			return err
		}
		for _, ancestorID := range chain[1:] {
			if _, err := tx.UpdateNamespace(ancestorID, func(n *Namespace) error {
				n.SamplesCount += rootDelta.Count
				n.MetadataSummary = adjustSummary(n.MetadataSummary, rootDelta.Keys)
				return nil
			}); err != nil {
				return fmt.Errorf("propagate drift to %s: %w", ancestorID, err)
			}
		}
		return nil
	})
	return report, err
}

func summaryDiff(stored Namespace, truth *population) ProjectDelta {
	d := ProjectDelta{Count: truth.count - stored.SamplesCount, Keys: make(map[string]int)}
	for k, v := range truth.keys {
		d.Keys[k] += v
	}
	for k, v := range stored.MetadataSummary {
		d.Keys[k] -= v
	}
	for k, v := range d.Keys {
		if v == 0 {
			delete(d.Keys, k)
		}
	}
	return d
}

func nonZero(summary map[string]int) map[string]int {
	out := make(map[string]int, len(summary))
	for k, v := range summary {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
