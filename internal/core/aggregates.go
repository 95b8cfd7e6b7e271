package core

import (
	"context"
	"fmt"
	"samplecore/internal/hierarchy"
	"sort"
)

// ProjectDelta is a relative change to the sample population of one project.
type ProjectDelta struct {
	ProjectID string
	Count     int
	Keys      map[string]int
}

func (d ProjectDelta) empty() bool {
	if d.Count != 0 {
		return false
	}
	for _, v := range d.Keys {
		if v != 0 {
			return false
		}
	}
	return true
}

// AddedDelta counts samples arriving in a project.
func AddedDelta(projectID string, samples []Sample) ProjectDelta {
	return populationDelta(projectID, samples, 1)
}

// RemovedDelta counts samples leaving a project.
func RemovedDelta(projectID string, samples []Sample) ProjectDelta {
	return populationDelta(projectID, samples, -1)
}

func populationDelta(projectID string, samples []Sample, sign int) ProjectDelta {
	d := ProjectDelta{ProjectID: projectID, Count: sign * len(samples), Keys: make(map[string]int)}
	for _, s := range samples {
		for _, k := range s.MetadataKeys() {
			d.Keys[k] += sign
		}
	}
	return d
}

// MetadataDelta diffs the counted keys of a sample before and after a
// metadata write. The sample count is unchanged.
func MetadataDelta(projectID string, before, after Sample) ProjectDelta {
	d := ProjectDelta{ProjectID: projectID, Keys: make(map[string]int)}
	for _, k := range before.MetadataKeys() {
		d.Keys[k]--
	}
	for _, k := range after.MetadataKeys() {
		d.Keys[k]++
	}
	for k, v := range d.Keys {
		if v == 0 {
			delete(d.Keys, k)
		}
	}
	return d
}

// AggregateMaintainer is the only writer of namespace sample counts, metadata
// summaries and project sample counts. Every write is a relative adjustment
// applied to each namespace on the ancestor chain of the affected project.
type AggregateMaintainer struct {
	store PersistentStore
	graph *hierarchy.Graph
}

// NewAggregateMaintainer constructs a maintainer over store.
func NewAggregateMaintainer(store PersistentStore, graph *hierarchy.Graph) *AggregateMaintainer {
	return &AggregateMaintainer{store: store, graph: graph}
}

// Apply commits deltas in their own transaction.
func (m *AggregateMaintainer) Apply(ctx context.Context, deltas ...ProjectDelta) error {
	if allEmpty(deltas) {
		return nil
	}
	_, err := m.store.RunInTransaction(ctx, func(tx Transaction) error {
		return m.ApplyInTx(tx, deltas...)
	})
	return err
}

// ApplyInTx folds deltas into an open transaction.
func (m *AggregateMaintainer) ApplyInTx(tx Transaction, deltas ...ProjectDelta) error {
	view := tx.Snapshot()
	projectCounts := make(map[string]int)
	namespaces := make(map[string]*ProjectDelta)
	for _, d := range deltas {
		if d.empty() {
			continue
		}
		project, ok := view.FindProject(d.ProjectID)
		if !ok {
			return ErrNotFound{Entity: EntityProject, ID: d.ProjectID}
		}
		projectCounts[project.ID] += d.Count
		chain, err := m.graph.Ancestors(view, project.NamespaceID)
		if err != nil {
			return fmt.Errorf("ancestors of %s: %w", project.NamespaceID, err)
		}
		for _, nsID := range chain {
			acc, ok := namespaces[nsID]
			if !ok {
				acc = &ProjectDelta{Keys: make(map[string]int)}
				namespaces[nsID] = acc
			}
			acc.Count += d.Count
			for k, v := range d.Keys {
				acc.Keys[k] += v
			}
		}
	}
	for _, nsID := range sortedKeys(namespaces) {
		acc := namespaces[nsID]
		if acc.empty() {
			continue
		}
		if _, err := tx.UpdateNamespace(nsID, func(n *Namespace) error {
			n.SamplesCount += acc.Count
			n.MetadataSummary = adjustSummary(n.MetadataSummary, acc.Keys)
			return nil
		}); err != nil {
			return err
		}
	}
	for _, projectID := range sortedKeys(projectCounts) {
		delta := projectCounts[projectID]
		if delta == 0 {
			continue
		}
		if _, err := tx.UpdateProject(projectID, func(p *Project) error {
			p.SamplesCount += delta
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func adjustSummary(summary map[string]int, keys map[string]int) map[string]int {
	out := make(map[string]int, len(summary)+len(keys))
	for k, v := range summary {
		out[k] = v
	}
	for k, v := range keys {
		out[k] += v
		if out[k] == 0 {
			delete(out, k)
		}
	}
	return out
}

func allEmpty(deltas []ProjectDelta) bool {
	for _, d := range deltas {
		if !d.empty() {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
