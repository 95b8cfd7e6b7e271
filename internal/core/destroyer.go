package core

import (
	"context"
	"fmt"
)

// Destroyer soft-deletes samples and removes them from the aggregates of
// their projects.
type Destroyer struct {
	store      PersistentStore
	aggregates *AggregateMaintainer
	clock      Clock
}

// NewDestroyer constructs a destroyer.
func NewDestroyer(store PersistentStore, aggregates *AggregateMaintainer, clock Clock) *Destroyer {
	return &Destroyer{store: store, aggregates: aggregates, clock: clock}
}

// Destroy marks the live candidates deleted and returns them grouped by project.
func (d *Destroyer) Destroy(ctx context.Context, candidates []Sample) ([]SourceGroup, error) {
	var removed []Sample
	deletedAt := d.clock.Now()
	_, err := d.store.RunInTransaction(ctx, func(tx Transaction) error {
		removed = removed[:0]
		view := tx.Snapshot()
		for _, s := range candidates {
			fresh, ok := view.FindSample(s.ID)
			if !ok || !fresh.Live() {
				continue
			}
			updated, err := tx.UpdateSample(s.ID, func(sample *Sample) error {
				sample.DeletedAt = &deletedAt
				return nil
			})
			if err != nil {
				return fmt.Errorf("destroy %s: %w", s.ID, err)
			}
			removed = append(removed, updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	groups := GroupBySource(removed)
	deltas := make([]ProjectDelta, len(groups))
	for i, g := range groups {
		deltas[i] = RemovedDelta(g.ProjectID, g.Samples)
	}
	if err := d.aggregates.Apply(ctx, deltas...); err != nil {
		return groups, fmt.Errorf("update aggregates: %w", err)
	}
	return groups, nil
}
