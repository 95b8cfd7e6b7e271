package core

import (
	"context"
	"fmt"
	"samplecore/internal/lock"
)

// SourceGroup holds the candidates currently owned by one source project.
type SourceGroup struct {
	ProjectID string
	Samples   []Sample
}

// GroupBySource partitions candidates by current project, keeping the order
// in which each project first appears.
func GroupBySource(candidates []Sample) []SourceGroup {
	index := make(map[string]int)
	var groups []SourceGroup
	for _, s := range candidates {
		i, ok := index[s.ProjectID]
		if !ok {
			i = len(groups)
			index[s.ProjectID] = i
			groups = append(groups, SourceGroup{ProjectID: s.ProjectID})
		}
		groups[i].Samples = append(groups[i].Samples, s)
	}
	return groups
}

// MoveOutcome reports the authoritative result of a serialized move.
type MoveOutcome struct {
	// Moved holds, per source project in input order, the samples as they now
	// sit in the destination. Groups that moved nothing are omitted.
	Moved    []SourceGroup
	Rejected []Rejection
}

// MovedIDs flattens Moved.
func (o MoveOutcome) MovedIDs() []string {
	var ids []string
	for _, g := range o.Moved {
		for _, s := range g.Samples {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// SerializedMover reassigns samples to a destination project while holding
// the destination lock, so conflict checking and writing form one section.
type SerializedMover struct {
	store     PersistentStore
	locker    lock.Locker
	validator ConflictValidator

	// afterPreflight runs between the unlocked conflict check and lock
	// acquisition.
	afterPreflight func()
}

// NewSerializedMover constructs a mover.
func NewSerializedMover(store PersistentStore, locker lock.Locker, validator ConflictValidator) *SerializedMover {
	return &SerializedMover{store: store, locker: locker, validator: validator}
}

// Move relocates candidates into dest. Candidates rejected by the conflict
// check are reported and left in place.
func (m *SerializedMover) Move(ctx context.Context, dest Project, candidates []Sample) (MoveOutcome, error) {
	var outcome MoveOutcome
	var preflight []Sample
	if err := m.store.View(ctx, func(view TransactionView) error {
		preflight, outcome.Rejected = m.validator.Validate(view, dest, candidates)
		return nil
	}); err != nil {
		return outcome, err
	}
	if m.afterPreflight != nil {
		m.afterPreflight()
	}
	if len(preflight) == 0 {
		// Nothing can move; the preflight rejections are final.
		return outcome, nil
	}

	groups := GroupBySource(candidates)
	reassigned := make(map[string]string)
	err := m.locker.WithLock(ctx, lock.DestinationKey(dest.PUID), func(ctx context.Context) error {
		outcome.Rejected = nil
		for id := range reassigned {
			delete(reassigned, id)
		}
		_, err := m.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			for _, group := range groups {
				current := make([]Sample, 0, len(group.Samples))
				for _, s := range group.Samples {
					fresh, ok := view.FindSample(s.ID)
					if !ok || !fresh.Live() || (fresh.ProjectID != group.ProjectID && fresh.ProjectID != dest.ID) {
						outcome.Rejected = append(outcome.Rejected, Rejection{SampleID: s.ID, Name: s.Name, Reason: ReasonGone})
						continue
					}
					current = append(current, fresh)
				}
				eligible, rejected := m.validator.Validate(view, dest, current)
				outcome.Rejected = append(outcome.Rejected, rejected...)
				if len(eligible) == 0 {
					continue
				}
				ids := make([]string, len(eligible))
				for i, s := range eligible {
					ids[i] = s.ID
				}
				moved, err := tx.ReassignSamples(ids, group.ProjectID, dest.ID)
				if err != nil {
					return fmt.Errorf("reassign from %s: %w", group.ProjectID, err)
				}
				for _, id := range moved {
					reassigned[id] = group.ProjectID
				}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return MoveOutcome{}, err
	}

	// Re-read outside the lock: only candidates that now sit in the
	// destination and were reassigned by this call count as moved.
	err = m.store.View(ctx, func(view TransactionView) error {
		for _, group := range groups {
			var moved []Sample
			for _, s := range group.Samples {
				if reassigned[s.ID] != group.ProjectID {
					continue
				}
				fresh, ok := view.FindSample(s.ID)
				if !ok || fresh.ProjectID != dest.ID || group.ProjectID == dest.ID {
					continue
				}
				moved = append(moved, fresh)
			}
			if len(moved) > 0 {
				outcome.Moved = append(outcome.Moved, SourceGroup{ProjectID: group.ProjectID, Samples: moved})
			}
		}
		return nil
	})
	return outcome, err
}
