package core

import (
	"context"
	"fmt"
	"samplecore/internal/access"
)

// MetadataRequest writes metadata fields on a batch of samples. A blank value
// deletes the field.
type MetadataRequest struct {
	ActorID string
	ScopeID string
	// Updates maps sample ids to the fields written on each.
	Updates map[string]map[string]string
	Source  MetadataSource
	// SourceID attributes the write; empty uses ActorID.
	SourceID string
	// Force refreshes provenance on fields whose value is unchanged.
	Force bool
}

const opMetadata = "update_sample_metadata"

// UpdateMetadata applies provenance-gated field writes and adjusts the
// metadata summaries of the owning namespace chains in the same transaction.
func (s *Service) UpdateMetadata(ctx context.Context, req MetadataRequest) (OperationResult, error) {
	var result OperationResult
	err := s.run(ctx, operation{name: opMetadata, entity: EntitySample, action: ActionUpdate, actorID: req.ActorID},
		func(ctx context.Context) (string, int, error) {
			var err error
			result, err = s.updateMetadata(ctx, req)
			return req.ScopeID, len(result.IDs), err
		})
	return result, err
}

func (s *Service) updateMetadata(ctx context.Context, req MetadataRequest) (OperationResult, error) {
	ids := sortedKeys(req.Updates)
	var (
		filter   access.FilterResult
		projects map[string]Project
	)
	err := s.view(ctx, func(view TransactionView) error {
		scope, err := s.resolveScope(view, req.ScopeID)
		if err != nil {
			return err
		}
		if err := s.authorizer.Authorize(view, req.ActorID, scope.ID, access.CapUpdateSampleMetadata); err != nil {
			return err
		}
		if len(ids) == 0 {
			return malformed("no samples were selected")
		}
		switch req.Source {
		case SourceUser, SourceAnalysis:
		default:
			return malformed("unknown metadata source %q", req.Source)
		}
		if filter, err = s.authorizer.Filter(view, req.ActorID, scope, ids, access.CapUpdateSampleMetadata); err != nil {
			return err
		}
		projects = projectsOf(view, filter.Authorized)
		return nil
	})
	if err != nil {
		return rejectRequest(err)
	}
	var result OperationResult
	result.addFilterResult(filter)
	if len(filter.Authorized) == 0 {
		result.finish(0)
		return result, nil
	}

	sourceID := req.SourceID
	if sourceID == "" {
		sourceID = req.ActorID
	}
	now := s.now()
	var mutator MetadataMutator
	var changed []Sample
	outcomes := make(map[string]MetadataChanges, len(filter.Authorized))
	_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		changed = changed[:0]
		view := tx.Snapshot()
		var deltas []ProjectDelta
		for _, candidate := range filter.Authorized {
			current, ok := view.FindSample(candidate.ID)
			if !ok || !current.Live() {
				continue
			}
			next, changes := mutator.Apply(current, req.Updates[candidate.ID], req.Source, sourceID, req.Force, now)
			outcomes[candidate.ID] = changes
			if !changes.Changed() {
				continue
			}
			updated, err := tx.UpdateSample(current.ID, func(smp *Sample) error {
				smp.Metadata = next.Metadata
				smp.MetadataProvenance = next.MetadataProvenance
				return nil
			})
			if err != nil {
				return fmt.Errorf("update metadata of %s: %w", current.ID, err)
			}
			changed = append(changed, updated)
			deltas = append(deltas, MetadataDelta(current.ProjectID, current, updated))
		}
		return s.aggregates.ApplyInTx(tx, deltas...)
	})
	if err != nil {
		s.logger.Error("metadata update failed", "scope", req.ScopeID, "error", err)
		result.Status = StatusNotApplied
		return result, fmt.Errorf("update metadata: %w", err)
	}
	result.Metadata = outcomes
	result.IDs = requestOrder(ids, changed)
	result.finish(len(outcomes))
	s.logOutcome(opMetadata, result, len(result.IDs))
	activities := s.recorder.MetadataUpdate(req.ActorID, GroupBySource(changed), outcomes, projects)
	s.recordActivities(ctx, opMetadata, activities)
	return result, nil
}
