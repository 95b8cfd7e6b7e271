package core

import (
	"context"
	"fmt"
)

// TransferRequest asks to move samples into a destination project. ScopeID is
// the project or group namespace the request is issued from.
type TransferRequest struct {
	ActorID              string
	ScopeID              string
	DestinationProjectID string
	SampleIDs            []string
	// BroadcastTarget names the progress stream; empty uses the operation name.
	BroadcastTarget string
}

const opTransfer = "transfer_samples"

// Transfer moves the permitted, non-conflicting samples into the destination
// project. Per-sample conflicts are reported in the result; authorization
// failures, malformed input and infrastructure failures are returned as errors.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (OperationResult, error) {
	var result OperationResult
	err := s.run(ctx, operation{name: opTransfer, entity: EntitySample, action: ActionUpdate, actorID: req.ActorID},
		func(ctx context.Context) (string, int, error) {
			var err error
			result, err = s.transfer(ctx, req)
			return req.DestinationProjectID, len(result.IDs), err
		})
	return result, err
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) (OperationResult, error) {
	plan, err := s.planRelocation(ctx, req.ActorID, req.ScopeID, req.DestinationProjectID, req.SampleIDs, transferCaps)
	if err != nil {
		return rejectRequest(err)
	}
	if plan.policy != "" {
		return notApplied(CategoryPolicy, plan.policy), nil
	}
	var result OperationResult
	result.addFilterResult(plan.filter)
	if len(plan.filter.Authorized) == 0 {
		result.finish(0)
		return result, nil
	}

	s.reportProgress(ctx, opTransfer, req.BroadcastTarget, ProgressStarted)
	outcome, err := s.mover.Move(ctx, plan.dest, plan.filter.Authorized)
	if err != nil {
		s.logger.Error("transfer failed", "destination", plan.dest.ID, "error", err)
		result.Status = StatusNotApplied
		return result, fmt.Errorf("move samples into %s: %w", plan.dest.PUID, err)
	}
	result.addRejections(plan.dest, outcome.Rejected)
	result.IDs = requestOrder(req.SampleIDs, movedSamples(outcome.Moved))
	if len(outcome.Moved) > 0 {
		result.MovedBySource = make(map[string][]string, len(outcome.Moved))
	}
	deltas := make([]ProjectDelta, 0, 2*len(outcome.Moved))
	for _, g := range outcome.Moved {
		for _, smp := range g.Samples {
			result.MovedBySource[g.ProjectID] = append(result.MovedBySource[g.ProjectID], smp.ID)
		}
		deltas = append(deltas, RemovedDelta(g.ProjectID, g.Samples), AddedDelta(plan.dest.ID, g.Samples))
	}
	s.reportProgress(ctx, opTransfer, req.BroadcastTarget, ProgressCommitted)
	result.finish(len(result.IDs))
	s.logOutcome(opTransfer, result, len(result.IDs))

	if err := s.aggregates.Apply(ctx, deltas...); err != nil {
		s.logger.Error("aggregate update failed after transfer", "destination", plan.dest.ID, "error", err)
		return result, fmt.Errorf("update aggregates: %w", err)
	}
	activities := s.recorder.Transfer(req.ActorID, plan.scope, plan.dest, outcome.Moved, plan.projects)
	s.recordActivities(ctx, opTransfer, activities)
	s.reportProgress(ctx, opTransfer, req.BroadcastTarget, ProgressDone)
	return result, nil
}

func movedSamples(groups []SourceGroup) []Sample {
	var out []Sample
	for _, g := range groups {
		out = append(out, g.Samples...)
	}
	return out
}
