package core

import (
	"context"
	"fmt"
)

// CloneRequest asks to copy samples into a destination project.
type CloneRequest struct {
	ActorID              string
	ScopeID              string
	DestinationProjectID string
	SampleIDs            []string
	BroadcastTarget      string
}

const opClone = "clone_samples"

// Clone copies the permitted, non-conflicting samples into the destination
// project. The result maps original ids to clone ids.
func (s *Service) Clone(ctx context.Context, req CloneRequest) (OperationResult, error) {
	var result OperationResult
	err := s.run(ctx, operation{name: opClone, entity: EntitySample, action: ActionCreate, actorID: req.ActorID},
		func(ctx context.Context) (string, int, error) {
			var err error
			result, err = s.clone(ctx, req)
			return req.DestinationProjectID, len(result.Clones), err
		})
	return result, err
}

func (s *Service) clone(ctx context.Context, req CloneRequest) (OperationResult, error) {
	plan, err := s.planRelocation(ctx, req.ActorID, req.ScopeID, req.DestinationProjectID, req.SampleIDs, cloneCaps)
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

	s.reportProgress(ctx, opClone, req.BroadcastTarget, ProgressStarted)
	outcome, err := s.cloner.Clone(ctx, plan.dest, plan.filter.Authorized)
	for _, f := range outcome.Failed {
		result.addEntityError(f.ID, f.Category, f.Message)
		result.addNamespaceError(f.Category, f.Message)
	}
	result.addRejections(plan.dest, outcome.Rejected)
	if len(outcome.Pairs) > 0 {
		result.Clones = make(map[string]string, len(outcome.Pairs))
		for _, p := range outcome.Pairs {
			result.Clones[p.Original.ID] = p.Clone.ID
		}
	}
	if err != nil {
		result.addNamespaceError(CategoryCloneFailed, fmt.Sprintf("Samples could not be cloned into %s: %v", plan.dest.Name, err))
	}
	result.finish(len(outcome.Pairs))
	if err != nil {
		s.logger.Error("clone failed", "destination", plan.dest.ID, "error", err)
		return result, fmt.Errorf("clone samples into %s: %w", plan.dest.PUID, err)
	}
	s.reportProgress(ctx, opClone, req.BroadcastTarget, ProgressCommitted)
	s.logOutcome(opClone, result, len(outcome.Pairs))

	activities := s.recorder.Clone(req.ActorID, plan.scope, plan.dest, outcome.Pairs, plan.projects)
	s.recordActivities(ctx, opClone, activities)
	s.reportProgress(ctx, opClone, req.BroadcastTarget, ProgressDone)
	return result, nil
}
