package core

import (
	"context"
	"fmt"
	"samplecore/internal/access"
)

// DestroyRequest asks to soft-delete samples.
type DestroyRequest struct {
	ActorID   string
	ScopeID   string
	SampleIDs []string
}

const opDestroy = "destroy_samples"

// Destroy soft-deletes the permitted samples and decrements the aggregates of
// every project that lost samples.
func (s *Service) Destroy(ctx context.Context, req DestroyRequest) (OperationResult, error) {
	var result OperationResult
	err := s.run(ctx, operation{name: opDestroy, entity: EntitySample, action: ActionDelete, actorID: req.ActorID},
		func(ctx context.Context) (string, int, error) {
			var err error
			result, err = s.destroy(ctx, req)
			return req.ScopeID, len(result.IDs), err
		})
	return result, err
}

func (s *Service) destroy(ctx context.Context, req DestroyRequest) (OperationResult, error) {
	var (
		scope    Namespace
		filter   access.FilterResult
		projects map[string]Project
	)
	err := s.view(ctx, func(view TransactionView) error {
		var err error
		if scope, err = s.resolveScope(view, req.ScopeID); err != nil {
			return err
		}
		if err := s.authorizer.Authorize(view, req.ActorID, scope.ID, access.CapDestroySample); err != nil {
			return err
		}
		if len(req.SampleIDs) == 0 {
			return malformed("no samples were selected")
		}
		if filter, err = s.authorizer.Filter(view, req.ActorID, scope, req.SampleIDs, access.CapDestroySample); err != nil {
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

	removed, err := s.destroyer.Destroy(ctx, filter.Authorized)
	result.IDs = requestOrder(req.SampleIDs, movedSamples(removed))
	result.finish(len(result.IDs))
	if err != nil {
		if len(result.IDs) == 0 {
			result.Status = StatusNotApplied
		}
		s.logger.Error("destroy failed", "scope", scope.ID, "error", err)
		return result, fmt.Errorf("destroy samples: %w", err)
	}
	s.logOutcome(opDestroy, result, len(result.IDs))
	s.recordActivities(ctx, opDestroy, s.recorder.Destroy(req.ActorID, scope, removed, projects))
	return result, nil
}
