package core

import (
	"context"
	"errors"
	"fmt"
	"samplecore/internal/access"
	"strings"
)

// relocationCaps names the capabilities checked for a transfer or clone.
type relocationCaps struct {
	source access.Capability
	into   access.Capability
}

var (
	transferCaps = relocationCaps{source: access.CapTransferSample, into: access.CapTransferSampleIntoProject}
	cloneCaps    = relocationCaps{source: access.CapCloneSample, into: access.CapCloneSampleIntoProject}
)

// relocationPlan is everything a transfer or clone decides before mutating.
type relocationPlan struct {
	scope    Namespace
	dest     Project
	filter   access.FilterResult
	projects map[string]Project
	// policy is set when the maintainer hierarchy policy forbids the request.
	policy string
}

func (s *Service) resolveScope(view TransactionView, scopeID string) (Namespace, error) {
	if strings.TrimSpace(scopeID) == "" {
		return Namespace{}, malformed("scope namespace is required")
	}
	scope, ok := view.FindNamespace(scopeID)
	if !ok {
		return Namespace{}, ErrNotFound{Entity: EntityNamespace, ID: scopeID}
	}
	return scope, nil
}

// planRelocation authorizes and validates a transfer or clone request and
// filters its ids. Authorization failures and malformed input are returned as
// errors.
func (s *Service) planRelocation(ctx context.Context, actorID, scopeID, destID string, ids []string, caps relocationCaps) (relocationPlan, error) {
	var plan relocationPlan
	err := s.view(ctx, func(view TransactionView) error {
		scope, err := s.resolveScope(view, scopeID)
		if err != nil {
			return err
		}
		plan.scope = scope
		if err := s.authorizer.Authorize(view, actorID, scope.ID, caps.source); err != nil {
			return err
		}
		if len(ids) == 0 {
			return malformed("no samples were selected")
		}
		if strings.TrimSpace(destID) == "" {
			return malformed("destination project is required")
		}
		dest, ok := view.FindProject(destID)
		if !ok {
			return malformed("destination project %s does not exist", destID)
		}
		plan.dest = dest
		if !scope.IsGroup() {
			if source, ok := view.FindProjectByNamespace(scope.ID); ok && source.ID == dest.ID {
				return malformed("destination project %s is the source project", dest.PUID)
			}
		}
		if err := s.authorizer.Authorize(view, actorID, dest.NamespaceID, caps.into); err != nil {
			return err
		}
		if plan.policy, err = s.hierarchyPolicy(view, actorID, scope, dest); err != nil {
			return err
		}
		if plan.policy != "" {
			return nil
		}
		if plan.filter, err = s.authorizer.Filter(view, actorID, scope, ids, caps.source); err != nil {
			return err
		}
		plan.projects = projectsOf(view, plan.filter.Authorized, dest)
		return nil
	})
	return plan, err
}

// hierarchyPolicy returns a message when an actor whose effective level at
// scope is exactly Maintainer targets a project outside the subtree it was
// granted.
func (s *Service) hierarchyPolicy(view TransactionView, actorID string, scope Namespace, dest Project) (string, error) {
	level, err := s.authorizer.EffectiveLevel(view, scope.ID, actorID)
	if err != nil {
		return "", err
	}
	if level != AccessMaintainer {
		return "", nil
	}
	root := scope.ID
	if !scope.IsGroup() && !scope.IsRoot() {
		root = *scope.ParentID
	}
	inside, err := s.graph.Contains(view, root, dest.NamespaceID)
	if err != nil {
		return "", err
	}
	if inside {
		return "", nil
	}
	boundary, _ := view.FindNamespace(root)
	return fmt.Sprintf("maintainers of %s may only target projects within %s", scope.PUID, boundary.PUID), nil
}

func projectsOf(view TransactionView, samples []Sample, extra ...Project) map[string]Project {
	out := make(map[string]Project, len(extra)+1)
	for _, p := range extra {
		out[p.ID] = p
	}
	for _, smp := range samples {
		if _, ok := out[smp.ProjectID]; ok {
			continue
		}
		if p, ok := view.FindProject(smp.ProjectID); ok {
			out[p.ID] = p
		}
	}
	return out
}

// rejectRequest converts a planning error into the result returned to callers.
// Malformed input yields a not_applied result alongside the error.
func rejectRequest(err error) (OperationResult, error) {
	if errors.Is(err, ErrMalformedRequest) {
		return notApplied(CategoryMalformed, strings.TrimPrefix(err.Error(), ErrMalformedRequest.Error()+": ")), err
	}
	return OperationResult{Status: StatusNotApplied}, err
}

// requestOrder returns the ids of samples in the order they were requested.
func requestOrder(requested []string, samples []Sample) []string {
	present := make(map[string]struct{}, len(samples))
	for _, smp := range samples {
		present[smp.ID] = struct{}{}
	}
	var out []string
	for _, id := range requested {
		if _, ok := present[id]; ok {
			out = append(out, id)
			delete(present, id)
		}
	}
	return out
}

// recordActivities runs after the mutation has committed, so a sink failure is
// logged and does not change the operation's result.
func (s *Service) recordActivities(ctx context.Context, operation string, activities []Activity) {
	if len(activities) == 0 {
		return
	}
	if err := s.activities.Record(ctx, activities); err != nil {
		s.logger.Error("activity recording failed", "operation", operation, "activities", len(activities), "error", err)
	}
}

func (s *Service) logOutcome(operation string, result OperationResult, applied int) {
	if result.Status == StatusApplied {
		return
	}
	s.logger.Info("bulk operation incomplete", "operation", operation, "status", string(result.Status),
		"applied", applied, "entity_errors", len(result.EntityErrors))
}
