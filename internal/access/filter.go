package access

import (
	"fmt"
	"samplecore/pkg/domain"
	"strings"
)

// Error categories reported by Filter.
const (
	CategoryNotFound     = "not_found"
	CategoryUnauthorized = "unauthorized"
)

// FilterView is the read access Filter needs.
type FilterView interface {
	View
	FindSample(id string) (domain.Sample, bool)
	FindProject(id string) (domain.Project, bool)
	FindProjectByNamespace(namespaceID string) (domain.Project, bool)
}

// Message is a user-facing error line covering one or more ids.
type Message struct {
	Category string
	IDs      []string
	Text     string
}

// FilterResult partitions a requested id list.
type FilterResult struct {
	// Authorized holds the permitted live samples in request order.
	Authorized   []domain.Sample
	NotFound     []string
	Unauthorized []string
	// Messages are ready for the caller's namespace-level error list.
	Messages []Message
}

// AuthorizedIDs returns the ids of Authorized.
func (r FilterResult) AuthorizedIDs() []string {
	ids := make([]string, len(r.Authorized))
	for i, s := range r.Authorized {
		ids[i] = s.ID
	}
	return ids
}

// Filter resolves ids within scope, keeping the live samples the user holds c
// on. Under a project scope rows outside the project and rows the user may
// not touch are reported as not found; under a group scope they are reported
// as unauthorized.
func (a *Authorizer) Filter(view FilterView, userID string, scope domain.Namespace, ids []string, c Capability) (FilterResult, error) {
	required, ok := MinimumLevel(c)
	if !ok {
		return FilterResult{}, fmt.Errorf("unknown capability %q", c)
	}
	var scopeProjectID string
	if scope.Kind == domain.NamespaceProject {
		p, ok := view.FindProjectByNamespace(scope.ID)
		if !ok {
			return FilterResult{}, fmt.Errorf("scope %s has no project", scope.ID)
		}
		scopeProjectID = p.ID
	}
	levels := make(map[string]domain.AccessLevel)
	var res FilterResult
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sample, ok := view.FindSample(id)
		if !ok || !sample.Live() {
			res.NotFound = append(res.NotFound, id)
			continue
		}
		project, ok := view.FindProject(sample.ProjectID)
		if !ok {
			res.NotFound = append(res.NotFound, id)
			continue
		}
		inScope, err := a.inScope(view, scope, scopeProjectID, project)
		if err != nil {
			return FilterResult{}, err
		}
		if !inScope {
			res.Unauthorized = append(res.Unauthorized, id)
			continue
		}
		lvl, cached := levels[project.NamespaceID]
		if !cached {
			lvl, err = a.EffectiveLevel(view, project.NamespaceID, userID)
			if err != nil {
				return FilterResult{}, err
			}
			levels[project.NamespaceID] = lvl
		}
		if lvl < required {
			res.Unauthorized = append(res.Unauthorized, id)
			continue
		}
		res.Authorized = append(res.Authorized, sample)
	}
	res.Messages = messages(scope, res.NotFound, res.Unauthorized)
	return res, nil
}

func (a *Authorizer) inScope(view FilterView, scope domain.Namespace, scopeProjectID string, project domain.Project) (bool, error) {
	if scope.Kind == domain.NamespaceProject {
		return project.ID == scopeProjectID, nil
	}
	return a.graph.Contains(view, scope.ID, project.NamespaceID)
}

func messages(scope domain.Namespace, notFound, unauthorized []string) []Message {
	var out []Message
	if scope.Kind == domain.NamespaceProject {
		merged := append(append([]string(nil), notFound...), unauthorized...)
		if len(merged) > 0 {
			out = append(out, Message{
				Category: CategoryNotFound,
				IDs:      merged,
				Text:     "Samples not found in project " + scope.PUID + ": " + strings.Join(merged, ", "),
			})
		}
		return out
	}
	if len(notFound) > 0 {
		out = append(out, Message{
			Category: CategoryNotFound,
			IDs:      notFound,
			Text:     "Samples not found: " + strings.Join(notFound, ", "),
		})
	}
	if len(unauthorized) > 0 {
		out = append(out, Message{
			Category: CategoryUnauthorized,
			IDs:      unauthorized,
			Text:     "Not authorized to act on samples in group " + scope.PUID + ": " + strings.Join(unauthorized, ", "),
		})
	}
	return out
}
