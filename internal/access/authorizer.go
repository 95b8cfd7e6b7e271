// Package access computes effective access levels from inherited namespace
// memberships and filters requested sample ids down to those a caller may
// act on.
package access

import (
	"fmt"
	"samplecore/internal/hierarchy"
	"samplecore/pkg/domain"
	"time"
)

// Capability names an action checked against the caller's effective level.
type Capability string

const (
	CapReadSample                Capability = "read_sample"
	CapTransferSample            Capability = "transfer_sample"
	CapTransferSampleIntoProject Capability = "transfer_sample_into_project"
	CapCloneSample               Capability = "clone_sample"
	CapCloneSampleIntoProject    Capability = "clone_sample_into_project"
	CapDestroySample             Capability = "destroy_sample"
	CapUpdateSampleMetadata      Capability = "update_sample_metadata"
	CapCreateSample              Capability = "create_sample"
	CapManageNamespace           Capability = "manage_namespace"
)

var minimumLevels = map[Capability]domain.AccessLevel{
	CapReadSample:                domain.AccessGuest,
	CapTransferSample:            domain.AccessMaintainer,
	CapTransferSampleIntoProject: domain.AccessMaintainer,
	CapCloneSample:               domain.AccessAnalyst,
	CapCloneSampleIntoProject:    domain.AccessMaintainer,
	CapDestroySample:             domain.AccessMaintainer,
	CapUpdateSampleMetadata:      domain.AccessMaintainer,
	CapCreateSample:              domain.AccessUploader,
	CapManageNamespace:           domain.AccessOwner,
}

// MinimumLevel returns the level required for c.
func MinimumLevel(c Capability) (domain.AccessLevel, bool) {
	lvl, ok := minimumLevels[c]
	return lvl, ok
}

// View is the read access the authorizer needs.
type View interface {
	hierarchy.Source
	ListMemberships(userID string) []domain.Membership
}

// AuthorizationError reports that an actor lacks a capability at a namespace.
type AuthorizationError struct {
	ActorID     string
	Capability  Capability
	NamespaceID string
	Level       domain.AccessLevel
	Required    domain.AccessLevel
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s is not allowed to %s in namespace %s (level %s, requires %s)",
		e.ActorID, e.Capability, e.NamespaceID, e.Level, e.Required)
}

// Authorizer evaluates capabilities against inherited memberships.
type Authorizer struct {
	graph *hierarchy.Graph
	now   func() time.Time
}

// NewAuthorizer constructs an authorizer. A nil now uses time.Now.
func NewAuthorizer(graph *hierarchy.Graph, now func() time.Time) *Authorizer {
	if now == nil {
		now = time.Now
	}
	return &Authorizer{graph: graph, now: now}
}

// EffectiveLevel returns the highest active membership level the user holds
// at namespaceID or any of its ancestors.
func (a *Authorizer) EffectiveLevel(view View, namespaceID, userID string) (domain.AccessLevel, error) {
	chain, err := a.graph.Ancestors(view, namespaceID)
	if err != nil {
		return domain.AccessNone, err
	}
	memberships := view.ListMemberships(userID)
	if len(memberships) == 0 {
		return domain.AccessNone, nil
	}
	now := a.now()
	levels := make(map[string]domain.AccessLevel, len(memberships))
	for _, m := range memberships {
		if !m.ActiveAt(now) {
			continue
		}
		if m.AccessLevel > levels[m.NamespaceID] {
			levels[m.NamespaceID] = m.AccessLevel
		}
	}
	effective := domain.AccessNone
	for _, id := range chain {
		if lvl := levels[id]; lvl > effective {
			effective = lvl
		}
	}
	return effective, nil
}

// Can reports whether userID holds capability c at namespaceID.
func (a *Authorizer) Can(view View, userID, namespaceID string, c Capability) (bool, error) {
	required, ok := MinimumLevel(c)
	if !ok {
		return false, fmt.Errorf("unknown capability %q", c)
	}
	lvl, err := a.EffectiveLevel(view, namespaceID, userID)
	if err != nil {
		return false, err
	}
	return lvl >= required, nil
}

// Authorize returns an AuthorizationError when userID lacks c at namespaceID.
func (a *Authorizer) Authorize(view View, userID, namespaceID string, c Capability) error {
	required, ok := MinimumLevel(c)
	if !ok {
		return fmt.Errorf("unknown capability %q", c)
	}
	lvl, err := a.EffectiveLevel(view, namespaceID, userID)
	if err != nil {
		return err
	}
	if lvl < required {
		return AuthorizationError{ActorID: userID, Capability: c, NamespaceID: namespaceID, Level: lvl, Required: required}
	}
	return nil
}

// Graph exposes the hierarchy used for inheritance.
func (a *Authorizer) Graph() *hierarchy.Graph { return a.graph }
