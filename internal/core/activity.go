package core

import (
	"context"
	"fmt"
)

// Activity keys.
const (
	ActivityTransfer        = "project_sample_transfer"
	ActivityTransferredFrom = "project_sample_transferred_from"
	ActivityClone           = "project_sample_clone"
	ActivityClonedFrom      = "project_sample_cloned_from"
	ActivityDestroy         = "project_sample_destroy"
	ActivityMetadataUpdate  = "project_sample_metadata_update"
	ActivityGroupTransfer   = "group_samples_transfer"
	ActivityGroupClone      = "group_samples_clone"
	ActivityGroupDestroy    = "group_samples_destroy"
)

// ActivitySink persists activity records.
type ActivitySink interface {
	Record(ctx context.Context, activities []Activity) error
}

// ActivitySinkFunc adapts a function to ActivitySink.
type ActivitySinkFunc func(ctx context.Context, activities []Activity) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, activities []Activity) error {
	return f(ctx, activities)
}

type storeActivitySink struct {
	store PersistentStore
}

// NewStoreActivitySink writes activities through the store in one transaction.
func NewStoreActivitySink(store PersistentStore) ActivitySink {
	return storeActivitySink{store: store}
}

func (s storeActivitySink) Record(ctx context.Context, activities []Activity) error {
	if len(activities) == 0 {
		return nil
	}
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		for _, a := range activities {
			if _, err := tx.CreateActivity(a); err != nil {
				return fmt.Errorf("record %s on %s: %w", a.Key, a.NamespaceID, err)
			}
		}
		return nil
	})
	return err
}

// ActivityRecorder builds one activity per affected namespace per operation.
type ActivityRecorder struct{}

func entitiesOf(samples []Sample) []ActivityEntity {
	out := make([]ActivityEntity, len(samples))
	for i, s := range samples {
		out[i] = ActivityEntity{SampleID: s.ID, SamplePUID: s.PUID, SampleName: s.Name}
	}
	return out
}

// Transfer builds the source, destination and optional group records for a move.
func (ActivityRecorder) Transfer(actorID string, scope Namespace, dest Project, moved []SourceGroup, projects map[string]Project) []Activity {
	if len(moved) == 0 {
		return nil
	}
	var out []Activity
	var all []Sample
	for _, g := range moved {
		src := projects[g.ProjectID]
		all = append(all, g.Samples...)
		out = append(out, Activity{
			NamespaceID: src.NamespaceID,
			Key:         ActivityTransfer,
			ActorID:     actorID,
			Payload: ActivityPayload{
				Count:           len(g.Samples),
				Entities:        entitiesOf(g.Samples),
				TargetProjectID: dest.ID,
			},
		})
	}
	incoming := ActivityPayload{Count: len(all), Entities: entitiesOf(all)}
	if len(moved) == 1 {
		incoming.SourceProjectID = moved[0].ProjectID
	}
	out = append(out, Activity{NamespaceID: dest.NamespaceID, Key: ActivityTransferredFrom, ActorID: actorID, Payload: incoming})
	if scope.IsGroup() {
		out = append(out, Activity{
			NamespaceID: scope.ID,
			Key:         ActivityGroupTransfer,
			ActorID:     actorID,
			Payload:     ActivityPayload{Count: len(all), Entities: entitiesOf(all), TargetProjectID: dest.ID},
		})
	}
	return out
}

// ClonePair links an original sample to its copy.
type ClonePair struct {
	Original Sample
	Clone    Sample
}

func cloneEntities(pairs []ClonePair) []ActivityEntity {
	out := make([]ActivityEntity, len(pairs))
	for i, p := range pairs {
		out[i] = ActivityEntity{
			SampleID:   p.Original.ID,
			SamplePUID: p.Original.PUID,
			SampleName: p.Original.Name,
			CloneID:    p.Clone.ID,
			ClonePUID:  p.Clone.PUID,
		}
	}
	return out
}

// Clone builds the source, destination and optional group records for a copy.
func (ActivityRecorder) Clone(actorID string, scope Namespace, dest Project, pairs []ClonePair, projects map[string]Project) []Activity {
	if len(pairs) == 0 {
		return nil
	}
	bySource := make(map[string][]ClonePair)
	var order []string
	for _, p := range pairs {
		src := p.Original.ProjectID
		if _, ok := bySource[src]; !ok {
			order = append(order, src)
		}
		bySource[src] = append(bySource[src], p)
	}
	var out []Activity
	for _, src := range order {
		group := bySource[src]
		out = append(out, Activity{
			NamespaceID: projects[src].NamespaceID,
			Key:         ActivityClone,
			ActorID:     actorID,
			Payload: ActivityPayload{
				Count:           len(group),
				Entities:        cloneEntities(group),
				TargetProjectID: dest.ID,
			},
		})
	}
	incoming := ActivityPayload{Count: len(pairs), Entities: cloneEntities(pairs)}
	if len(order) == 1 {
		incoming.SourceProjectID = order[0]
	}
	out = append(out, Activity{NamespaceID: dest.NamespaceID, Key: ActivityClonedFrom, ActorID: actorID, Payload: incoming})
	if scope.IsGroup() {
		out = append(out, Activity{
			NamespaceID: scope.ID,
			Key:         ActivityGroupClone,
			ActorID:     actorID,
			Payload:     ActivityPayload{Count: len(pairs), Entities: cloneEntities(pairs), TargetProjectID: dest.ID},
		})
	}
	return out
}

// Destroy builds one record per project that lost samples and an optional
// group rollup.
func (ActivityRecorder) Destroy(actorID string, scope Namespace, removed []SourceGroup, projects map[string]Project) []Activity {
	if len(removed) == 0 {
		return nil
	}
	var out []Activity
	var all []Sample
	for _, g := range removed {
		all = append(all, g.Samples...)
		out = append(out, Activity{
			NamespaceID: projects[g.ProjectID].NamespaceID,
			Key:         ActivityDestroy,
			ActorID:     actorID,
			Payload:     ActivityPayload{Count: len(g.Samples), Entities: entitiesOf(g.Samples)},
		})
	}
	if scope.IsGroup() {
		out = append(out, Activity{
			NamespaceID: scope.ID,
			Key:         ActivityGroupDestroy,
			ActorID:     actorID,
			Payload:     ActivityPayload{Count: len(all), Entities: entitiesOf(all)},
		})
	}
	return out
}

// MetadataUpdate builds one record per project whose samples changed fields.
func (ActivityRecorder) MetadataUpdate(actorID string, changed []SourceGroup, changes map[string]MetadataChanges, projects map[string]Project) []Activity {
	var out []Activity
	for _, g := range changed {
		payload := ActivityPayload{Count: len(g.Samples), Entities: entitiesOf(g.Samples)}
		added, updated, deleted := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
		for _, s := range g.Samples {
			c := changes[s.ID]
			collect(added, c.Added)
			collect(updated, c.Updated)
			collect(deleted, c.Deleted)
		}
		payload.Added = sortedKeys(added)
		payload.Updated = sortedKeys(updated)
		payload.Deleted = sortedKeys(deleted)
		out = append(out, Activity{
			NamespaceID: projects[g.ProjectID].NamespaceID,
			Key:         ActivityMetadataUpdate,
			ActorID:     actorID,
			Payload:     payload,
		})
	}
	return out
}

func collect(set map[string]struct{}, keys []string) {
	for _, k := range keys {
		set[k] = struct{}{}
	}
}
