package core

import (
	"errors"
	"testing"
	"time"
)

func TestDestroySoftDeletesAndDecrements(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(stubClock{t: fixed}))
	a := f.sample(t, f.p1, "A", map[string]string{"host": "human"})
	b := f.sample(t, f.p2, "B", map[string]string{"host": "mouse"})
	keep := f.sample(t, f.p2, "keep", map[string]string{"host": "cow"})

	res, err := f.svc.Destroy(f.ctx, DestroyRequest{
		ActorID:   ownerID,
		ScopeID:   f.lab.ID,
		SampleIDs: []string{a.ID, b.ID},
	})
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if res.Status != StatusApplied || len(res.IDs) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	gone := f.stored(t, a.ID)
	if gone.Live() || !gone.DeletedAt.Equal(fixed) {
		t.Fatalf("expected soft delete at %v, got %+v", fixed, gone.DeletedAt)
	}
	if got := f.namespace(t, f.lab.ID); got.SamplesCount != 1 || got.MetadataSummary["host"] != 1 {
		t.Fatalf("unexpected lab aggregates %+v", got)
	}
	if f.stored(t, keep.ID).DeletedAt != nil {
		t.Fatalf("unrelated sample deleted")
	}
	assertCountInvariant(t, f)

	for _, p := range []Project{f.p1, f.p2} {
		acts := f.activities(t, p.NamespaceID)
		if len(acts) != 1 || acts[0].Key != ActivityDestroy || acts[0].Payload.Count != 1 {
			t.Fatalf("unexpected activities for %s: %+v", p.Name, acts)
		}
	}
	if rollup := f.activities(t, f.lab.ID); len(rollup) != 1 || rollup[0].Payload.Count != 2 {
		t.Fatalf("unexpected rollup %+v", rollup)
	}

	// A second destroy finds nothing live.
	res, err = f.svc.Destroy(f.ctx, DestroyRequest{ActorID: ownerID, ScopeID: f.lab.ID, SampleIDs: []string{a.ID}})
	if err != nil {
		t.Fatalf("destroy again: %v", err)
	}
	if res.Status != StatusNotApplied || len(res.EntityErrorsFor(CategoryNotFound)) != 1 {
		t.Fatalf("expected not_found, got %+v", res)
	}
	assertCountInvariant(t, f)
}

func TestDestroyedNameCanBeReused(t *testing.T) {
	f := newFixture(t)
	old := f.sample(t, f.p1, "S", nil)
	if _, err := f.svc.Destroy(f.ctx, DestroyRequest{ActorID: ownerID, ScopeID: f.p1.NamespaceID, SampleIDs: []string{old.ID}}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	f.sample(t, f.p1, "S", nil)
	assertCountInvariant(t, f)
}

func TestDestroyValidation(t *testing.T) {
	f := newFixture(t)
	s := f.sample(t, f.p1, "S", nil)
	if _, err := f.svc.Destroy(f.ctx, DestroyRequest{ActorID: ownerID, ScopeID: f.p1.NamespaceID}); !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := f.svc.AddMember(f.ctx, ownerID, analystID, f.lab.ID, AccessAnalyst, nil); err != nil {
		t.Fatalf("add analyst: %v", err)
	}
	if _, err := f.svc.Destroy(f.ctx, DestroyRequest{ActorID: analystID, ScopeID: f.p1.NamespaceID, SampleIDs: []string{s.ID}}); !IsAuthorizationError(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	var nf ErrNotFound
	if _, err := f.svc.Destroy(f.ctx, DestroyRequest{ActorID: ownerID, ScopeID: "nope", SampleIDs: []string{s.ID}}); !errors.As(err, &nf) {
		t.Fatalf("expected unknown scope, got %v", err)
	}
}
