package core

import (
	"context"
	"errors"
	"fmt"
	"samplecore/internal/blob"
	"strings"
	"testing"
)

func TestCloneLeavesSourceUntouched(t *testing.T) {
	f := newFixture(t)
	s := f.sample(t, f.p1, "S", map[string]string{"host": "human", "site": "gut"})
	before := f.aggregates(t)

	res, err := f.svc.Clone(f.ctx, CloneRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p3.ID,
		SampleIDs:            []string{s.ID},
	})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	cloneID, ok := res.Clones[s.ID]
	if !ok || cloneID == s.ID || res.Status != StatusApplied {
		t.Fatalf("expected mapping to a new id, got %+v", res)
	}
	clone := f.stored(t, cloneID)
	if clone.ProjectID != f.p3.ID || clone.Name != s.Name || clone.PUID == s.PUID {
		t.Fatalf("unexpected clone %+v", clone)
	}
	if clone.MetadataProvenance["host"].ID != ownerID {
		t.Fatalf("expected provenance to be copied, got %+v", clone.MetadataProvenance)
	}
	if original := f.stored(t, s.ID); original.ProjectID != f.p1.ID {
		t.Fatalf("original must stay in p1")
	}

	after := f.aggregates(t)
	for _, id := range []string{f.p1.NamespaceID, f.lab.ID, f.p2.NamespaceID} {
		if fmt.Sprint(before[id]) != fmt.Sprint(after[id]) {
			t.Fatalf("namespace %s changed: %+v -> %+v", id, before[id], after[id])
		}
	}
	for _, id := range []string{f.p3.NamespaceID, f.other.ID, f.root.ID} {
		if after[id].count != before[id].count+1 {
			t.Fatalf("namespace %s count %d, want %d", id, after[id].count, before[id].count+1)
		}
		if after[id].summary["host"] != before[id].summary["host"]+1 || after[id].summary["site"] != before[id].summary["site"]+1 {
			t.Fatalf("namespace %s summary %v", id, after[id].summary)
		}
	}
	assertCountInvariant(t, f)

	in := f.activities(t, f.p3.NamespaceID)
	if len(in) != 1 || in[0].Key != ActivityClonedFrom || in[0].Payload.Entities[0].CloneID != cloneID {
		t.Fatalf("unexpected destination activity %+v", in)
	}
	if out := f.activities(t, f.p1.NamespaceID); len(out) != 1 || out[0].Key != ActivityClone {
		t.Fatalf("unexpected source activity %+v", out)
	}
}

func TestCloneCopiesAttachmentsByReference(t *testing.T) {
	f := newFixture(t)
	s := f.sample(t, f.p1, "S", nil)
	att, err := f.svc.AttachFile(f.ctx, ownerID, s.ID, "reads.fastq", "text/plain", strings.NewReader("ACGT"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	res, err := f.svc.Clone(f.ctx, CloneRequest{
		ActorID:              ownerID,
		ScopeID:              f.lab.ID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{s.ID},
	})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	var copied []Attachment
	_ = f.svc.Store().View(f.ctx, func(v TransactionView) error {
		copied = v.ListAttachments(res.Clones[s.ID])
		return nil
	})
	if len(copied) != 1 || copied[0].BlobKey != att.BlobKey || copied[0].ID == att.ID {
		t.Fatalf("expected reference copy of %s, got %+v", att.BlobKey, copied)
	}
	if rollup := f.activities(t, f.lab.ID); len(rollup) != 1 || rollup[0].Key != ActivityGroupClone {
		t.Fatalf("expected group rollup, got %+v", rollup)
	}
}

func TestCloneSkipsConflictsAndMissingBlobs(t *testing.T) {
	f := newFixture(t)
	ok := f.sample(t, f.p1, "ok", nil)
	taken := f.sample(t, f.p1, "taken", nil)
	broken := f.sample(t, f.p1, "broken", nil)
	f.sample(t, f.p2, "taken", nil)
	att, err := f.svc.AttachFile(f.ctx, ownerID, broken.ID, "gone.txt", "", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := f.svc.Blobs().Delete(f.ctx, att.BlobKey); err != nil {
		t.Fatalf("delete blob: %v", err)
	}

	res, err := f.svc.Clone(f.ctx, CloneRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{ok.ID, taken.ID, broken.ID},
	})
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if res.Status != StatusPartiallyApplied || len(res.Clones) != 1 {
		t.Fatalf("expected one clone, got %+v", res)
	}
	if _, cloned := res.Clones[ok.ID]; !cloned {
		t.Fatalf("expected ok to be cloned")
	}
	if errs := res.EntityErrorsFor(CategorySampleExists); len(errs) != 1 || errs[0].ID != taken.ID {
		t.Fatalf("expected sample_exists for taken, got %+v", res.EntityErrors)
	}
	if errs := res.EntityErrorsFor(CategoryAttachmentMissing); len(errs) != 1 || errs[0].ID != broken.ID {
		t.Fatalf("expected attachment_missing for broken, got %+v", res.EntityErrors)
	}
	assertCountInvariant(t, f)
}

type failingHeadStore struct {
	blob.Store
}

func (failingHeadStore) Head(context.Context, string) (blob.Info, error) {
	return blob.Info{}, errors.New("backend down")
}

func TestCloneFailsOnBlobBackendError(t *testing.T) {
	backing := blob.NewMemory()
	f := newFixture(t, WithBlobStore(backing))
	s := f.sample(t, f.p1, "S", nil)
	if _, err := f.svc.AttachFile(f.ctx, ownerID, s.ID, "a.txt", "", strings.NewReader("a")); err != nil {
		t.Fatalf("attach: %v", err)
	}
	f.svc.cloner.blobs = failingHeadStore{Store: backing}
	res, err := f.svc.Clone(f.ctx, CloneRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{s.ID},
	})
	if err == nil || res.Status != StatusNotApplied {
		t.Fatalf("expected backend error, got %+v %v", res, err)
	}
	if len(res.NamespaceErrors[CategoryCloneFailed]) != 1 {
		t.Fatalf("expected clone_failed namespace error, got %+v", res.NamespaceErrors)
	}
}

func TestCloneCapabilities(t *testing.T) {
	f := newFixture(t)
	s := f.sample(t, f.p1, "S", nil)
	if _, err := f.svc.AddMember(f.ctx, ownerID, analystID, f.lab.ID, AccessAnalyst, nil); err != nil {
		t.Fatalf("add analyst: %v", err)
	}
	// Analysts may clone out of a project but not into one.
	_, err := f.svc.Clone(f.ctx, CloneRequest{
		ActorID:              analystID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p2.ID,
		SampleIDs:            []string{s.ID},
	})
	var authErr AuthorizationError
	if !errors.As(err, &authErr) || authErr.Capability != "clone_sample_into_project" {
		t.Fatalf("expected clone_sample_into_project denial, got %v", err)
	}
	res, err := f.svc.Clone(f.ctx, CloneRequest{
		ActorID:              ownerID,
		ScopeID:              f.p1.NamespaceID,
		DestinationProjectID: f.p1.ID,
		SampleIDs:            []string{s.ID},
	})
	if !errors.Is(err, ErrMalformedRequest) || res.Status != StatusNotApplied {
		t.Fatalf("expected malformed clone into source, got %+v %v", res, err)
	}
}
