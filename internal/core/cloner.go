package core

import (
	"context"
	"errors"
	"fmt"
	"samplecore/internal/blob"
	"samplecore/internal/lock"
)

// CloneOutcome reports the copies made by a Cloner.
type CloneOutcome struct {
	Pairs    []ClonePair
	Rejected []Rejection
	Failed   []EntityError
}

// Cloner copies samples and their attachments into a destination project.
// Originals are left untouched; attachments are copied by reference.
type Cloner struct {
	store      PersistentStore
	locker     lock.Locker
	validator  ConflictValidator
	blobs      blob.Store
	aggregates *AggregateMaintainer
}

// NewCloner constructs a cloner.
func NewCloner(store PersistentStore, locker lock.Locker, validator ConflictValidator, blobs blob.Store, aggregates *AggregateMaintainer) *Cloner {
	return &Cloner{store: store, locker: locker, validator: validator, blobs: blobs, aggregates: aggregates}
}

// Clone copies candidates into dest, then adds them to the destination
// aggregates. Candidates that collide or whose attachment blobs are missing
// are skipped.
func (c *Cloner) Clone(ctx context.Context, dest Project, candidates []Sample) (CloneOutcome, error) {
	var outcome CloneOutcome
	attachments := make(map[string][]Attachment, len(candidates))
	if err := c.store.View(ctx, func(view TransactionView) error {
		for _, s := range candidates {
			attachments[s.ID] = view.ListAttachments(s.ID)
		}
		return nil
	}); err != nil {
		return outcome, err
	}
	ready := make([]Sample, 0, len(candidates))
	for _, s := range candidates {
		missing, err := c.missingBlob(ctx, attachments[s.ID])
		if err != nil {
			return outcome, err
		}
		if missing != "" {
			outcome.Failed = append(outcome.Failed, EntityError{
				ID:       s.ID,
				Category: CategoryAttachmentMissing,
				Message:  fmt.Sprintf("sample %s could not be cloned: attachment %s is missing from storage", s.Name, missing),
			})
			continue
		}
		ready = append(ready, s)
	}
	if len(ready) == 0 {
		return outcome, nil
	}

	err := c.locker.WithLock(ctx, lock.DestinationKey(dest.PUID), func(ctx context.Context) error {
		outcome.Pairs, outcome.Rejected = nil, nil
		_, err := c.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			current := make([]Sample, 0, len(ready))
			for _, s := range ready {
				if fresh, ok := view.FindSample(s.ID); ok && fresh.Live() {
					current = append(current, fresh)
				}
			}
			eligible, rejected := c.validator.Validate(view, dest, current)
			outcome.Rejected = rejected
			for _, original := range eligible {
				copied, err := tx.CreateSample(Sample{
					Name:               original.Name,
					Description:        original.Description,
					ProjectID:          dest.ID,
					Metadata:           original.Metadata,
					MetadataProvenance: original.MetadataProvenance,
				})
				if err != nil {
					return fmt.Errorf("clone %s: %w", original.ID, err)
				}
				for _, a := range attachments[original.ID] {
					if _, err := tx.CreateAttachment(Attachment{
						SampleID:    copied.ID,
						BlobKey:     a.BlobKey,
						Filename:    a.Filename,
						ContentType: a.ContentType,
						ByteSize:    a.ByteSize,
						Checksum:    a.Checksum,
					}); err != nil {
						return fmt.Errorf("clone attachment %s: %w", a.ID, err)
					}
				}
				outcome.Pairs = append(outcome.Pairs, ClonePair{Original: original, Clone: copied})
			}
			return nil
		})
		return err
	})
	if err != nil {
		return CloneOutcome{Failed: outcome.Failed}, err
	}
	if len(outcome.Pairs) == 0 {
		return outcome, nil
	}
	clones := make([]Sample, len(outcome.Pairs))
	for i, p := range outcome.Pairs {
		clones[i] = p.Clone
	}
	if err := c.aggregates.Apply(ctx, AddedDelta(dest.ID, clones)); err != nil {
		return outcome, fmt.Errorf("update aggregates: %w", err)
	}
	return outcome, nil
}

func (c *Cloner) missingBlob(ctx context.Context, attachments []Attachment) (string, error) {
	for _, a := range attachments {
		if _, err := c.blobs.Head(ctx, a.BlobKey); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return a.Filename, nil
			}
			return "", fmt.Errorf("check attachment %s: %w", a.ID, err)
		}
	}
	return "", nil
}
