package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"samplecore/internal/access"
	"samplecore/internal/blob"
	"strings"
	"time"
)

// CreateGroup creates a group namespace. A root group (empty parentID) makes
// the actor its owner; a subgroup requires manage access on the parent.
func (s *Service) CreateGroup(ctx context.Context, actorID, name, parentID string) (Namespace, error) {
	var created Namespace
	err := s.run(ctx, operation{name: "create_group", entity: EntityNamespace, action: ActionCreate, actorID: actorID},
		func(ctx context.Context) (string, int, error) {
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				ns := Namespace{Name: name, Kind: NamespaceGroupKind}
				if parentID != "" {
					if err := s.authorizer.Authorize(tx.Snapshot(), actorID, parentID, access.CapManageNamespace); err != nil {
						return err
					}
					ns.ParentID = &parentID
				}
				var err error
				if created, err = tx.CreateNamespace(ns); err != nil {
					return err
				}
				if parentID == "" && actorID != "" {
					_, err = tx.CreateMembership(Membership{UserID: actorID, NamespaceID: created.ID, AccessLevel: AccessOwner})
				}
				return err
			})
			return created.ID, 0, err
		})
	return created, err
}

// CreateProject creates a project and the leaf namespace that owns it.
func (s *Service) CreateProject(ctx context.Context, actorID, name, parentGroupID string) (Project, error) {
	var created Project
	err := s.run(ctx, operation{name: "create_project", entity: EntityProject, action: ActionCreate, actorID: actorID},
		func(ctx context.Context) (string, int, error) {
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				if err := s.authorizer.Authorize(tx.Snapshot(), actorID, parentGroupID, access.CapManageNamespace); err != nil {
					return err
				}
				ns, err := tx.CreateNamespace(Namespace{Name: name, Kind: NamespaceProjectKind, ParentID: &parentGroupID})
				if err != nil {
					return err
				}
				created, err = tx.CreateProject(Project{Name: name, NamespaceID: ns.ID})
				return err
			})
			return created.ID, 0, err
		})
	return created, err
}

// SampleInput describes a sample created through CreateSample.
type SampleInput struct {
	Name        string
	Description string
	Metadata    map[string]string
}

// CreateSample adds a sample to a project and counts it in the project's
// aggregates within the same transaction.
func (s *Service) CreateSample(ctx context.Context, actorID, projectID string, input SampleInput) (Sample, error) {
	var created Sample
	err := s.run(ctx, operation{name: "create_sample", entity: EntitySample, action: ActionCreate, actorID: actorID},
		func(ctx context.Context) (string, int, error) {
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				view := tx.Snapshot()
				project, ok := view.FindProject(projectID)
				if !ok {
					return ErrNotFound{Entity: EntityProject, ID: projectID}
				}
				if err := s.authorizer.Authorize(view, actorID, project.NamespaceID, access.CapCreateSample); err != nil {
					return err
				}
				name := strings.TrimSpace(input.Name)
				if len(view.FindLiveSamplesByName(project.ID, []string{name})) > 0 {
					return fmt.Errorf("sample %q already exists in project %s", name, project.PUID)
				}
				sample, _ := MetadataMutator{}.Apply(Sample{}, input.Metadata, SourceUser, actorID, false, s.now())
				sample.Name = name
				sample.Description = input.Description
				sample.ProjectID = project.ID
				var err error
				if created, err = tx.CreateSample(sample); err != nil {
					return err
				}
				return s.aggregates.ApplyInTx(tx, AddedDelta(project.ID, []Sample{created}))
			})
			return created.ID, 1, err
		})
	return created, err
}

// AddMember grants userID the level at namespaceID. A nil expiresAt grants
// access indefinitely.
func (s *Service) AddMember(ctx context.Context, actorID, userID, namespaceID string, level AccessLevel, expiresAt *time.Time) (Membership, error) {
	var created Membership
	err := s.run(ctx, operation{name: "add_member", entity: EntityMembership, action: ActionCreate, actorID: actorID},
		func(ctx context.Context) (string, int, error) {
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				if err := s.authorizer.Authorize(tx.Snapshot(), actorID, namespaceID, access.CapManageNamespace); err != nil {
					return err
				}
				var err error
				created, err = tx.CreateMembership(Membership{UserID: userID, NamespaceID: namespaceID, AccessLevel: level, ExpiresAt: expiresAt})
				return err
			})
			return created.ID, 0, err
		})
	return created, err
}

// AttachFile uploads content to the blob store under a content-addressed key
// and links it to the sample. Identical content re-uses the stored blob.
func (s *Service) AttachFile(ctx context.Context, actorID, sampleID, filename, contentType string, content io.Reader) (Attachment, error) {
	var created Attachment
	err := s.run(ctx, operation{name: "attach_file", entity: EntityAttachment, action: ActionCreate, actorID: actorID},
		func(ctx context.Context) (string, int, error) {
			var sample Sample
			if err := s.view(ctx, func(view TransactionView) error {
				var ok bool
				if sample, ok = view.FindSample(sampleID); !ok || !sample.Live() {
					return ErrNotFound{Entity: EntitySample, ID: sampleID}
				}
				project, ok := view.FindProject(sample.ProjectID)
				if !ok {
					return ErrNotFound{Entity: EntityProject, ID: sample.ProjectID}
				}
				return s.authorizer.Authorize(view, actorID, project.NamespaceID, access.CapCreateSample)
			}); err != nil {
				return "", 0, err
			}
			data, err := io.ReadAll(content)
			if err != nil {
				return "", 0, fmt.Errorf("read attachment: %w", err)
			}
			sum := sha256.Sum256(data)
			checksum := hex.EncodeToString(sum[:])
			key := blob.AttachmentKey(sample.PUID, checksum, filename)
			info, err := s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType})
			if errors.Is(err, blob.ErrExists) {
				info, err = s.blobs.Head(ctx, key)
			}
			if err != nil {
				return "", 0, fmt.Errorf("store attachment: %w", err)
			}
			_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
				created, err = tx.CreateAttachment(Attachment{
					SampleID:    sample.ID,
					BlobKey:     key,
					Filename:    filename,
					ContentType: contentType,
					ByteSize:    info.Size,
					Checksum:    checksum,
				})
				return err
			})
			return created.ID, 0, err
		})
	return created, err
}

// AttachmentURL returns a download URL for an attachment. Backends that
// cannot presign yield a blob:// locator.
func (s *Service) AttachmentURL(ctx context.Context, actorID, attachmentID string) (string, error) {
	var url string
	err := s.run(ctx, operation{name: "attachment_url", entity: EntityAttachment, action: ActionRead, actorID: actorID},
		func(ctx context.Context) (string, int, error) {
			var attachment Attachment
			if err := s.view(ctx, func(view TransactionView) error {
				var ok bool
				if attachment, ok = view.FindAttachment(attachmentID); !ok {
					return ErrNotFound{Entity: EntityAttachment, ID: attachmentID}
				}
				sample, ok := view.FindSample(attachment.SampleID)
				if !ok {
					return ErrNotFound{Entity: EntitySample, ID: attachment.SampleID}
				}
				project, ok := view.FindProject(sample.ProjectID)
				if !ok {
					return ErrNotFound{Entity: EntityProject, ID: sample.ProjectID}
				}
				return s.authorizer.Authorize(view, actorID, project.NamespaceID, access.CapReadSample)
			}); err != nil {
				return attachmentID, 0, err
			}
			signed, err := s.blobs.PresignURL(ctx, attachment.BlobKey, blob.SignedURLOptions{})
			if errors.Is(err, blob.ErrUnsupported) {
				signed, err = "blob://"+string(s.blobs.Driver())+"/"+attachment.BlobKey, nil
			}
			url = signed
			return attachmentID, 0, err
		})
	return url, err
}
