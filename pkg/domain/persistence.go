package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateNamespace(Namespace) (Namespace, error)
	UpdateNamespace(id string, mutator func(*Namespace) error) (Namespace, error)
	CreateProject(Project) (Project, error)
	UpdateProject(id string, mutator func(*Project) error) (Project, error)
	CreateSample(Sample) (Sample, error)
	UpdateSample(id string, mutator func(*Sample) error) (Sample, error)
	// ReassignSamples moves every listed sample that is live and currently
	// owned by fromProjectID into toProjectID. Rows matching neither
	// condition are left untouched. It returns the ids actually updated.
	ReassignSamples(ids []string, fromProjectID, toProjectID string) ([]string, error)
	CreateAttachment(Attachment) (Attachment, error)
	CreateMembership(Membership) (Membership, error)
	CreateActivity(Activity) (Activity, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListNamespaces() []Namespace
	ListChildNamespaces(parentID string) []Namespace
	FindNamespace(id string) (Namespace, bool)
	ListProjects() []Project
	FindProject(id string) (Project, bool)
	FindProjectByNamespace(namespaceID string) (Project, bool)
	FindSample(id string) (Sample, bool)
	// ListProjectSamples returns the live samples of a project ordered by name.
	ListProjectSamples(projectID string) []Sample
	// FindLiveSamplesByName returns live samples in the project whose name is
	// one of names.
	FindLiveSamplesByName(projectID string, names []string) []Sample
	FindAttachment(id string) (Attachment, bool)
	ListAttachments(sampleID string) []Attachment
	ListMemberships(userID string) []Membership
	ListActivities(namespaceID string) []Activity
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
