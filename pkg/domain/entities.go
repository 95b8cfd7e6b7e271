// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by samplecore.
package domain

import (
	"sort"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityNamespace identifies a group or project namespace.
	EntityNamespace EntityType = "namespace"
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntitySample identifies a sample record.
	EntitySample EntityType = "sample"
	// EntityAttachment identifies a sample attachment record.
	EntityAttachment EntityType = "attachment"
	// EntityMembership identifies a namespace membership record.
	EntityMembership EntityType = "membership"
	// EntityActivity identifies an activity (audit) record.
	EntityActivity EntityType = "activity"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NamespaceKind distinguishes internal group nodes from project leaves.
type NamespaceKind string

const (
	NamespaceGroup   NamespaceKind = "group"
	NamespaceProject NamespaceKind = "project"
)

// Namespace is a node in the group/project containment tree. SamplesCount and
// MetadataSummary are denormalized aggregates over the live samples of every
// descendant project.
type Namespace struct {
	Base
	Name            string         `json:"name"`
	Kind            NamespaceKind  `json:"kind"`
	ParentID        *string        `json:"parent_id,omitempty"`
	PUID            string         `json:"puid"`
	SamplesCount    int            `json:"samples_count"`
	MetadataSummary map[string]int `json:"metadata_summary,omitempty"`
}

// IsGroup reports whether the namespace may hold child namespaces.
func (n Namespace) IsGroup() bool { return n.Kind == NamespaceGroup }

// IsRoot reports whether the namespace has no parent.
func (n Namespace) IsRoot() bool { return n.ParentID == nil || *n.ParentID == "" }

// Project is the leaf container of samples. It is owned by exactly one
// project namespace and mirrors that namespace's samples count.
type Project struct {
	Base
	Name         string `json:"name"`
	PUID         string `json:"puid"`
	NamespaceID  string `json:"namespace_id"`
	SamplesCount int    `json:"samples_count"`
}

// MetadataSource identifies the authority class of a metadata write.
type MetadataSource string

const (
	// SourceUser marks values written by a person through the UI or API.
	SourceUser MetadataSource = "user"
	// SourceAnalysis marks values written by an automated analysis run.
	// Analysis values outrank user values.
	SourceAnalysis MetadataSource = "analysis"
)

// Provenance records who last wrote a metadata field.
type Provenance struct {
	Source    MetadataSource `json:"source"`
	ID        string         `json:"id"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Sample is a biological sample record owned by a project.
type Sample struct {
	Base
	Name               string                `json:"name"`
	Description        string                `json:"description,omitempty"`
	PUID               string                `json:"puid"`
	ProjectID          string                `json:"project_id"`
	Metadata           map[string]string     `json:"metadata,omitempty"`
	MetadataProvenance map[string]Provenance `json:"metadata_provenance,omitempty"`
	DeletedAt          *time.Time            `json:"deleted_at,omitempty"`
}

// Live reports whether the sample has not been soft-deleted.
func (s Sample) Live() bool { return s.DeletedAt == nil }

// MetadataKeys returns the sorted keys holding a non-blank value. These are
// the keys counted by namespace metadata summaries.
func (s Sample) MetadataKeys() []string {
	keys := make([]string, 0, len(s.Metadata))
	for k, v := range s.Metadata {
		if strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attachment links a stored blob to a sample. Clones share the BlobKey of the
// attachment they were copied from.
type Attachment struct {
	Base
	SampleID    string `json:"sample_id"`
	BlobKey     string `json:"blob_key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	ByteSize    int64  `json:"byte_size"`
	Checksum    string `json:"checksum,omitempty"`
}

// AccessLevel is the ordinal permission level a user holds at a namespace.
type AccessLevel int

const (
	AccessNone       AccessLevel = 0
	AccessGuest      AccessLevel = 10
	AccessUploader   AccessLevel = 20
	AccessAnalyst    AccessLevel = 30
	AccessMaintainer AccessLevel = 40
	AccessOwner      AccessLevel = 50
)

func (l AccessLevel) String() string {
	switch l {
	case AccessNone:
		return "no_access"
	case AccessGuest:
		return "guest"
	case AccessUploader:
		return "uploader"
	case AccessAnalyst:
		return "analyst"
	case AccessMaintainer:
		return "maintainer"
	case AccessOwner:
		return "owner"
	}
	return "unknown"
}

// Membership grants a user an access level at a namespace and, by
// inheritance, at every descendant namespace.
type Membership struct {
	Base
	UserID      string      `json:"user_id"`
	NamespaceID string      `json:"namespace_id"`
	AccessLevel AccessLevel `json:"access_level"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the membership grants access at t.
func (m Membership) ActiveAt(t time.Time) bool {
	return m.ExpiresAt == nil || m.ExpiresAt.After(t)
}

// ActivityEntity describes one sample listed in an activity payload.
type ActivityEntity struct {
	SampleID   string `json:"sample_id"`
	SamplePUID string `json:"sample_puid"`
	SampleName string `json:"sample_name"`
	CloneID    string `json:"clone_id,omitempty"`
	ClonePUID  string `json:"clone_puid,omitempty"`
}

// ActivityPayload carries the counts and entity list shown in audit views.
type ActivityPayload struct {
	Count           int              `json:"count"`
	Entities        []ActivityEntity `json:"entities,omitempty"`
	SourceProjectID string           `json:"source_project_id,omitempty"`
	TargetProjectID string           `json:"target_project_id,omitempty"`
	Added           []string         `json:"added,omitempty"`
	Updated         []string         `json:"updated,omitempty"`
	Deleted         []string         `json:"deleted,omitempty"`
}

// Activity is an audit record created once per affected namespace per operation.
type Activity struct {
	Base
	NamespaceID string          `json:"namespace_id"`
	Key         string          `json:"key"`
	ActorID     string          `json:"actor_id"`
	Payload     ActivityPayload `json:"payload"`
}

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the change log.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity was deleted.
	ActionDelete Action = "delete"
)

// Violation reports a rule failure.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from rules.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if any violation blocks commit.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}
