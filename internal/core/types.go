package core

import "samplecore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Namespace          = domain.Namespace
	Project            = domain.Project
	Sample             = domain.Sample
	Attachment         = domain.Attachment
	Membership         = domain.Membership
	Activity           = domain.Activity
	ActivityPayload    = domain.ActivityPayload
	ActivityEntity     = domain.ActivityEntity
	Provenance         = domain.Provenance
	MetadataSource     = domain.MetadataSource
	AccessLevel        = domain.AccessLevel
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	ProgressUpdate     = domain.ProgressUpdate
	ProgressSink       = domain.ProgressSink
)

const (
	EntityNamespace  = domain.EntityNamespace
	EntityProject    = domain.EntityProject
	EntitySample     = domain.EntitySample
	EntityAttachment = domain.EntityAttachment
	EntityMembership = domain.EntityMembership
	EntityActivity   = domain.EntityActivity
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
	// ActionRead marks audited reads; it never appears in change records.
	ActionRead Action = "read"
)

const (
	NamespaceGroupKind   = domain.NamespaceGroup
	NamespaceProjectKind = domain.NamespaceProject
)

const (
	SourceUser     = domain.SourceUser
	SourceAnalysis = domain.SourceAnalysis
)

const (
	AccessNone       = domain.AccessNone
	AccessGuest      = domain.AccessGuest
	AccessUploader   = domain.AccessUploader
	AccessAnalyst    = domain.AccessAnalyst
	AccessMaintainer = domain.AccessMaintainer
	AccessOwner      = domain.AccessOwner
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
