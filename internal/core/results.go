package core

import (
	"samplecore/internal/access"
	"sort"
	"strings"
)

// OperationStatus summarizes how much of a bulk request took effect.
type OperationStatus string

const (
	StatusApplied          OperationStatus = "applied"
	StatusPartiallyApplied OperationStatus = "partially_applied"
	StatusNotApplied       OperationStatus = "not_applied"
)

// Error categories used in namespace and entity error lists.
const (
	CategoryMalformed              = "malformed"
	CategoryPolicy                 = "policy"
	CategoryNotFound               = access.CategoryNotFound
	CategoryUnauthorized           = access.CategoryUnauthorized
	CategorySampleExists           = ReasonSampleExists
	CategoryTargetProjectDuplicate = ReasonTargetProjectDuplicate
	CategoryAttachmentMissing      = "attachment_missing"
	CategoryCloneFailed            = "clone_failed"
)

// EntityError records why a single requested entity was skipped.
type EntityError struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// OperationResult is the structured outcome of a bulk operation. Expected
// business conflicts are reported here rather than as Go errors.
type OperationResult struct {
	Status OperationStatus `json:"status"`
	// IDs lists moved or destroyed sample ids in request order.
	IDs []string `json:"ids,omitempty"`
	// MovedBySource groups moved ids by their former project.
	MovedBySource map[string][]string `json:"moved_by_source,omitempty"`
	// Clones maps original sample ids to their new copies.
	Clones map[string]string `json:"clones,omitempty"`
	// Metadata reports per-sample field outcomes of a metadata update.
	Metadata        map[string]MetadataChanges `json:"metadata,omitempty"`
	NamespaceErrors map[string][]string        `json:"namespace_errors,omitempty"`
	EntityErrors    []EntityError              `json:"entity_errors,omitempty"`
}

// Applied reports whether anything took effect.
func (r OperationResult) Applied() bool { return r.Status != StatusNotApplied }

// HasErrors reports whether any namespace or entity error was recorded.
func (r OperationResult) HasErrors() bool {
	return len(r.NamespaceErrors) > 0 || len(r.EntityErrors) > 0
}

// EntityErrorsFor returns the recorded entity errors of one category.
func (r OperationResult) EntityErrorsFor(category string) []EntityError {
	var out []EntityError
	for _, e := range r.EntityErrors {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

func (r *OperationResult) addNamespaceError(category, message string) {
	if r.NamespaceErrors == nil {
		r.NamespaceErrors = make(map[string][]string)
	}
	r.NamespaceErrors[category] = append(r.NamespaceErrors[category], message)
}

func (r *OperationResult) addEntityError(id, category, message string) {
	r.EntityErrors = append(r.EntityErrors, EntityError{ID: id, Category: category, Message: message})
}

// addFilterResult folds the access filter's rejections into the result.
func (r *OperationResult) addFilterResult(res access.FilterResult) {
	for _, m := range res.Messages {
		r.addNamespaceError(m.Category, m.Text)
		for _, id := range m.IDs {
			r.addEntityError(id, m.Category, m.Text)
		}
	}
}

// addRejections records conflict rejections, one namespace message per reason.
func (r *OperationResult) addRejections(dest Project, rejected []Rejection) {
	byReason := make(map[string][]string)
	for _, rej := range rejected {
		msg := rejectionMessage(dest, rej)
		r.addEntityError(rej.SampleID, rej.Reason, msg)
		byReason[rej.Reason] = append(byReason[rej.Reason], rej.Name)
	}
	reasons := make([]string, 0, len(byReason))
	for reason := range byReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		names := strings.Join(byReason[reason], ", ")
		switch reason {
		case ReasonTargetProjectDuplicate:
			r.addNamespaceError(reason, "Samples already belong to project "+dest.PUID+": "+names)
		case ReasonGone:
			r.addNamespaceError(reason, "Samples no longer exist in their source project: "+names)
		default:
			r.addNamespaceError(reason, "Samples with these names already exist in project "+dest.PUID+": "+names)
		}
	}
}

func rejectionMessage(dest Project, rej Rejection) string {
	switch rej.Reason {
	case ReasonTargetProjectDuplicate:
		return "sample " + rej.Name + " already belongs to project " + dest.PUID
	case ReasonGone:
		return "sample " + rej.Name + " no longer exists in its source project"
	}
	return "a sample named " + rej.Name + " already exists in project " + dest.PUID
}

// finish derives Status from the number of applied entities and the recorded errors.
func (r *OperationResult) finish(applied int) {
	switch {
	case !r.HasErrors():
		r.Status = StatusApplied
	case applied > 0:
		r.Status = StatusPartiallyApplied
	default:
		r.Status = StatusNotApplied
	}
}

func notApplied(category, message string) OperationResult {
	var r OperationResult
	r.addNamespaceError(category, message)
	r.Status = StatusNotApplied
	return r
}
