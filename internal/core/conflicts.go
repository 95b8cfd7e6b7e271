package core

import "samplecore/pkg/domain"

// Rejection reasons reported by ConflictValidator.
const (
	// ReasonTargetProjectDuplicate marks a candidate already owned by the
	// destination project.
	ReasonTargetProjectDuplicate = "target_project_duplicate"
	// ReasonSampleExists marks a candidate whose name is taken by another live
	// sample in the destination.
	ReasonSampleExists = "sample_exists"
	// ReasonGone marks a candidate deleted or moved elsewhere after it was
	// authorized. It shares the not_found error category.
	ReasonGone = "not_found"
)

// Rejection explains why a candidate was excluded from a batch.
type Rejection struct {
	SampleID string
	Name     string
	Reason   string
}

// ConflictView is the read access ConflictValidator needs.
type ConflictView interface {
	FindLiveSamplesByName(projectID string, names []string) []domain.Sample
}

// ConflictValidator excludes candidates that would collide by name in a
// destination project. Excluded candidates never fail the batch.
type ConflictValidator struct{}

// Validate partitions candidates, preserving order. Names accepted earlier in
// the same call count as taken for later candidates.
func (ConflictValidator) Validate(view ConflictView, dest Project, candidates []Sample) ([]Sample, []Rejection) {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.ProjectID != dest.ID {
			names = append(names, c.Name)
		}
	}
	taken := make(map[string]struct{})
	if len(names) > 0 {
		for _, existing := range view.FindLiveSamplesByName(dest.ID, names) {
			taken[existing.Name] = struct{}{}
		}
	}
	accepted := make([]Sample, 0, len(candidates))
	var rejected []Rejection
	for _, c := range candidates {
		if c.ProjectID == dest.ID {
			rejected = append(rejected, Rejection{SampleID: c.ID, Name: c.Name, Reason: ReasonTargetProjectDuplicate})
			continue
		}
		if _, dup := taken[c.Name]; dup {
			rejected = append(rejected, Rejection{SampleID: c.ID, Name: c.Name, Reason: ReasonSampleExists})
			continue
		}
		taken[c.Name] = struct{}{}
		accepted = append(accepted, c)
	}
	return accepted, rejected
}
