package core

import (
	"strings"
	"time"
)

// MetadataOutcome classifies a single field write.
type MetadataOutcome string

const (
	MetadataAdded      MetadataOutcome = "added"
	MetadataUpdated    MetadataOutcome = "updated"
	MetadataDeleted    MetadataOutcome = "deleted"
	MetadataUnchanged  MetadataOutcome = "unchanged"
	MetadataNotUpdated MetadataOutcome = "not_updated"
)

// FieldState is the current value of a metadata field, if any.
type FieldState struct {
	Exists     bool
	Value      string
	Provenance Provenance
}

// FieldWrite is an incoming write for one field.
type FieldWrite struct {
	Value  string
	Source MetadataSource
	Force  bool
}

func authority(src MetadataSource) int {
	if src == SourceAnalysis {
		return 1
	}
	return 0
}

// Decide classifies a write against the current field state. It has no side
// effects.
func Decide(current FieldState, write FieldWrite) MetadataOutcome {
	blank := strings.TrimSpace(write.Value) == ""
	if !current.Exists {
		if blank {
			return MetadataUnchanged
		}
		return MetadataAdded
	}
	if blank {
		return MetadataDeleted
	}
	if authority(current.Provenance.Source) > authority(write.Source) {
		return MetadataNotUpdated
	}
	if current.Value == write.Value && !write.Force {
		return MetadataUnchanged
	}
	return MetadataUpdated
}

// MetadataChanges lists the keys of each outcome for one sample, sorted.
type MetadataChanges struct {
	Added      []string `json:"added,omitempty"`
	Updated    []string `json:"updated,omitempty"`
	Deleted    []string `json:"deleted,omitempty"`
	Unchanged  []string `json:"unchanged,omitempty"`
	NotUpdated []string `json:"not_updated,omitempty"`
}

// Changed reports whether the sample row must be written.
func (c MetadataChanges) Changed() bool {
	return len(c.Added)+len(c.Updated)+len(c.Deleted) > 0
}

func (c *MetadataChanges) add(key string, outcome MetadataOutcome) {
	switch outcome {
	case MetadataAdded:
		c.Added = append(c.Added, key)
	case MetadataUpdated:
		c.Updated = append(c.Updated, key)
	case MetadataDeleted:
		c.Deleted = append(c.Deleted, key)
	case MetadataUnchanged:
		c.Unchanged = append(c.Unchanged, key)
	case MetadataNotUpdated:
		c.NotUpdated = append(c.NotUpdated, key)
	}
}

// MetadataMutator applies field writes to a sample through Decide.
type MetadataMutator struct{}

// Apply returns the sample with fields written and the per-field outcomes.
// sourceID attributes the write in the recorded provenance.
func (MetadataMutator) Apply(sample Sample, fields map[string]string, source MetadataSource, sourceID string, force bool, now time.Time) (Sample, MetadataChanges) {
	out := sample
	out.Metadata = make(map[string]string, len(sample.Metadata)+len(fields))
	for k, v := range sample.Metadata {
		out.Metadata[k] = v
	}
	out.MetadataProvenance = make(map[string]Provenance, len(sample.MetadataProvenance)+len(fields))
	for k, v := range sample.MetadataProvenance {
		out.MetadataProvenance[k] = v
	}
	var changes MetadataChanges
	for _, key := range sortedKeys(fields) {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}
		value := strings.TrimSpace(fields[key])
		current, exists := out.Metadata[name]
		state := FieldState{Exists: exists, Value: current, Provenance: out.MetadataProvenance[name]}
		outcome := Decide(state, FieldWrite{Value: value, Source: source, Force: force})
		changes.add(name, outcome)
		switch outcome {
		case MetadataAdded, MetadataUpdated:
			out.Metadata[name] = value
			out.MetadataProvenance[name] = Provenance{Source: source, ID: sourceID, UpdatedAt: now}
		case MetadataDeleted:
			delete(out.Metadata, name)
			delete(out.MetadataProvenance, name)
		}
	}
	return out, changes
}
