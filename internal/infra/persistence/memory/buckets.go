package memory

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// BucketNames lists the snapshot buckets in persistence order.
var BucketNames = []string{"namespaces", "projects", "samples", "attachments", "memberships", "activities"}

func (s *Snapshot) bucketTargets() map[string]any {
	return map[string]any{
		"namespaces":  &s.Namespaces,
		"projects":    &s.Projects,
		"samples":     &s.Samples,
		"attachments": &s.Attachments,
		"memberships": &s.Memberships,
		"activities":  &s.Activities,
	}
}

// EncodeBuckets serializes each snapshot bucket to JSON keyed by bucket name.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	targets := s.bucketTargets()
	out := make(map[string][]byte, len(BucketNames))
	for _, name := range BucketNames {
		data, err := json.Marshal(targets[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from JSON bucket payloads. Unknown buckets
// are ignored so older snapshots with retired buckets still load.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := snapshot.ApplyBuckets(payloads); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// ApplyBuckets replaces the buckets present in payloads and leaves the rest of
// the snapshot as it is.
func (s *Snapshot) ApplyBuckets(payloads map[string][]byte) error {
	targets := s.bucketTargets()
	for name, payload := range payloads {
		target, ok := targets[name]
		if !ok || len(payload) == 0 {
			continue
		}
		// Decode into a new value; unmarshalling into the existing map would merge.
		fresh := reflect.New(reflect.TypeOf(target).Elem())
		if err := json.Unmarshal(payload, fresh.Interface()); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		reflect.ValueOf(target).Elem().Set(fresh.Elem())
	}
	return nil
}

// BucketDigests remembers the digest of each bucket as last written by a
// snapshotting store. Callers serialize access.
type BucketDigests struct {
	sums map[string]uint64
}

// Changed returns, in BucketNames order, the buckets whose payload differs
// from the recorded digest.
func (d *BucketDigests) Changed(payloads map[string][]byte) []string {
	var out []string
	for _, name := range BucketNames {
		sum, ok := d.sums[name]
		if !ok || sum != xxhash.Sum64(payloads[name]) {
			out = append(out, name)
		}
	}
	return out
}

// Record stores the digests of the named buckets.
func (d *BucketDigests) Record(payloads map[string][]byte, names ...string) {
	if d.sums == nil {
		d.sums = make(map[string]uint64, len(BucketNames))
	}
	for _, name := range names {
		d.sums[name] = xxhash.Sum64(payloads[name])
	}
}

// Digest returns the digest recorded for bucket.
func (d *BucketDigests) Digest(bucket string) (uint64, bool) {
	sum, ok := d.sums[bucket]
	return sum, ok
}

// Forget drops the recorded digests so the named buckets count as changed.
func (d *BucketDigests) Forget(names ...string) {
	for _, name := range names {
		delete(d.sums, name)
	}
}

// Clone copies the recorded digests.
func (d *BucketDigests) Clone() BucketDigests {
	return BucketDigests{sums: maps.Clone(d.sums)}
}
