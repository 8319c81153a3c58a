// Package merge implements the three-way merge kernel: a pure,
// allocation-light function merging a local and a cloud collection of the
// same entity kind using each item's (version, last_synced_version) pair
// as the basis for a three-way diff against an implicit common ancestor.
//
// Adapted from a reference three-way merge implementation for a
// tombstone-aware issue tracker (case-matrix shape, per-field merge
// helpers, deletion-always-wins-over-modification rule), generalized
// here to Book/Entry/Category envelope semantics with a cloud-wins
// default on true per-field conflicts rather than that
// reference's local-wins tie-break, and driven by explicit
// version/last_synced_version bookkeeping rather than presence-in-all-
// three-sets case analysis.
package merge

import (
	"fmt"
	"time"

	"github.com/ledgerflow/ledgercore/entity"
)

// Conflict describes a single field where local and cloud disagree. A
// delete-edit conflict is reported with Field "deleted"; a both-deleted
// merge reports none.
type Conflict struct {
	EntityKind   string
	ID           string
	Field        string
	LocalValue   string
	CloudValue   string
	LocalVersion int64
	CloudVersion int64
}

// FieldConflict is the per-type field merge callback's raw report,
// before the kernel decorates it with entity kind/id/versions.
type FieldConflict struct {
	Field      string
	LocalValue string
	CloudValue string
}

// Result is the kernel's output for one collection.
type Result[T any] struct {
	Merged    []T
	Conflicts []Conflict
	// Branches counts how many ids resolved through each branch of the
	// merge case matrix ("local_only", "cloud_only", "noop",
	// "fast_forward_cloud", "keep_local", "both_deleted",
	// "delete_edit_conflict", "field_merge"). Callers that report metrics
	// use this instead of re-deriving branch outcomes from Merged.
	Branches map[string]int
}

// accessors lets mergeCollection stay generic over Book/Entry/Category
// without reflection: the caller supplies small closures reading and
// writing the shared envelope fields.
type accessors[T any] struct {
	id          func(T) string
	envelope    func(T) entity.Envelope
	withEnvelope func(T, entity.Envelope) T
	// mergeFields merges the domain-specific fields of local into cloud's
	// shape, cloud-wins on any disagreement, and reports every field that
	// disagreed.
	mergeFields func(local, cloud T) (merged T, conflicts []FieldConflict)
}

// mergeCollection runs the case matrix over every id appearing in
// either local or cloud, using now to stamp merged updated_at and by as
// the resulting last_modified_by on any entity the kernel actually
// rewrites.
func mergeCollection[T any](kind string, local, cloud []T, now time.Time, by string, a accessors[T]) Result[T] {
	localByID := make(map[string]T, len(local))
	for _, v := range local {
		localByID[a.id(v)] = v
	}
	cloudByID := make(map[string]T, len(cloud))
	for _, v := range cloud {
		cloudByID[a.id(v)] = v
	}

	seen := make(map[string]bool, len(localByID)+len(cloudByID))
	res := Result[T]{Branches: make(map[string]int)}

	// Preserve a stable-ish order: local items first (in their given
	// order), then cloud-only items, so repeated runs on the same input
	// produce the same slice order (merge purity, testable property 3).
	order := make([]string, 0, len(localByID)+len(cloudByID))
	for _, v := range local {
		id := a.id(v)
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, v := range cloud {
		id := a.id(v)
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	for _, id := range order {
		L, hasL := localByID[id]
		R, hasR := cloudByID[id]

		switch {
		case hasL && !hasR:
			// Only local has it: adoption by the other side (on push)
			// establishes this version as the new common ancestor.
			res.Merged = append(res.Merged, adopt(L, a))
			res.Branches["local_only"]++
		case !hasL && hasR:
			// Only cloud has it: symmetric adoption on pull.
			res.Merged = append(res.Merged, adopt(R, a))
			res.Branches["cloud_only"]++
		default:
			merged, conflicts, branch := mergeOne(kind, id, L, R, now, by, a)
			res.Merged = append(res.Merged, merged)
			res.Conflicts = append(res.Conflicts, conflicts...)
			res.Branches[branch]++
		}
	}
	return res
}

// adopt stamps last_synced_version = version on an item only one side
// held, so the adopting side doesn't spuriously look "changed" on the
// very next merge round.
func adopt[T any](v T, a accessors[T]) T {
	e := a.envelope(v)
	e.LastSyncedVersion = e.Version
	return a.withEnvelope(v, e)
}

func mergeOne[T any](kind, id string, L, R T, now time.Time, by string, a accessors[T]) (T, []Conflict, string) {
	le, re := a.envelope(L), a.envelope(R)
	localChanged := le.Changed()
	cloudChanged := re.Changed()

	switch {
	case !localChanged && !cloudChanged:
		// No-op: either side is an identical contract; take L.
		return L, nil, "noop"

	case !localChanged && cloudChanged:
		// Fast-forward to cloud.
		ne := re
		ne.LastSyncedVersion = re.Version
		return a.withEnvelope(R, ne), nil, "fast_forward_cloud"

	case localChanged && !cloudChanged:
		// Keep local; record that the cloud's current version is now the
		// common ancestor so the next sync round diffs correctly.
		ne := le
		ne.LastSyncedVersion = re.Version
		return a.withEnvelope(L, ne), nil, "keep_local"

	default:
		// Both changed since the common ancestor.
		if le.Deleted && re.Deleted {
			ne := le
			ne.Version = maxVersion(le.Version, re.Version) + 1
			ne.LastSyncedVersion = re.Version
			ne.UpdatedAt = now
			ne.LastModifiedBy = by
			ne.DeletedAt = laterPtr(le.DeletedAt, re.DeletedAt)
			return a.withEnvelope(L, ne), nil, "both_deleted"
		}
		if le.Deleted != re.Deleted {
			// Delete-edit conflict: deletion wins.
			deletedSide, liveSide := L, R
			deletedEnv, liveEnv := le, re
			if re.Deleted {
				deletedSide, liveSide = R, L
				deletedEnv, liveEnv = re, le
			}
			ne := deletedEnv
			ne.Version = maxVersion(le.Version, re.Version) + 1
			ne.LastSyncedVersion = re.Version
			ne.UpdatedAt = now
			ne.LastModifiedBy = by
			merged := a.withEnvelope(deletedSide, ne)
			conflict := Conflict{
				EntityKind:   kind,
				ID:           id,
				Field:        "deleted",
				LocalValue:   fmt.Sprintf("%v", le.Deleted),
				CloudValue:   fmt.Sprintf("%v", re.Deleted),
				LocalVersion: le.Version,
				CloudVersion: re.Version,
			}
			_ = liveSide
			_ = liveEnv
			return merged, []Conflict{conflict}, "delete_edit_conflict"
		}

		// Neither deleted: per-field merge, cloud wins on disagreement.
		mergedDomain, fieldConflicts := a.mergeFields(L, R)
		ne := re
		ne.Version = maxVersion(le.Version, re.Version) + 1
		ne.LastSyncedVersion = re.Version
		ne.UpdatedAt = now
		ne.LastModifiedBy = by
		merged := a.withEnvelope(mergedDomain, ne)

		conflicts := make([]Conflict, 0, len(fieldConflicts))
		for _, fc := range fieldConflicts {
			conflicts = append(conflicts, Conflict{
				EntityKind:   kind,
				ID:           id,
				Field:        fc.Field,
				LocalValue:   fc.LocalValue,
				CloudValue:   fc.CloudValue,
				LocalVersion: le.Version,
				CloudVersion: re.Version,
			})
		}
		return merged, conflicts, "field_merge"
	}
}

func maxVersion(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func laterPtr(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}
