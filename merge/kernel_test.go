package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/entity"
)

func env(version, lastSynced int64) entity.Envelope {
	now := time.Now().UTC()
	return entity.Envelope{
		UserID: "u1", Version: version, LastSyncedVersion: lastSynced,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestMergeOnlyLocalHasBook(t *testing.T) {
	local := []*entity.Book{{ID: "b1", Name: "Local Only", Envelope: env(1, 0)}}
	res := MergeBooks(local, nil, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	assert.Equal(t, "Local Only", res.Merged[0].Name)
	assert.Empty(t, res.Conflicts)
}

func TestMergeOnlyCloudHasBook(t *testing.T) {
	cloud := []*entity.Book{{ID: "b1", Name: "Cloud Only", Envelope: env(1, 0)}}
	res := MergeBooks(nil, cloud, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	assert.Equal(t, "Cloud Only", res.Merged[0].Name)
}

func TestMergeNeitherChangedIsNoOp(t *testing.T) {
	local := []*entity.Book{{ID: "b1", Name: "Same", Envelope: env(3, 3)}}
	cloud := []*entity.Book{{ID: "b1", Name: "Same", Envelope: env(3, 3)}}
	res := MergeBooks(local, cloud, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	assert.Equal(t, int64(3), res.Merged[0].Version)
	assert.Empty(t, res.Conflicts)
}

func TestMergeFastForwardsToCloudWhenOnlyCloudChanged(t *testing.T) {
	local := []*entity.Book{{ID: "b1", Name: "Stale", Envelope: env(2, 2)}}
	cloud := []*entity.Book{{ID: "b1", Name: "Newer", Envelope: env(3, 2)}}
	res := MergeBooks(local, cloud, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	assert.Equal(t, "Newer", res.Merged[0].Name)
	assert.Equal(t, int64(3), res.Merged[0].LastSyncedVersion)
}

func TestMergeKeepsLocalWhenOnlyLocalChanged(t *testing.T) {
	local := []*entity.Book{{ID: "b1", Name: "Edited", Envelope: env(3, 2)}}
	cloud := []*entity.Book{{ID: "b1", Name: "Old", Envelope: env(2, 2)}}
	res := MergeBooks(local, cloud, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	assert.Equal(t, "Edited", res.Merged[0].Name)
	assert.Equal(t, int64(2), res.Merged[0].LastSyncedVersion)
}

// Both sides changed since the common ancestor and one field diverges -> cloud wins that field.
func TestBothChangedOneFieldDivergesCloudWins(t *testing.T) {
	local := []*entity.Book{{ID: "b1", Name: "Renamed Locally", Description: "same", Envelope: env(3, 2)}}
	cloud := []*entity.Book{{ID: "b1", Name: "Renamed Locally", Description: "same", Envelope: env(3, 2)}}
	// Only the description differs between the two sides.
	cloud[0].Description = "changed in cloud"
	res := MergeBooks(local, cloud, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "description", res.Conflicts[0].Field)
	// Cloud wins the conflicting field.
	assert.Equal(t, "changed in cloud", res.Merged[0].Description)
	assert.Equal(t, int64(4), res.Merged[0].Version)
}

// Delete-edit conflict -> deletion wins.
func TestDeleteEditConflictDeletionWins(t *testing.T) {
	deletedAt := time.Now().UTC()
	local := []*entity.Entry{{ID: "e1", Remarks: "edited locally", Envelope: env(3, 2)}}
	cloud := []*entity.Entry{{ID: "e1", Envelope: func() entity.Envelope {
		e := env(3, 2)
		e.Deleted = true
		e.DeletedAt = &deletedAt
		return e
	}()}}

	res := MergeEntries(local, cloud, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	assert.True(t, res.Merged[0].Deleted)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "deleted", res.Conflicts[0].Field)
	assert.Equal(t, int64(4), res.Merged[0].Version)
}

func TestBothDeletedMergesWithoutConflict(t *testing.T) {
	t1 := time.Now().UTC()
	t2 := t1.Add(time.Minute)
	local := []*entity.Category{{ID: "c1", Envelope: func() entity.Envelope {
		e := env(3, 2)
		e.Deleted = true
		e.DeletedAt = &t1
		return e
	}()}}
	cloud := []*entity.Category{{ID: "c1", Envelope: func() entity.Envelope {
		e := env(4, 2)
		e.Deleted = true
		e.DeletedAt = &t2
		return e
	}()}}

	res := MergeCategories(local, cloud, time.Now(), "u1")
	require.Len(t, res.Merged, 1)
	assert.Empty(t, res.Conflicts)
	assert.True(t, res.Merged[0].Deleted)
	assert.Equal(t, int64(5), res.Merged[0].Version)
	assert.Equal(t, t2.Unix(), res.Merged[0].DeletedAt.Unix())
}

// Testable property: merge is idempotent. The merged book carries
// last_synced_version = the cloud version it was merged against; once
// its own version is recorded as synced, merging it against itself
// changes nothing further.
func TestMergeIsIdempotent(t *testing.T) {
	local := []*entity.Book{{ID: "b1", Name: "A", Envelope: env(3, 2)}}
	cloud := []*entity.Book{{ID: "b1", Name: "B", Envelope: env(3, 2)}}
	now := time.Now()
	first := MergeBooks(local, cloud, now, "u1")
	first.Merged[0].LastSyncedVersion = first.Merged[0].Version

	again := MergeBooks(first.Merged, first.Merged, now, "u1")
	require.Len(t, again.Merged, 1)
	assert.Empty(t, again.Conflicts)
	assert.Equal(t, first.Merged[0].Version, again.Merged[0].Version)
}

func TestDocumentMergeAggregatesAcrossCollections(t *testing.T) {
	local := DocumentSet{
		Books:      []*entity.Book{{ID: "b1", Name: "A", Envelope: env(2, 1)}},
		Entries:    []*entity.Entry{{ID: "e1", Remarks: "x", Envelope: env(2, 1)}},
		Categories: []*entity.Category{{ID: "c1", Name: "Food", Envelope: env(2, 1)}},
	}
	cloud := DocumentSet{
		Books:      []*entity.Book{{ID: "b1", Name: "B", Envelope: env(2, 1)}},
		Entries:    []*entity.Entry{{ID: "e1", Remarks: "y", Envelope: env(2, 1)}},
		Categories: []*entity.Category{{ID: "c1", Name: "Food", Envelope: env(2, 1)}},
	}
	res := Document(local, cloud, time.Now(), "u1")
	require.Len(t, res.Books, 1)
	require.Len(t, res.Entries, 1)
	require.Len(t, res.Categories, 1)
	// Book name and entry remarks both diverged -> two conflicts.
	assert.Len(t, res.Conflicts, 2)
}
