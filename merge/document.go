package merge

import (
	"time"

	"github.com/ledgerflow/ledgercore/entity"
)

// DocumentSet is one side's (local or cloud) full replicated state for a
// single user, going into a merge round.
type DocumentSet struct {
	Books      []*entity.Book
	Entries    []*entity.Entry
	Categories []*entity.Category
}

// DocumentResult is the combined output of merging all three collections
// in one sync round.
type DocumentResult struct {
	Books      []*entity.Book
	Entries    []*entity.Entry
	Categories []*entity.Category
	Conflicts  []Conflict
	// Branches maps entity kind ("book", "entry", "category") to the
	// per-branch id counts from that collection's merge pass, for
	// callers that report metrics on merge outcomes.
	Branches map[string]map[string]int
}

// Document merges a user's full local and cloud state in one pass. now
// and by are threaded through to every collection so every touched
// entity gets a consistent updated_at/last_modified_by stamp for this
// sync round.
func Document(local, cloud DocumentSet, now time.Time, by string) DocumentResult {
	books := MergeBooks(local.Books, cloud.Books, now, by)
	entries := MergeEntries(local.Entries, cloud.Entries, now, by)
	categories := MergeCategories(local.Categories, cloud.Categories, now, by)

	var conflicts []Conflict
	conflicts = append(conflicts, books.Conflicts...)
	conflicts = append(conflicts, entries.Conflicts...)
	conflicts = append(conflicts, categories.Conflicts...)

	return DocumentResult{
		Books:      books.Merged,
		Entries:    entries.Merged,
		Categories: categories.Merged,
		Conflicts:  conflicts,
		Branches: map[string]map[string]int{
			"book":     books.Branches,
			"entry":    entries.Branches,
			"category": categories.Branches,
		},
	}
}
