package classifier

import (
	"strings"
	"sync"

	"github.com/coregx/ahocorasick"

	"github.com/ledgerflow/ledgercore/entity"
)

// MerchantMapping is a learned (merchant pattern -> book, category)
// association. Local-only, never replicated.
type MerchantMapping struct {
	Pattern    string
	BookID     entity.BookID
	CategoryID entity.CategoryID
	Successes  int
	Rejections int
}

// MerchantIndex does strong-override merchant pattern matching: a
// substring hit against a learned pattern adds 30 to the mapped book's
// score and sets the mapped category's score to 90. Rebuilt with an
// Aho-Corasick automaton on every mapping change since ahocorasick
// automata are immutable once built; scoring a transaction description
// against dozens of learned patterns individually would otherwise be
// O(patterns x description length) per call.
type MerchantIndex struct {
	mu        sync.RWMutex
	mappings  map[string]*MerchantMapping // pattern -> mapping
	automaton *ahocorasick.Automaton
	patterns  []string
}

func NewMerchantIndex() *MerchantIndex {
	return &MerchantIndex{mappings: make(map[string]*MerchantMapping)}
}

// Upsert records or updates a learned mapping and rebuilds the
// automaton.
func (idx *MerchantIndex) Upsert(pattern string, bookID entity.BookID, categoryID entity.CategoryID) {
	pattern = normalizeMerchant(pattern)
	if pattern == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.mappings[pattern]
	if !ok {
		m = &MerchantMapping{Pattern: pattern}
		idx.mappings[pattern] = m
	}
	m.BookID = bookID
	m.CategoryID = categoryID
	idx.rebuildLocked()
}

// RecordOutcome adjusts a mapping's success/rejection counters on
// approve/reject. A mapping tombstoned
// by repeated rejection (net score below zero) is removed.
func (idx *MerchantIndex) RecordOutcome(pattern string, approved bool) {
	pattern = normalizeMerchant(pattern)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.mappings[pattern]
	if !ok {
		return
	}
	if approved {
		m.Successes++
		return
	}
	m.Rejections++
	if m.Rejections > m.Successes {
		delete(idx.mappings, pattern)
		idx.rebuildLocked()
	}
}

func (idx *MerchantIndex) rebuildLocked() {
	patterns := make([]string, 0, len(idx.mappings))
	for p := range idx.mappings {
		patterns = append(patterns, p)
	}
	idx.patterns = patterns

	if len(patterns) == 0 {
		idx.automaton = nil
		return
	}
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		// An automaton build failure degrades to "no merchant match";
		// the book/category score falls back to the semantic and
		// name-match axes rather than the strong override.
		idx.automaton = nil
		return
	}
	idx.automaton = automaton
}

// Match returns the first learned mapping whose pattern appears in
// description, if any.
func (idx *MerchantIndex) Match(description string) (*MerchantMapping, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.automaton == nil {
		return nil, false
	}

	haystack := strings.ToLower(description)
	matches := idx.automaton.FindAllOverlapping(haystack)
	if len(matches) == 0 {
		return nil, false
	}
	pattern := idx.patterns[matches[0].PatternID]
	m, ok := idx.mappings[pattern]
	return m, ok
}

// normalizeMerchant produces the stable key learning entries are keyed
// on: lowercase, trimmed, internal whitespace collapsed.
func normalizeMerchant(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}
