// Package localstore implements entity.Persister on top of an
// external.LocalKV, serializing a user's full local snapshot through
// the same wire codec the sync orchestrator uses for the cloud
// document. Kept out of the entity package itself so entity never
// imports wire (wire already imports entity to build its shadow
// types; entity importing it back would cycle).
package localstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/wire"
)

// keyPrefix namespaces this package's keys within a shared LocalKV, in
// case the same KV instance is ever reused for other local blobs (a
// preferences record, say) beyond the three replicated collections.
const keyPrefix = "ledger:snapshot:"

// Store implements entity.Persister against kv.
type Store struct {
	kv external.LocalKV
}

// New constructs a Store. kv is typically an *external.FileKV.
func New(kv external.LocalKV) *Store {
	return &Store{kv: kv}
}

func snapshotKey(userID string) string {
	return keyPrefix + userID
}

// Load reads and parses userID's persisted snapshot. ok is false, with
// a nil error, when nothing has ever been persisted for userID.
func (s *Store) Load(ctx context.Context, userID string) ([]*entity.Book, []*entity.Entry, []*entity.Category, bool, error) {
	raw, ok, err := s.kv.Get(ctx, snapshotKey(userID))
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("localstore.Store.Load: %w", err)
	}
	if !ok {
		return nil, nil, nil, false, nil
	}

	var doc wire.Document
	if err := wire.Unmarshal(raw, &doc); err != nil {
		return nil, nil, nil, false, fmt.Errorf("localstore.Store.Load: %w", err)
	}
	books, entries, categories, quarantined := wire.DocumentFromWire(doc)
	if len(quarantined) > 0 {
		// A corrupt record in the local snapshot excludes just that
		// record rather than failing the whole load, matching how a
		// corrupt cloud document is handled on pull.
		return books, entries, categories, true, quarantined[0]
	}
	return books, entries, categories, true, nil
}

// Save serializes userID's full snapshot and writes it through kv.
func (s *Store) Save(ctx context.Context, userID string, books []*entity.Book, entries []*entity.Entry, categories []*entity.Category) error {
	doc := wire.DocumentToWire(books, entries, categories, time.Now().UTC(), "")
	raw, err := wire.Marshal(doc)
	if err != nil {
		return fmt.Errorf("localstore.Store.Save: %w", err)
	}
	if err := s.kv.Set(ctx, snapshotKey(userID), raw); err != nil {
		return fmt.Errorf("localstore.Store.Save: %w", err)
	}
	return nil
}
