package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/concurrency"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/external"
)

// fixedRate is an entity.FXResolver that always returns the same rate,
// except when the book carries a locked rate for the requested target
// currency, in which case the lock wins.
type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Rate(ctx context.Context, req entity.RateRequest) (decimal.Decimal, error) {
	if req.Book != nil && req.Book.HasLockedRate && req.Book.TargetCurrency == req.To {
		return req.Book.LockedExchangeRate, nil
	}
	return f.rate, nil
}

// S1: delete-preservation. Device A deletes a book and syncs; device B,
// still on the pre-delete version, pulls and must end up with the
// tombstone rather than resurrecting the book.
func TestScenarioS1DeletePreservation(t *testing.T) {
	ctx := context.Background()
	docs := external.NewInMemoryCloudStore()

	storeA := newTestStore(t)
	book, err := storeA.CreateBook("u1", entity.CreateBookInput{Name: "b1", Currency: "USD"}, "u1")
	require.NoError(t, err)
	orchA := New(&fakeIdentity{userID: "u1"}, docs, storeA, concurrency.NewSyncGuard(), Config{}, zerolog.Nop(), nil)
	_, err = orchA.Sync(ctx, "u1")
	require.NoError(t, err)

	// Device B syncs at the same point, so its last_synced_version for
	// b1 matches the cloud's pre-delete version.
	storeB := newTestStore(t)
	orchB := New(&fakeIdentity{userID: "u1"}, docs, storeB, concurrency.NewSyncGuard(), Config{}, zerolog.Nop(), nil)
	_, err = orchB.Sync(ctx, "u1")
	require.NoError(t, err)

	// Device A deletes b1 and syncs again.
	require.NoError(t, storeA.DeleteBook("u1", book.ID, "u1"))
	_, err = orchA.Sync(ctx, "u1")
	require.NoError(t, err)

	// Device B pulls again.
	_, err = orchB.Sync(ctx, "u1")
	require.NoError(t, err)

	live := storeB.ListBooks("u1", false, false)
	assert.Empty(t, live, "deleted book must not resurface in the live view")

	all := storeB.ListBooks("u1", true, false)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted)
}

// S4: rate-edit recompute. Device A locks a book's exchange rate, logs
// an entry against it, then edits the locked rate; the recomputed
// conversion must reach device B through the ordinary sync round trip,
// not just persist locally on A.
func TestScenarioS4RateEditRecompute(t *testing.T) {
	ctx := context.Background()
	docs := external.NewInMemoryCloudStore()
	fx := fixedRate{rate: decimal.NewFromInt(1)}

	storeA := entity.NewStore(zerolog.Nop(), fx, nil, nil, entity.Config{})
	b, err := storeA.CreateBook("u1", entity.CreateBookInput{
		Name: "Travel", Currency: "SGD",
		LockedExchangeRate: decimal.NewFromFloat(54.31),
		TargetCurrency:     "INR",
	}, "u1")
	require.NoError(t, err)
	cat := storeA.EnsureDefaultCategory("u1")

	entryA, err := storeA.CreateEntry(ctx, "u1", entity.CreateEntryInput{
		BookID: b.ID, Amount: decimal.NewFromInt(10), Currency: "SGD", CategoryID: cat.ID, Date: time.Now(),
	}, "u1")
	require.NoError(t, err)

	orchA := New(&fakeIdentity{userID: "u1"}, docs, storeA, concurrency.NewSyncGuard(), Config{}, zerolog.Nop(), nil)
	_, err = orchA.Sync(ctx, "u1")
	require.NoError(t, err)

	storeB := entity.NewStore(zerolog.Nop(), fx, nil, nil, entity.Config{})
	orchB := New(&fakeIdentity{userID: "u1"}, docs, storeB, concurrency.NewSyncGuard(), Config{}, zerolog.Nop(), nil)
	_, err = orchB.Sync(ctx, "u1")
	require.NoError(t, err)

	newRate := decimal.NewFromInt(70)
	target := "INR"
	_, err = storeA.UpdateBook(ctx, "u1", b.ID, entity.UpdateBookPatch{
		NewLockedExchangeRate: &newRate,
		NewTargetCurrency:     &target,
	}, "u1")
	require.NoError(t, err)

	got, ok := storeA.GetEntry("u1", entryA.ID)
	require.True(t, ok)
	assert.True(t, got.ConversionRate.Equal(newRate))
	assert.True(t, got.NormalizedAmount.Equal(decimal.NewFromInt(700)))

	_, err = orchA.Sync(ctx, "u1")
	require.NoError(t, err)
	_, err = orchB.Sync(ctx, "u1")
	require.NoError(t, err)

	onB, ok := storeB.GetEntry("u1", entryA.ID)
	require.True(t, ok)
	assert.True(t, onB.ConversionRate.Equal(newRate), "recomputed rate must propagate to the other device")
	assert.True(t, onB.NormalizedAmount.Equal(decimal.NewFromInt(700)))
}
