package entity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/errs"
)

type fakeRate struct{ rate decimal.Decimal }

func (f fakeRate) Rate(ctx context.Context, req RateRequest) (decimal.Decimal, error) {
	if req.Book != nil && req.Book.HasLockedRate && req.Book.TargetCurrency == req.To {
		return req.Book.LockedExchangeRate, nil
	}
	return f.rate, nil
}

func newTestStore() *Store {
	return NewStore(zerolog.Nop(), fakeRate{rate: decimal.NewFromInt(1)}, nil, nil, Config{})
}

func TestCreateBookAssignsVersionOne(t *testing.T) {
	s := newTestStore()
	b, err := s.CreateBook("u1", CreateBookInput{Name: "Wallet", Currency: "USD"}, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.Version)
	assert.EqualValues(t, 0, b.LastSyncedVersion)
	assert.False(t, b.Deleted)
}

func TestDefaultCategoryIsUndeletable(t *testing.T) {
	s := newTestStore()
	c := s.EnsureDefaultCategory("u1")
	require.True(t, c.IsDefault)

	err := s.DeleteCategory("u1", c.ID, "u1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestCreateEntryRejectsWrongCurrency(t *testing.T) {
	s := newTestStore()
	b, err := s.CreateBook("u1", CreateBookInput{Name: "Wallet", Currency: "USD"}, "u1")
	require.NoError(t, err)
	cat := s.EnsureDefaultCategory("u1")

	_, err = s.CreateEntry(context.Background(), "u1", CreateEntryInput{
		BookID:     b.ID,
		Amount:     decimal.NewFromInt(10),
		Currency:   "EUR",
		CategoryID: cat.ID,
		Date:       time.Now(),
	}, "u1")
	require.Error(t, err)
}

func TestCreateEntryRejectsUnknownBook(t *testing.T) {
	s := newTestStore()
	cat := s.EnsureDefaultCategory("u1")
	_, err := s.CreateEntry(context.Background(), "u1", CreateEntryInput{
		BookID:     BookID("does-not-exist"),
		Amount:     decimal.NewFromInt(10),
		Currency:   "USD",
		CategoryID: cat.ID,
		Date:       time.Now(),
	}, "u1")
	require.Error(t, err)
}

func TestDeleteBookVersionNeverDecreases(t *testing.T) {
	s := newTestStore()
	b, err := s.CreateBook("u1", CreateBookInput{Name: "Wallet", Currency: "USD"}, "u1")
	require.NoError(t, err)
	require.NoError(t, s.DeleteBook("u1", b.ID, "u1"))

	got, ok := s.GetBook("u1", b.ID)
	require.True(t, ok)
	assert.True(t, got.Deleted)
	assert.NotNil(t, got.DeletedAt)
	assert.Greater(t, got.Version, int64(1))
}

func TestCreateEntryNormalizesWithLockedRate(t *testing.T) {
	s := NewStore(zerolog.Nop(), fakeRate{rate: decimal.NewFromInt(2)}, nil, nil, Config{})
	b, err := s.CreateBook("u1", CreateBookInput{
		Name: "Wallet", Currency: "SGD",
		LockedExchangeRate: decimal.NewFromFloat(54.31),
		TargetCurrency:     "INR",
	}, "u1")
	require.NoError(t, err)
	cat := s.EnsureDefaultCategory("u1")

	e, err := s.CreateEntry(context.Background(), "u1", CreateEntryInput{
		BookID: b.ID, Amount: decimal.NewFromInt(10), Currency: "SGD", CategoryID: cat.ID, Date: time.Now(),
	}, "u1")
	require.NoError(t, err)
	assert.True(t, e.NormalizedAmount.Equal(decimal.NewFromFloat(543.10)))
}

func TestRateEditRecomputesEntries(t *testing.T) {
	s := newTestStore()
	b, err := s.CreateBook("u1", CreateBookInput{
		Name: "Wallet", Currency: "SGD",
		LockedExchangeRate: decimal.NewFromFloat(54.31),
		TargetCurrency:     "INR",
	}, "u1")
	require.NoError(t, err)
	cat := s.EnsureDefaultCategory("u1")

	e, err := s.CreateEntry(context.Background(), "u1", CreateEntryInput{
		BookID: b.ID, Amount: decimal.NewFromInt(10), Currency: "SGD", CategoryID: cat.ID, Date: time.Now(),
	}, "u1")
	require.NoError(t, err)

	newRate := decimal.NewFromInt(70)
	target := "INR"
	_, err = s.UpdateBook(context.Background(), "u1", b.ID, UpdateBookPatch{
		NewLockedExchangeRate: &newRate,
		NewTargetCurrency:     &target,
	}, "u1")
	require.NoError(t, err)

	got, _ := s.GetEntry("u1", e.ID)
	assert.True(t, got.ConversionRate.Equal(newRate))
	assert.True(t, got.NormalizedAmount.Equal(decimal.NewFromInt(700)))
}

func TestGCOnlyCollectsRoundTrippedTombstones(t *testing.T) {
	s := NewStore(zerolog.Nop(), fakeRate{rate: decimal.NewFromInt(1)}, nil, nil, Config{TombstoneHorizon: time.Hour})
	b, err := s.CreateBook("u1", CreateBookInput{Name: "Wallet", Currency: "USD"}, "u1")
	require.NoError(t, err)
	require.NoError(t, s.DeleteBook("u1", b.ID, "u1"))

	// Not yet round-tripped (LastSyncedVersion != Version): GC leaves it.
	n, _, _ := s.GC(time.Now().Add(48 * time.Hour))
	assert.Equal(t, 0, n)

	got, _ := s.GetBook("u1", b.ID)
	got.LastSyncedVersion = got.Version

	// Can't mutate through the copy returned by GetBook; apply directly
	// via ApplyMerged to simulate a completed push/pull round trip.
	s.ApplyMerged("u1", []*Book{got}, nil, []*Category{s.EnsureDefaultCategory("u1")})

	n, _, _ = s.GC(time.Now().Add(48 * time.Hour))
	assert.Equal(t, 1, n)
}

