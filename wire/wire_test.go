package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/entity"
)

func TestBookRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	b := &entity.Book{
		ID:   entity.BookID("b1"),
		Name: "Wallet",
		Envelope: entity.Envelope{
			UserID: "u1", Version: 2, LastSyncedVersion: 1,
			CreatedAt: now, UpdatedAt: now,
		},
		Currency:           "USD",
		HasLockedRate:      true,
		LockedExchangeRate: decimal.NewFromFloat(1.25),
		TargetCurrency:     "EUR",
		RateLockedAt:       now,
	}
	w := BookToWire(b)
	assert.Equal(t, "1.25", *w.LockedExchangeRate)

	back, err := BookFromWire(w)
	require.NoError(t, err)
	assert.Equal(t, b.ID, back.ID)
	assert.True(t, back.LockedExchangeRate.Equal(b.LockedExchangeRate))
	assert.Equal(t, b.CreatedAt.Unix(), back.CreatedAt.Unix())
}

func TestEntryRoundTripDecimalPrecision(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	e := &entity.Entry{
		ID:   entity.EntryID("e1"),
		Envelope: entity.Envelope{UserID: "u1", Version: 1, CreatedAt: now, UpdatedAt: now},
		BookID:             entity.BookID("b1"),
		Amount:             decimal.NewFromFloat(543.10),
		Currency:           "SGD",
		CategoryID:         entity.CategoryID("c1"),
		Date:               now,
		NormalizedAmount:   decimal.NewFromFloat(543.10),
		NormalizedCurrency: "INR",
		ConversionRate:     decimal.NewFromFloat(54.31),
	}
	w := EntryToWire(e)
	back, err := EntryFromWire(w)
	require.NoError(t, err)
	assert.True(t, back.Amount.Equal(e.Amount))
	assert.True(t, back.ConversionRate.Equal(e.ConversionRate))
}

func TestDocumentFromWireQuarantinesBadEntity(t *testing.T) {
	doc := Document{
		Books: []Book{
			{ID: "good", Envelope: Envelope{CreatedAt: time.Now().UTC().Format(timeFormat), UpdatedAt: time.Now().UTC().Format(timeFormat)}},
			{ID: "bad", Envelope: Envelope{CreatedAt: "not-a-time"}},
		},
	}
	books, _, _, quarantined := DocumentFromWire(doc)
	require.Len(t, books, 1)
	require.Len(t, quarantined, 1)
	assert.Equal(t, "bad", quarantined[0].ID)
}
