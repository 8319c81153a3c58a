package fx

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/cache"
	"github.com/ledgerflow/ledgercore/entity"
)

type fakeProvider struct {
	calls atomic.Int64
	rate  decimal.Decimal
	delay time.Duration
}

func (f *fakeProvider) FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.rate, nil
}

func TestRateUsesLockedRateWhenTargetMatches(t *testing.T) {
	r := New(zerolog.Nop(), nil, nil)
	book := &entity.Book{HasLockedRate: true, LockedExchangeRate: decimal.NewFromFloat(54.31), TargetCurrency: "INR"}

	rate, err := r.Rate(context.Background(), entity.RateRequest{From: "SGD", To: "INR", Book: book})
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromFloat(54.31)))
}

func TestRateFallsBackToOverrideWhenNoLock(t *testing.T) {
	r := New(zerolog.Nop(), nil, nil)
	r.SetOverride("USD", "EUR", decimal.NewFromFloat(0.9))

	rate, err := r.Rate(context.Background(), entity.RateRequest{From: "USD", To: "EUR"})
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromFloat(0.9)))
}

func TestRateFetchesUpstreamAndCaches(t *testing.T) {
	c := cache.New(zerolog.Nop(), nil, cache.Config{}, nil)
	p := &fakeProvider{rate: decimal.NewFromFloat(1.1)}
	r := New(zerolog.Nop(), c, p)

	rate, err := r.Rate(context.Background(), entity.RateRequest{From: "USD", To: "GBP"})
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromFloat(1.1)))

	_, err = r.Rate(context.Background(), entity.RateRequest{From: "USD", To: "GBP"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestRateSameCurrencyIsIdentity(t *testing.T) {
	r := New(zerolog.Nop(), nil, nil)
	rate, err := r.Rate(context.Background(), entity.RateRequest{From: "USD", To: "USD"})
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestRateDeduplicatesConcurrentFetches(t *testing.T) {
	p := &fakeProvider{rate: decimal.NewFromFloat(2), delay: 20 * time.Millisecond}
	r := New(zerolog.Nop(), nil, p)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = r.Rate(context.Background(), entity.RateRequest{From: "USD", To: "JPY"})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.EqualValues(t, 1, p.calls.Load())
}
