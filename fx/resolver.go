// Package fx implements FX conversion: resolving an exchange rate
// with the precedence locked book rate -> custom override -> upstream
// API, and deduplicating concurrent upstream fetches for the same
// (from, to) pair.
package fx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/ledgerflow/ledgercore/cache"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/errs"
)

// Provider is the upstream rate source (external.FXProvider in practice).
// Declared locally so fx doesn't need to import external, keeping the
// dependency direction inward.
type Provider interface {
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// upstreamCacheTTL is how long an upstream-fetched rate is cached.
const upstreamCacheTTL = 30 * time.Minute

// upstreamTimeout bounds a single upstream call.
const upstreamTimeout = 5 * time.Second

// Resolver implements entity.FXResolver: the locked-rate -> custom
// override -> upstream precedence chain. Modeled as a small ordered
// chain rather than a generic rule engine since the precedence is fixed
// and three-tiered.
type Resolver struct {
	mu        sync.RWMutex
	overrides map[string]decimal.Decimal // "FROM|TO" -> rate

	cache    *cache.Cache
	upstream Provider
	sf       singleflight.Group
	logger   zerolog.Logger
}

// New constructs a Resolver. upstream may be nil in tests that only
// exercise the locked-rate and override tiers.
func New(logger zerolog.Logger, c *cache.Cache, upstream Provider) *Resolver {
	return &Resolver{
		overrides: make(map[string]decimal.Decimal),
		cache:     c,
		upstream:  upstream,
		logger:    logger,
	}
}

// SetOverride installs a user custom rate override for (from, to).
func (r *Resolver) SetOverride(from, to string, rate decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[overrideKey(from, to)] = rate
}

// ClearOverride removes a previously set override.
func (r *Resolver) ClearOverride(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, overrideKey(from, to))
}

func overrideKey(from, to string) string { return from + "|" + to }

// Rate resolves an exchange rate using this precedence:
//  1. req.Book's locked rate, if set and its target currency equals req.To.
//  2. A user custom override for (req.From, req.To).
//  3. The upstream provider, cached ~30 minutes, single-flighted per pair.
func (r *Resolver) Rate(ctx context.Context, req entity.RateRequest) (decimal.Decimal, error) {
	const op = "fx.Resolver.Rate"

	if req.Book != nil && req.Book.HasLockedRate && req.Book.TargetCurrency == req.To {
		return req.Book.LockedExchangeRate, nil
	}

	r.mu.RLock()
	override, ok := r.overrides[overrideKey(req.From, req.To)]
	r.mu.RUnlock()
	if ok {
		return override, nil
	}

	return r.fetchUpstream(ctx, req.From, req.To)
}

func (r *Resolver) fetchUpstream(ctx context.Context, from, to string) (decimal.Decimal, error) {
	const op = "fx.Resolver.fetchUpstream"

	if from == to {
		return decimal.NewFromInt(1), nil
	}

	cacheKey := fmt.Sprintf("fx:rate:%s:%s", from, to)
	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, cacheKey); ok {
			if s, ok := v.(string); ok {
				if d, err := decimal.NewFromString(s); err == nil {
					return d, nil
				}
			}
		}
	}

	if r.upstream == nil {
		return decimal.Decimal{}, errs.E(op, errs.KindNetworkTransient, fmt.Errorf("no upstream fx provider configured for %s->%s", from, to))
	}

	sfKey := from + "->" + to
	v, err, _ := r.sf.Do(sfKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
		defer cancel()

		rate, err := r.upstream.FetchRate(fctx, from, to)
		if err != nil {
			if cached, ok := r.cacheFallback(ctx, cacheKey); ok {
				r.logger.Warn().Err(err).Str("pair", sfKey).Msg("upstream fx fetch failed, serving stale cached rate")
				return cached, nil
			}
			return decimal.Decimal{}, errs.E(op, errs.KindNetworkTransient, err)
		}
		if r.cache != nil {
			r.cache.SetTTL(ctx, cacheKey, rate.String(), upstreamCacheTTL)
		}
		return rate, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.(decimal.Decimal), nil
}

func (r *Resolver) cacheFallback(ctx context.Context, key string) (decimal.Decimal, bool) {
	if r.cache == nil {
		return decimal.Decimal{}, false
	}
	v, ok := r.cache.Get(ctx, key)
	if !ok {
		return decimal.Decimal{}, false
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
