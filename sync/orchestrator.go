// Package sync implements the sync orchestrator: the
// guard -> refresh -> pull -> merge -> apply -> push state machine,
// its retry policy, debounced auto-sync, and the real-time listener
// path.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/concurrency"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/errs"
	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/merge"
	"github.com/ledgerflow/ledgercore/metrics"
	"github.com/ledgerflow/ledgercore/wire"
)

// Status is the outcome of one sync attempt.
type Status struct {
	Skipped   bool
	SyncedAt  time.Time
	Conflicts []merge.Conflict
}

// Config tunes the orchestrator's timing. Zero-value Config uses the
// package defaults.
type Config struct {
	// DebounceWindow is how long auto-sync waits after the last
	// observed mutation before actually syncing.
	DebounceWindow time.Duration
	// RetryDelays is the fixed back-off sequence for transient errors.
	RetryDelays []time.Duration
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 2 * time.Second
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = []time.Duration{500 * time.Millisecond, 1 * time.Second, 1500 * time.Millisecond}
	}
	return c
}

// Orchestrator drives sync for potentially many users concurrently; all
// per-user state is keyed by user ID.
type Orchestrator struct {
	identity external.IdentityProvider
	docs     external.CloudDocumentStore
	store    *entity.Store
	guard    *concurrency.SyncGuard
	cfg      Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	lastSync     map[string]time.Time
	conflicts    map[string][]merge.Conflict
	justUploaded map[string]string // userID -> sync cookie this replica just wrote
	debounce     map[string]*time.Timer
	unsubscribe  map[string]func()
}

// New constructs an Orchestrator. m may be nil in tests that don't
// assert on exported metrics.
func New(identity external.IdentityProvider, docs external.CloudDocumentStore, store *entity.Store, guard *concurrency.SyncGuard, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		identity:     identity,
		docs:         docs,
		store:        store,
		guard:        guard,
		cfg:          cfg.withDefaults(),
		logger:       logger,
		metrics:      m,
		lastSync:     make(map[string]time.Time),
		conflicts:    make(map[string][]merge.Conflict),
		justUploaded: make(map[string]string),
		debounce:     make(map[string]*time.Timer),
		unsubscribe:  make(map[string]func()),
	}
}

// Conflicts returns the pending conflicts surfaced by the most recent
// sync for userID.
func (o *Orchestrator) Conflicts(userID string) []merge.Conflict {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]merge.Conflict{}, o.conflicts[userID]...)
}

// ClearConflicts drops the pending conflict set, e.g. once the user has
// acknowledged them via DELETE /v1/sync/conflicts.
func (o *Orchestrator) ClearConflicts(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.conflicts, userID)
}

// Sync runs the canonical pull -> merge -> push round for userID.
func (o *Orchestrator) Sync(ctx context.Context, userID string) (Status, error) {
	const op = "sync.Orchestrator.Sync"

	start := time.Now()

	// Step 1: guard.
	if !o.guard.TryAcquire(userID) {
		o.recordAttempt("skipped", start)
		return Status{Skipped: true}, nil
	}
	defer o.guard.Release(userID)

	ident, ok := o.identity.Current(ctx)
	if !ok || ident.UserID != userID {
		o.recordAttempt("error", start)
		return Status{}, errs.E(op, errs.KindAuthMissing, fmt.Errorf("no authenticated identity for user %s", userID))
	}

	// Step 2: token refresh.
	if _, err := o.identity.RefreshToken(ctx, true); err != nil {
		o.recordAttempt("error", start)
		if errs.Is(err, errs.KindAuthExpired) || errs.Is(err, errs.KindAuthRevoked) {
			return Status{}, errs.E(op, errs.KindOf(err), fmt.Errorf("session expired, sign-out required: %w", err))
		}
		return Status{}, errs.E(op, errs.KindOf(err), err)
	}

	result, err := o.pullMergeApply(ctx, userID, true)
	if err != nil {
		o.recordAttempt("error", start)
		return Status{}, err
	}
	o.recordAttempt("success", start)
	o.recordMergeResult(result)

	now := time.Now().UTC()
	o.mu.Lock()
	o.lastSync[userID] = now
	o.mu.Unlock()

	return Status{SyncedAt: now, Conflicts: result.Conflicts}, nil
}

// recordAttempt observes SyncDuration and SyncAttempts for one Sync call.
func (o *Orchestrator) recordAttempt(outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.SyncAttempts.WithLabelValues(outcome).Inc()
	o.metrics.SyncDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// recordMergeResult translates a merge.DocumentResult's conflict and
// branch counts into SyncConflicts/MergeEntities increments. The merge
// package itself stays free of any metrics dependency; this is the one
// place its plain Branches/Conflicts data gets turned into collectors.
func (o *Orchestrator) recordMergeResult(result merge.DocumentResult) {
	if o.metrics == nil {
		return
	}
	for _, c := range result.Conflicts {
		o.metrics.SyncConflicts.WithLabelValues(c.EntityKind).Inc()
	}
	for entityKind, branches := range result.Branches {
		for branch, count := range branches {
			o.metrics.MergeEntities.WithLabelValues(entityKind, branch).Add(float64(count))
		}
	}
}

// pullMergeApply runs the pull/merge/apply steps, and, when push is
// true, the push step too. The real-time listener reuses this with
// push=false.
func (o *Orchestrator) pullMergeApply(ctx context.Context, userID string, push bool) (merge.DocumentResult, error) {
	const op = "sync.Orchestrator.pullMergeApply"

	var cloudSet merge.DocumentSet
	var syncCookie string

	retryable := func() error {
		payload, err := o.docs.ReadUserDoc(ctx, userID)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				cloudSet = merge.DocumentSet{}
				return nil
			}
			if errs.Retryable(errs.KindOf(err)) {
				return err
			}
			return backoff.Permanent(err)
		}

		var doc wire.Document
		if err := wire.Unmarshal(payload.Raw, &doc); err != nil {
			return backoff.Permanent(errs.E(op, errs.KindIntegrity, err))
		}
		syncCookie = doc.SyncCookie

		books, entries, categories, quarantined := wire.DocumentFromWire(doc)
		for _, q := range quarantined {
			o.logger.Warn().Str("user", userID).Err(q).Msg("quarantined cloud entity, excluded from this merge round")
		}
		cloudSet = merge.DocumentSet{Books: books, Entries: entries, Categories: categories}
		return nil
	}

	if err := o.withRetry(ctx, retryable); err != nil {
		return merge.DocumentResult{}, errs.E(op, errs.KindOf(err), err)
	}

	// Step 4: load local, including tombstones.
	localSet := merge.DocumentSet{
		Books:      o.store.ListBooks(userID, true, false),
		Entries:    o.store.ListEntries(userID, nil, true),
		Categories: o.store.ListCategories(userID, true),
	}

	// Step 5-6: merge and surface conflicts.
	now := time.Now().UTC()
	result := merge.Document(localSet, cloudSet, now, userID)
	if len(result.Conflicts) > 0 {
		o.mu.Lock()
		o.conflicts[userID] = append(o.conflicts[userID], result.Conflicts...)
		o.mu.Unlock()
	}

	// Step 7: apply locally, suppressing the store's own change
	// notification so this doesn't re-trigger auto-sync.
	o.store.Suppressed(func() {
		o.store.ApplyMerged(userID, result.Books, result.Entries, result.Categories)
	})

	if push {
		if err := o.push(ctx, userID, result, now); err != nil {
			return result, err
		}
	}

	return result, nil
}

// push serializes the merged arrays and writes them atomically to the
// cloud document (step 8), marking the write with a fresh sync cookie
// so the real-time listener can recognize its own echo.
func (o *Orchestrator) push(ctx context.Context, userID string, result merge.DocumentResult, now time.Time) error {
	const op = "sync.Orchestrator.push"

	cookie := uuid.NewString()
	o.mu.Lock()
	o.justUploaded[userID] = cookie
	o.mu.Unlock()

	doc := wire.DocumentToWire(result.Books, result.Entries, result.Categories, now, cookie)
	raw, err := wire.Marshal(doc)
	if err != nil {
		return errs.E(op, errs.KindValidation, err)
	}

	return o.withRetry(ctx, func() error {
		err := o.docs.WriteUserDoc(ctx, userID, external.DocumentPayload{Raw: raw, LastUpdated: now})
		if err != nil && !errs.Retryable(errs.KindOf(err)) {
			return backoff.Permanent(err)
		}
		return err
	})
}

// withRetry applies the fixed back-off sequence to a
// single operation. backoff.Permanent errors stop immediately.
func (o *Orchestrator) withRetry(ctx context.Context, operation func() error) error {
	seq := &fixedSequenceBackOff{delays: o.cfg.RetryDelays}
	return backoff.Retry(func() error {
		return operation()
	}, backoff.WithContext(seq, ctx))
}

// fixedSequenceBackOff implements backoff.BackOff with the exact
// 500ms/1s/1.5s sequence the design calls for, rather than the library's
// default exponential curve.
type fixedSequenceBackOff struct {
	delays []time.Duration
	idx    int
}

func (b *fixedSequenceBackOff) NextBackOff() time.Duration {
	if b.idx >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.idx]
	b.idx++
	return d
}

func (b *fixedSequenceBackOff) Reset() { b.idx = 0 }
