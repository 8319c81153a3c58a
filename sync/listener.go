package sync

import (
	"context"
	"time"

	"github.com/ledgerflow/ledgercore/wire"
)

// StartAutoSync drains the store's change-notification channel and
// schedules a debounced sync per user. There
// must be exactly one call to StartAutoSync per Orchestrator, the
// store's Changes() channel has a single logical consumer.
func (o *Orchestrator) StartAutoSync(ctx context.Context) {
	changes := o.store.Changes()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-changes:
				if !ok {
					return
				}
				o.scheduleDebouncedSync(ctx, ev.UserID)
			}
		}
	}()
}

// scheduleDebouncedSync collapses rapid mutations into a single sync
// ~DebounceWindow after the last one.
func (o *Orchestrator) scheduleDebouncedSync(ctx context.Context, userID string) {
	o.mu.Lock()
	if t, ok := o.debounce[userID]; ok {
		t.Stop()
	}
	o.debounce[userID] = time.AfterFunc(o.cfg.DebounceWindow, func() {
		if _, err := o.Sync(ctx, userID); err != nil {
			o.logger.Warn().Str("user", userID).Err(err).Msg("auto-sync failed")
		}
	})
	o.mu.Unlock()
}

// ListenRealtime subscribes to the cloud document for userID and, on
// every remote change, performs pull+merge+apply but never push. A change carrying this replica's own
// just-uploaded sync cookie is swallowed as an echo.
func (o *Orchestrator) ListenRealtime(ctx context.Context, userID string) (unsubscribe func(), err error) {
	return o.docs.Subscribe(ctx, userID, func() {
		if o.isOwnEcho(ctx, userID) {
			return
		}
		if _, err := o.pullMergeApply(ctx, userID, false); err != nil {
			o.logger.Warn().Str("user", userID).Err(err).Msg("real-time listener merge failed")
		}
	})
}

// isOwnEcho reads the current cloud document's sync cookie and compares
// it against the cookie this replica itself wrote on its last push,
// clearing the flag once matched so a genuinely distinct remote write
// carrying a stale cookie value is never swallowed twice.
func (o *Orchestrator) isOwnEcho(ctx context.Context, userID string) bool {
	o.mu.Lock()
	cookie, pending := o.justUploaded[userID]
	o.mu.Unlock()
	if !pending {
		return false
	}

	payload, err := o.docs.ReadUserDoc(ctx, userID)
	if err != nil {
		return false
	}
	var doc wire.Document
	if err := wire.Unmarshal(payload.Raw, &doc); err != nil {
		return false
	}
	if doc.SyncCookie != cookie {
		return false
	}

	o.mu.Lock()
	delete(o.justUploaded, userID)
	o.mu.Unlock()
	return true
}
