// Package external declares the narrow interfaces the core depends on
// but never implements itself: identity, the per-user cloud document,
// local key-value persistence, the FX upstream, and the optional LLM
// provider. Concrete adapters live in sibling files; the
// sync and classifier packages depend only on these interfaces.
package external

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Identity is the current authenticated user as the core sees it.
type Identity struct {
	UserID string
	Token  string
}

// IdentityProvider supplies the current identity and lets the
// orchestrator force a token refresh before a sync round.
type IdentityProvider interface {
	Current(ctx context.Context) (Identity, bool)
	RefreshToken(ctx context.Context, force bool) (string, error)
}

// DocumentPayload is a user's whole cloud document as opaque bytes (the
// marshaled form of a wire.Document): three serialized entity
// collections plus a freshness timestamp, all in one blob.
// External implementations only move bytes; the core converts to/from
// entity types via the wire package.
type DocumentPayload struct {
	Raw         []byte
	LastUpdated time.Time
}

// CloudDocumentStore is the per-user, whole-document read/write/
// subscribe interface.
type CloudDocumentStore interface {
	ReadUserDoc(ctx context.Context, userID string) (DocumentPayload, error)
	WriteUserDoc(ctx context.Context, userID string, payload DocumentPayload) error
	Subscribe(ctx context.Context, userID string, callback func()) (unsubscribe func(), err error)
}

// LocalKV is opaque per-key blob storage for the three replicated
// collections plus a preferences blob. Reads/writes are atomic per key;
// the core performs no cross-key transaction.
type LocalKV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// FXProvider is the upstream exchange-rate source.
type FXProvider interface {
	FetchRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// LLMClassification is the structured response an LLM provider returns
// for a classification prompt.
type LLMClassification struct {
	BookID      string
	CategoryID  string
	PaymentMode string
	Confidence  float64
	Reasoning   string
}

// LLMProvider is the optional classification fallback. The core never
// assumes it is available or correct.
type LLMProvider interface {
	Classify(ctx context.Context, prompt string) (LLMClassification, error)
}
