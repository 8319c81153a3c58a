// Package entity defines the three replicated entity collections (books,
// entries, categories), their shared envelope, and the tombstone store
// that persists them and enforces referential integrity on write.
package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookID, EntryID, and CategoryID are distinct string newtypes so a
// referential-integrity bug, an Entry's BookID field holding a
// CategoryID by mistake, is a compile error, not a runtime one.
type (
	BookID     string
	EntryID    string
	CategoryID string
)

// PaymentMode enumerates how an Entry's money moved.
type PaymentMode string

const (
	PaymentModeUPI          PaymentMode = "upi"
	PaymentModeCard         PaymentMode = "card"
	PaymentModeCash         PaymentMode = "cash"
	PaymentModeBankTransfer PaymentMode = "bank_transfer"
	PaymentModeWallet       PaymentMode = "wallet"
	PaymentModeOther        PaymentMode = "other"
)

// IngestSource identifies where a pending transaction's raw text came
// from.
type IngestSource string

const (
	SourceSMS    IngestSource = "sms"
	SourceManual IngestSource = "manual"
	SourceCSV    IngestSource = "csv"
)

// Envelope carries the fields every replicated entity shares. It is embedded by value in Book, Entry, and Category; the typed
// ID lives on the concrete struct, not here, so foreign keys can't be
// confused across entity kinds.
type Envelope struct {
	UserID            string
	Version           int64
	LastSyncedVersion int64
	LastModifiedBy    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Deleted           bool
	DeletedAt         *time.Time
}

// Changed reports whether this replica has mutated the entity since its
// last observed sync point.
func (e Envelope) Changed() bool {
	return e.Version > e.LastSyncedVersion
}

// Book is a named ledger in a single currency.
type Book struct {
	ID BookID
	Envelope

	Name        string
	Description string
	Currency    string

	// HasLockedRate distinguishes "no lock yet" from a zero rate; a rate
	// of exactly 0 is never valid so this flag is mostly a documentation
	// aid, but it keeps the zero value unambiguous.
	HasLockedRate      bool
	LockedExchangeRate decimal.Decimal
	TargetCurrency     string
	RateLockedAt       time.Time

	Archived   bool
	ArchivedAt *time.Time
}

// Entry is a single ledger line within exactly one book.
type Entry struct {
	ID EntryID
	Envelope

	BookID       BookID
	Amount       decimal.Decimal // signed: income > 0, expense < 0
	Currency     string
	CategoryID   CategoryID
	Party        string
	PaymentMode  PaymentMode
	Date         time.Time

	NormalizedAmount   decimal.Decimal
	NormalizedCurrency string
	ConversionRate     decimal.Decimal

	Remarks string
}

// Category is a user-owned bucket assigned to entries, matched by ID
// never by name.
type Category struct {
	ID CategoryID
	Envelope

	Name        string
	Description string
	Color       string
	Icon        string

	// IsDefault marks the undeletable "Others" category created for
	// every user on first read. Tracked as an explicit flag
	// rather than a name comparison so renaming "Others" (if ever
	// allowed) wouldn't silently lift the protection.
	IsDefault bool
}

// DefaultCategoryName is the name of the auto-created, undeletable
// category every user gets.
const DefaultCategoryName = "Others"

// Prediction is the classifier's output for a pending transaction
//. It lives in entity, not classifier, so a
// PendingTransaction can embed it without an import cycle back into the
// classifier package.
type Prediction struct {
	BookID      BookID
	CategoryID  CategoryID
	PaymentMode PaymentMode
	Confidence  float64
	Reasoning   string
	// Source records whether the local scorer or a remote LLM produced
	// this prediction, for audit and metrics.
	Source string
}

// PendingTransaction is a local-only, non-replicated parsed transaction
// awaiting user approval.
type PendingTransaction struct {
	ID          string
	UserID      string
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	Currency    string
	Source      IngestSource
	Prediction  *Prediction
	CreatedAt   time.Time
}

// ConfidenceBucket buckets a Prediction.Confidence into a coarse label.
func ConfidenceBucket(confidence float64) string {
	switch {
	case confidence >= 0.80:
		return "high"
	case confidence >= 0.50:
		return "medium"
	default:
		return "low"
	}
}
