// Package wire defines the JSON-serializable shadow types for every
// domain entity and the total domain<->wire conversion functions
//. Timestamps
// cross the wire as RFC3339 UTC strings; amounts and rates cross as
// decimal strings, never floats, so currency math never picks up
// binary-fraction drift. Marshaling uses goccy/go-json, a drop-in,
// faster replacement for encoding/json used on the sync push/pull and
// cache-serialization hot paths.
package wire

import (
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/ledgerflow/ledgercore/entity"
)

// Envelope is the wire shape of entity.Envelope.
type Envelope struct {
	UserID            string  `json:"user_id"`
	Version           int64   `json:"version"`
	LastSyncedVersion int64   `json:"last_synced_version"`
	LastModifiedBy    string  `json:"last_modified_by"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
	Deleted           bool    `json:"deleted"`
	DeletedAt         *string `json:"deleted_at,omitempty"`
}

// Book is the wire shape of entity.Book.
type Book struct {
	ID string `json:"id"`
	Envelope

	Name        string `json:"name"`
	Description string `json:"description"`
	Currency    string `json:"currency"`

	LockedExchangeRate *string `json:"locked_exchange_rate,omitempty"`
	TargetCurrency     string  `json:"target_currency,omitempty"`
	RateLockedAt       *string `json:"rate_locked_at,omitempty"`

	Archived   bool    `json:"archived"`
	ArchivedAt *string `json:"archived_at,omitempty"`
}

// Entry is the wire shape of entity.Entry.
type Entry struct {
	ID string `json:"id"`
	Envelope

	BookID      string `json:"book_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CategoryID  string `json:"category"`
	Party       string `json:"party"`
	PaymentMode string `json:"payment_mode"`
	Date        string `json:"date"`

	NormalizedAmount   string `json:"normalized_amount"`
	NormalizedCurrency string `json:"normalized_currency"`
	ConversionRate     string `json:"conversion_rate"`

	Remarks string `json:"remarks"`
}

// Category is the wire shape of entity.Category.
type Category struct {
	ID string `json:"id"`
	Envelope

	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
	IsDefault   bool   `json:"is_default"`
}

// Document is the per-user cloud document: a single record
// holding all three collections plus a last_updated timestamp.
type Document struct {
	Books      []Book     `json:"books"`
	Entries    []Entry    `json:"entries"`
	Categories []Category `json:"categories"`
	LastUpdated string    `json:"last_updated"`
	// SyncCookie is the "just-uploaded" echo-suppression marker the
	// orchestrator writes on push and compares on listener fire.
	SyncCookie string `json:"sync_cookie,omitempty"`
}

const timeFormat = time.RFC3339

func timeToWire(t time.Time) string { return t.UTC().Format(timeFormat) }

func timeFromWire(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, s)
}

func optTimeToWire(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timeToWire(*t)
	return &s
}

func optTimeFromWire(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := timeFromWire(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func envelopeToWire(e entity.Envelope) Envelope {
	return Envelope{
		UserID:            e.UserID,
		Version:           e.Version,
		LastSyncedVersion: e.LastSyncedVersion,
		LastModifiedBy:    e.LastModifiedBy,
		CreatedAt:         timeToWire(e.CreatedAt),
		UpdatedAt:         timeToWire(e.UpdatedAt),
		Deleted:           e.Deleted,
		DeletedAt:         optTimeToWire(e.DeletedAt),
	}
}

func envelopeFromWire(w Envelope) (entity.Envelope, error) {
	createdAt, err := timeFromWire(w.CreatedAt)
	if err != nil {
		return entity.Envelope{}, fmt.Errorf("created_at: %w", err)
	}
	updatedAt, err := timeFromWire(w.UpdatedAt)
	if err != nil {
		return entity.Envelope{}, fmt.Errorf("updated_at: %w", err)
	}
	deletedAt, err := optTimeFromWire(w.DeletedAt)
	if err != nil {
		return entity.Envelope{}, fmt.Errorf("deleted_at: %w", err)
	}
	return entity.Envelope{
		UserID:            w.UserID,
		Version:           w.Version,
		LastSyncedVersion: w.LastSyncedVersion,
		LastModifiedBy:    w.LastModifiedBy,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
		Deleted:           w.Deleted,
		DeletedAt:         deletedAt,
	}, nil
}

// BookToWire converts a domain Book to its wire shape.
func BookToWire(b *entity.Book) Book {
	w := Book{
		ID:          string(b.ID),
		Envelope:    envelopeToWire(b.Envelope),
		Name:        b.Name,
		Description: b.Description,
		Currency:    b.Currency,
		TargetCurrency: b.TargetCurrency,
		Archived:    b.Archived,
		ArchivedAt:  optTimeToWire(b.ArchivedAt),
	}
	if b.HasLockedRate {
		rate := b.LockedExchangeRate.String()
		w.LockedExchangeRate = &rate
		lockedAt := timeToWire(b.RateLockedAt)
		w.RateLockedAt = &lockedAt
	}
	return w
}

// BookFromWire converts a wire Book back to the domain type.
func BookFromWire(w Book) (*entity.Book, error) {
	env, err := envelopeFromWire(w.Envelope)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", w.ID, err)
	}
	b := &entity.Book{
		ID:             entity.BookID(w.ID),
		Envelope:       env,
		Name:           w.Name,
		Description:    w.Description,
		Currency:       w.Currency,
		TargetCurrency: w.TargetCurrency,
		Archived:       w.Archived,
	}
	if w.LockedExchangeRate != nil {
		rate, err := decimal.NewFromString(*w.LockedExchangeRate)
		if err != nil {
			return nil, fmt.Errorf("book %s: locked_exchange_rate: %w", w.ID, err)
		}
		b.HasLockedRate = true
		b.LockedExchangeRate = rate
	}
	if w.RateLockedAt != nil {
		t, err := timeFromWire(*w.RateLockedAt)
		if err != nil {
			return nil, fmt.Errorf("book %s: rate_locked_at: %w", w.ID, err)
		}
		b.RateLockedAt = t
	}
	archivedAt, err := optTimeFromWire(w.ArchivedAt)
	if err != nil {
		return nil, fmt.Errorf("book %s: archived_at: %w", w.ID, err)
	}
	b.ArchivedAt = archivedAt
	return b, nil
}

// EntryToWire converts a domain Entry to its wire shape.
func EntryToWire(e *entity.Entry) Entry {
	return Entry{
		ID:                 string(e.ID),
		Envelope:           envelopeToWire(e.Envelope),
		BookID:             string(e.BookID),
		Amount:             e.Amount.String(),
		Currency:           e.Currency,
		CategoryID:         string(e.CategoryID),
		Party:              e.Party,
		PaymentMode:        string(e.PaymentMode),
		Date:               timeToWire(e.Date),
		NormalizedAmount:   e.NormalizedAmount.String(),
		NormalizedCurrency: e.NormalizedCurrency,
		ConversionRate:     e.ConversionRate.String(),
		Remarks:            e.Remarks,
	}
}

// EntryFromWire converts a wire Entry back to the domain type.
func EntryFromWire(w Entry) (*entity.Entry, error) {
	env, err := envelopeFromWire(w.Envelope)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", w.ID, err)
	}
	amount, err := decimal.NewFromString(orZero(w.Amount))
	if err != nil {
		return nil, fmt.Errorf("entry %s: amount: %w", w.ID, err)
	}
	normAmount, err := decimal.NewFromString(orZero(w.NormalizedAmount))
	if err != nil {
		return nil, fmt.Errorf("entry %s: normalized_amount: %w", w.ID, err)
	}
	convRate, err := decimal.NewFromString(orZero(w.ConversionRate))
	if err != nil {
		return nil, fmt.Errorf("entry %s: conversion_rate: %w", w.ID, err)
	}
	date, err := timeFromWire(w.Date)
	if err != nil {
		return nil, fmt.Errorf("entry %s: date: %w", w.ID, err)
	}
	return &entity.Entry{
		ID:                 entity.EntryID(w.ID),
		Envelope:           env,
		BookID:             entity.BookID(w.BookID),
		Amount:             amount,
		Currency:           w.Currency,
		CategoryID:         entity.CategoryID(w.CategoryID),
		Party:              w.Party,
		PaymentMode:        entity.PaymentMode(w.PaymentMode),
		Date:               date,
		NormalizedAmount:   normAmount,
		NormalizedCurrency: w.NormalizedCurrency,
		ConversionRate:     convRate,
		Remarks:            w.Remarks,
	}, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// CategoryToWire converts a domain Category to its wire shape.
func CategoryToWire(c *entity.Category) Category {
	return Category{
		ID:          string(c.ID),
		Envelope:    envelopeToWire(c.Envelope),
		Name:        c.Name,
		Description: c.Description,
		Color:       c.Color,
		Icon:        c.Icon,
		IsDefault:   c.IsDefault,
	}
}

// CategoryFromWire converts a wire Category back to the domain type.
func CategoryFromWire(w Category) (*entity.Category, error) {
	env, err := envelopeFromWire(w.Envelope)
	if err != nil {
		return nil, fmt.Errorf("category %s: %w", w.ID, err)
	}
	return &entity.Category{
		ID:          entity.CategoryID(w.ID),
		Envelope:    env,
		Name:        w.Name,
		Description: w.Description,
		Color:       w.Color,
		Icon:        w.Icon,
		IsDefault:   w.IsDefault,
	}, nil
}

// DocumentToWire builds the full per-user cloud document wire shape.
func DocumentToWire(books []*entity.Book, entries []*entity.Entry, categories []*entity.Category, lastUpdated time.Time, syncCookie string) Document {
	d := Document{
		LastUpdated: timeToWire(lastUpdated),
		SyncCookie:  syncCookie,
	}
	for _, b := range books {
		d.Books = append(d.Books, BookToWire(b))
	}
	for _, e := range entries {
		d.Entries = append(d.Entries, EntryToWire(e))
	}
	for _, c := range categories {
		d.Categories = append(d.Categories, CategoryToWire(c))
	}
	return d
}

// QuarantineError records one cloud entity that failed envelope
// validation during parsing (errs.KindIntegrity). The entity is excluded
// from the merge round but the rest of the document still parses.
type QuarantineError struct {
	Kind string // "book", "entry", or "category"
	ID   string
	Err  error
}

func (q QuarantineError) Error() string {
	return fmt.Sprintf("quarantined %s %s: %v", q.Kind, q.ID, q.Err)
}

// DocumentFromWire parses a cloud document back into domain slices. An
// entity that fails to parse is quarantined (excluded, reported in
// quarantined) rather than aborting the whole document, so one corrupt
// record never blocks the rest of the sync round.
func DocumentFromWire(d Document) (books []*entity.Book, entries []*entity.Entry, categories []*entity.Category, quarantined []QuarantineError) {
	for _, wb := range d.Books {
		b, err := BookFromWire(wb)
		if err != nil {
			quarantined = append(quarantined, QuarantineError{Kind: "book", ID: wb.ID, Err: err})
			continue
		}
		books = append(books, b)
	}
	for _, we := range d.Entries {
		e, err := EntryFromWire(we)
		if err != nil {
			quarantined = append(quarantined, QuarantineError{Kind: "entry", ID: we.ID, Err: err})
			continue
		}
		entries = append(entries, e)
	}
	for _, wc := range d.Categories {
		c, err := CategoryFromWire(wc)
		if err != nil {
			quarantined = append(quarantined, QuarantineError{Kind: "category", ID: wc.ID, Err: err})
			continue
		}
		categories = append(categories, c)
	}
	return books, entries, categories, quarantined
}

// Marshal serializes v using goccy/go-json.
func Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

// Unmarshal deserializes data into v using goccy/go-json.
func Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
