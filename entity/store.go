package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerflow/ledgercore/cache"
	"github.com/ledgerflow/ledgercore/concurrency"
	"github.com/ledgerflow/ledgercore/errs"
)

// RateRequest describes an FX lookup the store needs while writing an
// Entry. Book is non-nil whenever the write has an owning book in hand,
// letting the resolver apply the locked-rate precedence tier without the fx package importing entity's Store.
type RateRequest struct {
	From, To string
	Book     *Book
}

// FXResolver is implemented by fx.Resolver. The store depends on this
// narrow interface rather than the fx package directly so tests can
// supply a fake.
type FXResolver interface {
	Rate(ctx context.Context, req RateRequest) (decimal.Decimal, error)
}

// Persister loads and saves a single user's full local snapshot. It is
// the store's only persistence dependency, kept in terms of entity
// types rather than external.LocalKV directly so entity never imports
// the wire codec that sits on top of LocalKV (that would cycle back
// through entity). localstore.Store implements this against a
// JSON-file-backed external.LocalKV using the wire package.
type Persister interface {
	Load(ctx context.Context, userID string) (books []*Book, entries []*Entry, categories []*Category, ok bool, err error)
	Save(ctx context.Context, userID string, books []*Book, entries []*Entry, categories []*Category) error
}

// ChangeEvent is fired on the Changes channel after every committed
// write, unless the write was made through ApplyMerged (which suppresses
// notification to avoid push loops /§4.5).
type ChangeEvent struct {
	UserID string
	Kind   string // "book", "entry", or "category"
	ID     string
}

// CachePrefix returns the cache-key prefix family that should be
// invalidated for a user's collection of kind, e.g. "books:userId:u1".
func CachePrefix(userID, kind string) string {
	return fmt.Sprintf("%s:userId:%s", kind, userID)
}

func bookCacheKey(userID string, id BookID) string {
	return fmt.Sprintf("entries:bookId:%s", id)
}

// Store persists the three entity collections for every user the
// process serves, enforcing referential and tombstone invariants on
// every write. It owns the read cache and notifies observers, normally
// the sync
// orchestrator's debounce goroutine, over a channel rather than a
// direct method call.
type Store struct {
	mu sync.RWMutex

	books      map[string]map[BookID]*Book
	entries    map[string]map[EntryID]*Entry
	categories map[string]map[CategoryID]*Category

	keyed *concurrency.KeyedMutex
	cache *cache.Cache
	fx    FXResolver

	persist Persister
	loaded  map[string]bool

	changes    chan ChangeEvent
	suppressMu sync.Mutex
	suppressed bool

	tombstoneHorizon time.Duration

	logger zerolog.Logger
}

// Config configures a new Store.
type Config struct {
	// TombstoneHorizon bounds how long a fully-synced tombstone is kept
	// before GC may collect it. Zero means a default of 180 days.
	TombstoneHorizon time.Duration
	// ChangeBuffer sizes the Changes channel. Zero means 256.
	ChangeBuffer int
}

// NewStore constructs an empty Store. fxResolver, c, and persist may all
// be nil in tests that don't exercise FX normalization, cache
// invalidation, or local persistence respectively.
func NewStore(logger zerolog.Logger, fxResolver FXResolver, c *cache.Cache, persist Persister, cfg Config) *Store {
	horizon := cfg.TombstoneHorizon
	if horizon <= 0 {
		horizon = 180 * 24 * time.Hour
	}
	buf := cfg.ChangeBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Store{
		books:            make(map[string]map[BookID]*Book),
		entries:          make(map[string]map[EntryID]*Entry),
		categories:       make(map[string]map[CategoryID]*Category),
		keyed:            concurrency.NewKeyedMutex(),
		cache:            c,
		fx:               fxResolver,
		persist:          persist,
		loaded:           make(map[string]bool),
		changes:          make(chan ChangeEvent, buf),
		tombstoneHorizon: horizon,
		logger:           logger,
	}
}

// Changes returns the channel the sync orchestrator should consume to
// learn about committed mutations: the store owns the cache and the
// sync orchestrator observes the store, not the other way around.
func (s *Store) Changes() <-chan ChangeEvent { return s.changes }

// Suppressed runs fn with change notifications suppressed, used by the
// sync orchestrator's apply-locally step so the
// merge result doesn't re-trigger its own debounced auto-sync.
func (s *Store) Suppressed(fn func()) {
	s.suppressMu.Lock()
	s.suppressed = true
	s.suppressMu.Unlock()
	defer func() {
		s.suppressMu.Lock()
		s.suppressed = false
		s.suppressMu.Unlock()
	}()
	fn()
}

func (s *Store) notify(ev ChangeEvent) {
	s.suppressMu.Lock()
	suppressed := s.suppressed
	s.suppressMu.Unlock()
	if suppressed {
		return
	}
	select {
	case s.changes <- ev:
	default:
		s.logger.Warn().Str("user_id", ev.UserID).Str("kind", ev.Kind).Msg("change channel full, dropping notification")
	}
}

func (s *Store) invalidate(patterns ...string) {
	if s.cache == nil {
		return
	}
	for _, p := range patterns {
		s.cache.InvalidatePattern(p)
	}
}

func newID() string { return uuid.NewString() }

// ensureLoaded populates userID's in-memory collections from the
// configured Persister the first time this process touches that user,
// so a restarted device picks up where its last session left off
// instead of starting from an empty replica. A no-op once loaded, and
// a no-op entirely when no Persister is configured. Local snapshot I/O
// is file-local and fast enough that a background context is used here
// rather than threading a ctx through every store method for this
// alone.
func (s *Store) ensureLoaded(userID string) {
	if s.persist == nil {
		return
	}
	s.mu.RLock()
	done := s.loaded[userID]
	s.mu.RUnlock()
	if done {
		return
	}

	books, entries, categories, ok, err := s.persist.Load(context.Background(), userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[userID] {
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("local snapshot partially unreadable, applying what did parse")
	}
	if ok {
		bm := make(map[BookID]*Book, len(books))
		for _, b := range books {
			bm[b.ID] = b
		}
		em := make(map[EntryID]*Entry, len(entries))
		for _, e := range entries {
			em[e.ID] = e
		}
		cm := make(map[CategoryID]*Category, len(categories))
		for _, c := range categories {
			cm[c.ID] = c
		}
		s.books[userID] = bm
		s.entries[userID] = em
		s.categories[userID] = cm
	}
	s.loaded[userID] = true
}

// persistUserLocked writes userID's current in-memory snapshot through
// the configured Persister. Caller must hold s.mu.
func (s *Store) persistUserLocked(userID string) {
	if s.persist == nil {
		return
	}
	books := make([]*Book, 0, len(s.books[userID]))
	for _, b := range s.books[userID] {
		books = append(books, b)
	}
	entries := make([]*Entry, 0, len(s.entries[userID]))
	for _, e := range s.entries[userID] {
		entries = append(entries, e)
	}
	categories := make([]*Category, 0, len(s.categories[userID]))
	for _, c := range s.categories[userID] {
		categories = append(categories, c)
	}
	if err := s.persist.Save(context.Background(), userID, books, entries, categories); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("local snapshot persist failed")
	}
}

// --- Categories -------------------------------------------------------

// EnsureDefaultCategory returns the user's undeletable "Others" category,
// creating it on first read.
func (s *Store) EnsureDefaultCategory(userID string) *Category {
	s.ensureLoaded(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.categories[userID]
	if byID == nil {
		byID = make(map[CategoryID]*Category)
		s.categories[userID] = byID
	}
	for _, c := range byID {
		if c.IsDefault && !c.Deleted {
			return c
		}
	}

	now := time.Now().UTC()
	c := &Category{
		ID:        CategoryID(newID()),
		Name:      DefaultCategoryName,
		IsDefault: true,
		Envelope: Envelope{
			UserID:            userID,
			Version:           1,
			LastSyncedVersion: 0,
			LastModifiedBy:    userID,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
	byID[c.ID] = c
	s.invalidate(CachePrefix(userID, "categories"))
	s.notify(ChangeEvent{UserID: userID, Kind: "category", ID: string(c.ID)})
	s.persistUserLocked(userID)
	return c
}

// CreateCategoryInput is the payload for CreateCategory.
type CreateCategoryInput struct {
	Name, Description, Color, Icon string
}

// CreateCategory creates a new user-owned category.
func (s *Store) CreateCategory(userID string, in CreateCategoryInput) (*Category, error) {
	const op = "entity.Store.CreateCategory"
	if in.Name == "" {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("name is required"))
	}
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "category", ""))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.categories[userID]
	if byID == nil {
		byID = make(map[CategoryID]*Category)
		s.categories[userID] = byID
	}

	now := time.Now().UTC()
	c := &Category{
		ID:          CategoryID(newID()),
		Name:        in.Name,
		Description: in.Description,
		Color:       in.Color,
		Icon:        in.Icon,
		Envelope: Envelope{
			UserID:         userID,
			Version:        1,
			LastModifiedBy: userID,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
	byID[c.ID] = c
	s.invalidate(CachePrefix(userID, "categories"))
	s.notify(ChangeEvent{UserID: userID, Kind: "category", ID: string(c.ID)})
	s.persistUserLocked(userID)
	return c, nil
}

// DeleteCategory tombstones a category. Deleting the protected "Others"
// category always fails.
func (s *Store) DeleteCategory(userID string, id CategoryID, by string) error {
	const op = "entity.Store.DeleteCategory"
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "category", string(id)))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.categories[userID]
	c, ok := byID[id]
	if !ok {
		return errs.E(op, errs.KindNotFound, fmt.Errorf("category %s", id))
	}
	if c.IsDefault {
		return errs.E(op, errs.KindValidation, fmt.Errorf("the default category cannot be deleted"))
	}
	if c.Deleted {
		return nil
	}
	now := time.Now().UTC()
	c.Deleted = true
	c.DeletedAt = &now
	c.Version++
	c.UpdatedAt = now
	c.LastModifiedBy = by

	s.invalidate(CachePrefix(userID, "categories"))
	s.notify(ChangeEvent{UserID: userID, Kind: "category", ID: string(id)})
	s.persistUserLocked(userID)
	return nil
}

// ListCategories returns categories for userID. includeDeleted selects
// between the "live" and "all" views.
func (s *Store) ListCategories(userID string, includeDeleted bool) []*Category {
	s.ensureLoaded(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Category, 0, len(s.categories[userID]))
	for _, c := range s.categories[userID] {
		if !includeDeleted && c.Deleted {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// GetCategory returns a single category, tombstoned or not.
func (s *Store) GetCategory(userID string, id CategoryID) (*Category, bool) {
	s.ensureLoaded(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[userID][id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// --- Books --------------------------------------------------------------

// CreateBookInput is the payload for CreateBook.
type CreateBookInput struct {
	Name, Description, Currency string
	LockedExchangeRate          decimal.Decimal
	TargetCurrency              string
}

// CreateBook creates a new book, capturing its locked exchange rate at
// creation time so later upstream-rate drift never silently
// changes past entries' normalization.
func (s *Store) CreateBook(userID string, in CreateBookInput, by string) (*Book, error) {
	const op = "entity.Store.CreateBook"
	if in.Name == "" || in.Currency == "" {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("name and currency are required"))
	}

	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "book", ""))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.books[userID]
	if byID == nil {
		byID = make(map[BookID]*Book)
		s.books[userID] = byID
	}

	now := time.Now().UTC()
	b := &Book{
		ID:          BookID(newID()),
		Name:        in.Name,
		Description: in.Description,
		Currency:    in.Currency,
		Envelope: Envelope{
			UserID:         userID,
			Version:        1,
			LastModifiedBy: by,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
	if !in.LockedExchangeRate.IsZero() && in.TargetCurrency != "" {
		b.HasLockedRate = true
		b.LockedExchangeRate = in.LockedExchangeRate
		b.TargetCurrency = in.TargetCurrency
		b.RateLockedAt = now
	}
	byID[b.ID] = b

	s.invalidate(CachePrefix(userID, "books"))
	s.notify(ChangeEvent{UserID: userID, Kind: "book", ID: string(b.ID)})
	s.persistUserLocked(userID)
	return b, nil
}

// UpdateBookPatch describes the mutable fields of a book update.
type UpdateBookPatch struct {
	Name, Description *string
	// Rate edit, when both set, all entries in this book whose currency
	// matches the book currency are recomputed.
	NewLockedExchangeRate *decimal.Decimal
	NewTargetCurrency     *string
}

// UpdateBook applies patch to book id, bumping its version. If the patch
// edits the locked rate, every matching entry is recomputed and its cache
// entries invalidated per scenario S4.
func (s *Store) UpdateBook(ctx context.Context, userID string, id BookID, patch UpdateBookPatch, by string) (*Book, error) {
	const op = "entity.Store.UpdateBook"
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "book", string(id)))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[userID][id]
	if !ok {
		return nil, errs.E(op, errs.KindNotFound, fmt.Errorf("book %s", id))
	}
	if b.Deleted {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("book %s is deleted", id))
	}

	now := time.Now().UTC()
	rateChanged := false
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Description != nil {
		b.Description = *patch.Description
	}
	if patch.NewLockedExchangeRate != nil && patch.NewTargetCurrency != nil {
		b.HasLockedRate = true
		b.LockedExchangeRate = *patch.NewLockedExchangeRate
		b.TargetCurrency = *patch.NewTargetCurrency
		b.RateLockedAt = now
		rateChanged = true
	}
	b.Version++
	b.UpdatedAt = now
	b.LastModifiedBy = by

	if rateChanged {
		for _, e := range s.entries[userID] {
			if e.BookID != id || e.Deleted || e.Currency != b.Currency {
				continue
			}
			norm, err := s.resolveRate(ctx, e.Currency, b)
			if err != nil {
				s.logger.Warn().Err(err).Str("entry_id", string(e.ID)).Msg("rate recompute failed, leaving entry stale")
				continue
			}
			e.ConversionRate = norm
			e.NormalizedAmount = e.Amount.Mul(norm)
			e.NormalizedCurrency = b.TargetCurrency
			e.Version++
			e.UpdatedAt = now
			e.LastModifiedBy = by
		}
		s.invalidate(bookCacheKey(userID, id))
	}

	s.invalidate(CachePrefix(userID, "books"))
	s.notify(ChangeEvent{UserID: userID, Kind: "book", ID: string(id)})
	s.persistUserLocked(userID)
	return b, nil
}

// ArchiveBook hides a book from active lists and the classifier's
// candidate set without deleting it.
func (s *Store) ArchiveBook(userID string, id BookID, by string) (*Book, error) {
	return s.setArchived(userID, id, true, by)
}

// UnarchiveBook restores a book to active lists.
func (s *Store) UnarchiveBook(userID string, id BookID, by string) (*Book, error) {
	return s.setArchived(userID, id, false, by)
}

func (s *Store) setArchived(userID string, id BookID, archived bool, by string) (*Book, error) {
	const op = "entity.Store.setArchived"
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "book", string(id)))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[userID][id]
	if !ok {
		return nil, errs.E(op, errs.KindNotFound, fmt.Errorf("book %s", id))
	}
	now := time.Now().UTC()
	b.Archived = archived
	if archived {
		b.ArchivedAt = &now
	} else {
		b.ArchivedAt = nil
	}
	b.Version++
	b.UpdatedAt = now
	b.LastModifiedBy = by

	s.invalidate(CachePrefix(userID, "books"))
	s.notify(ChangeEvent{UserID: userID, Kind: "book", ID: string(id)})
	s.persistUserLocked(userID)
	return b, nil
}

// DeleteBook tombstones a book. Entries referencing it are left alone;
// a tombstoned book is still a valid referent for its entries.
func (s *Store) DeleteBook(userID string, id BookID, by string) error {
	const op = "entity.Store.DeleteBook"
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "book", string(id)))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[userID][id]
	if !ok {
		return errs.E(op, errs.KindNotFound, fmt.Errorf("book %s", id))
	}
	if b.Deleted {
		return nil
	}
	now := time.Now().UTC()
	b.Deleted = true
	b.DeletedAt = &now
	b.Version++
	b.UpdatedAt = now
	b.LastModifiedBy = by

	s.invalidate(CachePrefix(userID, "books"), bookCacheKey(userID, id))
	s.notify(ChangeEvent{UserID: userID, Kind: "book", ID: string(id)})
	s.persistUserLocked(userID)
	return nil
}

// ListBooks returns books for userID. candidatesOnly additionally
// excludes archived books, matching the classifier's candidate filter.
func (s *Store) ListBooks(userID string, includeDeleted, candidatesOnly bool) []*Book {
	s.ensureLoaded(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Book, 0, len(s.books[userID]))
	for _, b := range s.books[userID] {
		if !includeDeleted && b.Deleted {
			continue
		}
		if candidatesOnly && (b.Deleted || b.Archived) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// GetBook returns a single book, tombstoned or not.
func (s *Store) GetBook(userID string, id BookID) (*Book, bool) {
	s.ensureLoaded(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[userID][id]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// --- Entries --------------------------------------------------------------

// CreateEntryInput is the payload for CreateEntry.
type CreateEntryInput struct {
	BookID      BookID
	Amount      decimal.Decimal
	Currency    string
	CategoryID  CategoryID
	Party       string
	PaymentMode PaymentMode
	Date        time.Time
	Remarks     string
}

// CreateEntry creates a new ledger line, invoking FX resolution to populate
// NormalizedAmount/ConversionRate.
func (s *Store) CreateEntry(ctx context.Context, userID string, in CreateEntryInput, by string) (*Entry, error) {
	const op = "entity.Store.CreateEntry"

	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "entry", ""))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[userID][in.BookID]
	if !ok {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("book_id %s does not exist", in.BookID))
	}
	if book.Deleted {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("cannot write entry into deleted book %s", in.BookID))
	}
	if book.Archived {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("cannot write entry into archived book %s", in.BookID))
	}
	if in.Currency != book.Currency {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("entry currency %s must equal book currency %s", in.Currency, book.Currency))
	}
	if _, ok := s.categories[userID][in.CategoryID]; !ok {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("category_id %s does not exist", in.CategoryID))
	}

	rate, err := s.resolveRate(ctx, in.Currency, book)
	if err != nil {
		return nil, errs.E(op, errs.KindOf(err), err)
	}

	eID := s.entries[userID]
	if eID == nil {
		eID = make(map[EntryID]*Entry)
		s.entries[userID] = eID
	}

	now := time.Now().UTC()
	e := &Entry{
		ID:                 EntryID(newID()),
		BookID:             in.BookID,
		Amount:             in.Amount,
		Currency:           in.Currency,
		CategoryID:         in.CategoryID,
		Party:              in.Party,
		PaymentMode:        in.PaymentMode,
		Date:               in.Date,
		NormalizedAmount:   in.Amount.Mul(rate),
		NormalizedCurrency: book.TargetCurrency,
		ConversionRate:     rate,
		Remarks:            in.Remarks,
		Envelope: Envelope{
			UserID:         userID,
			Version:        1,
			LastModifiedBy: by,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
	if e.NormalizedCurrency == "" {
		e.NormalizedCurrency = book.Currency
	}
	eID[e.ID] = e

	s.invalidate(CachePrefix(userID, "entries"), bookCacheKey(userID, in.BookID))
	s.notify(ChangeEvent{UserID: userID, Kind: "entry", ID: string(e.ID)})
	s.persistUserLocked(userID)
	return e, nil
}

func (s *Store) resolveRate(ctx context.Context, from string, book *Book) (decimal.Decimal, error) {
	if s.fx == nil {
		return decimal.NewFromInt(1), nil
	}
	to := book.TargetCurrency
	if to == "" {
		to = from
	}
	return s.fx.Rate(ctx, RateRequest{From: from, To: to, Book: book})
}

// UpdateEntryPatch describes the mergeable fields of an entry update.
// Rejects deleted=true (deletion goes through DeleteEntry).
type UpdateEntryPatch struct {
	Amount      *decimal.Decimal
	CategoryID  *CategoryID
	Party       *string
	PaymentMode *PaymentMode
	Date        *time.Time
	Remarks     *string
}

// UpdateEntry applies patch, recomputing the normalized amount if the
// amount changed.
func (s *Store) UpdateEntry(ctx context.Context, userID string, id EntryID, patch UpdateEntryPatch, by string) (*Entry, error) {
	const op = "entity.Store.UpdateEntry"
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "entry", string(id)))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID][id]
	if !ok {
		return nil, errs.E(op, errs.KindNotFound, fmt.Errorf("entry %s", id))
	}
	if e.Deleted {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("entry %s is deleted", id))
	}
	book := s.books[userID][e.BookID]

	amountChanged := false
	if patch.Amount != nil {
		e.Amount = *patch.Amount
		amountChanged = true
	}
	if patch.CategoryID != nil {
		if _, ok := s.categories[userID][*patch.CategoryID]; !ok {
			return nil, errs.E(op, errs.KindValidation, fmt.Errorf("category_id %s does not exist", *patch.CategoryID))
		}
		e.CategoryID = *patch.CategoryID
	}
	if patch.Party != nil {
		e.Party = *patch.Party
	}
	if patch.PaymentMode != nil {
		e.PaymentMode = *patch.PaymentMode
	}
	if patch.Date != nil {
		e.Date = *patch.Date
	}
	if patch.Remarks != nil {
		e.Remarks = *patch.Remarks
	}

	if amountChanged && book != nil {
		rate, err := s.resolveRate(ctx, e.Currency, book)
		if err == nil {
			e.ConversionRate = rate
			e.NormalizedAmount = e.Amount.Mul(rate)
		}
	}

	now := time.Now().UTC()
	e.Version++
	e.UpdatedAt = now
	e.LastModifiedBy = by

	s.invalidate(CachePrefix(userID, "entries"), bookCacheKey(userID, e.BookID))
	s.notify(ChangeEvent{UserID: userID, Kind: "entry", ID: string(id)})
	s.persistUserLocked(userID)
	return e, nil
}

// MoveEntry moves an entry to a different book, recomputing its
// normalized amount with the target book's locked rate and invalidating
// both the source and target books' cache entries.
func (s *Store) MoveEntry(ctx context.Context, userID string, id EntryID, targetBookID BookID, by string) (*Entry, error) {
	const op = "entity.Store.MoveEntry"
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "entry", string(id)))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID][id]
	if !ok {
		return nil, errs.E(op, errs.KindNotFound, fmt.Errorf("entry %s", id))
	}
	if e.Deleted {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("entry %s is deleted", id))
	}
	target, ok := s.books[userID][targetBookID]
	if !ok || target.Deleted {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("target book %s does not exist", targetBookID))
	}

	sourceBookID := e.BookID
	e.BookID = targetBookID
	e.Currency = target.Currency

	rate, err := s.resolveRate(ctx, e.Currency, target)
	if err != nil {
		return nil, errs.E(op, errs.KindOf(err), err)
	}
	e.ConversionRate = rate
	e.NormalizedAmount = e.Amount.Mul(rate)
	e.NormalizedCurrency = target.TargetCurrency
	if e.NormalizedCurrency == "" {
		e.NormalizedCurrency = target.Currency
	}

	now := time.Now().UTC()
	e.Version++
	e.UpdatedAt = now
	e.LastModifiedBy = by

	s.invalidate(CachePrefix(userID, "entries"), bookCacheKey(userID, sourceBookID), bookCacheKey(userID, targetBookID))
	s.notify(ChangeEvent{UserID: userID, Kind: "entry", ID: string(id)})
	s.persistUserLocked(userID)
	return e, nil
}

// DeleteEntry tombstones an entry.
func (s *Store) DeleteEntry(userID string, id EntryID, by string) error {
	const op = "entity.Store.DeleteEntry"
	s.ensureLoaded(userID)
	unlock := s.keyed.Lock(key(userID, "entry", string(id)))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID][id]
	if !ok {
		return errs.E(op, errs.KindNotFound, fmt.Errorf("entry %s", id))
	}
	if e.Deleted {
		return nil
	}
	now := time.Now().UTC()
	e.Deleted = true
	e.DeletedAt = &now
	e.Version++
	e.UpdatedAt = now
	e.LastModifiedBy = by

	s.invalidate(CachePrefix(userID, "entries"), bookCacheKey(userID, e.BookID))
	s.notify(ChangeEvent{UserID: userID, Kind: "entry", ID: string(id)})
	s.persistUserLocked(userID)
	return nil
}

// ListEntries returns entries for userID, optionally filtered to one
// book.
func (s *Store) ListEntries(userID string, bookID *BookID, includeDeleted bool) []*Entry {
	s.ensureLoaded(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries[userID]))
	for _, e := range s.entries[userID] {
		if !includeDeleted && e.Deleted {
			continue
		}
		if bookID != nil && e.BookID != *bookID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// GetEntry returns a single entry, tombstoned or not.
func (s *Store) GetEntry(userID string, id EntryID) (*Entry, bool) {
	s.ensureLoaded(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID][id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// --- Bulk replace (used by the sync orchestrator) ------------------------

// ApplyMerged replaces a user's three collections with the merge
// kernel's output, suppressing change notifications so the sync
// orchestrator's own apply step doesn't re-trigger auto-sync. Cache invalidation still fires for every affected
// collection.
func (s *Store) ApplyMerged(userID string, books []*Book, entries []*Entry, categories []*Category) {
	s.Suppressed(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		bm := make(map[BookID]*Book, len(books))
		for _, b := range books {
			bm[b.ID] = b
		}
		em := make(map[EntryID]*Entry, len(entries))
		for _, e := range entries {
			em[e.ID] = e
		}
		cm := make(map[CategoryID]*Category, len(categories))
		for _, c := range categories {
			cm[c.ID] = c
		}
		s.books[userID] = bm
		s.entries[userID] = em
		s.categories[userID] = cm
		s.loaded[userID] = true
		s.persistUserLocked(userID)
	})

	s.invalidate(CachePrefix(userID, "books"), CachePrefix(userID, "entries"), CachePrefix(userID, "categories"))
}

// GC permanently drops tombstones older than the store's
// TombstoneHorizon whose deletion has already round-tripped through at
// least one push/pull (last_synced_version == version). It never
// collects a tombstone that hasn't completed that round trip, so a
// long-offline device can never see a collected entity reappear as
// "new".
func (s *Store) GC(now time.Time) (booksGCed, entriesGCed, categoriesGCed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.tombstoneHorizon)
	for _, byID := range s.books {
		for id, b := range byID {
			if eligibleForGC(b.Envelope, cutoff) {
				delete(byID, id)
				booksGCed++
			}
		}
	}
	for _, byID := range s.entries {
		for id, e := range byID {
			if eligibleForGC(e.Envelope, cutoff) {
				delete(byID, id)
				entriesGCed++
			}
		}
	}
	for _, byID := range s.categories {
		for id, c := range byID {
			if eligibleForGC(c.Envelope, cutoff) {
				delete(byID, id)
				categoriesGCed++
			}
		}
	}
	return
}

func eligibleForGC(e Envelope, cutoff time.Time) bool {
	if !e.Deleted || e.DeletedAt == nil {
		return false
	}
	if e.LastSyncedVersion != e.Version {
		return false
	}
	return e.DeletedAt.Before(cutoff)
}

func key(userID, kind, id string) string {
	return userID + "|" + kind + "|" + id
}
