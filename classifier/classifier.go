// Package classifier implements the transaction classifier:
// mapping a parsed transaction to a book/category/payment-mode
// Prediction via weighted multi-axis scoring, with an optional LLM
// fallback and a local-only learning loop.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/errs"
	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/metrics"
	"github.com/ledgerflow/ledgercore/ruleengine"
)

// Config tunes the classifier.
type Config struct {
	// LLMConfidenceThreshold is the minimum confidence an LLM
	// prediction must carry to be used over the local scorer.
	LLMConfidenceThreshold float64
	// LLMEnabled gates whether the optional LLM step runs at all, e.g.
	// per a user preference.
	LLMEnabled bool
	// RecentApprovalsForFewShot bounds how many recent approved entries
	// are sent to the LLM as few-shot examples.
	RecentApprovalsForFewShot int
}

func (c Config) withDefaults() Config {
	if c.LLMConfidenceThreshold <= 0 {
		c.LLMConfidenceThreshold = 0.75
	}
	if c.RecentApprovalsForFewShot <= 0 {
		c.RecentApprovalsForFewShot = 5
	}
	return c
}

// history tracks the per-book approved-amount range and last activity
// used by the amount-range and recency scoring axes.
// Local-only, never replicated.
type history struct {
	mu       sync.Mutex
	lastSeen map[entity.BookID]time.Time
	amounts  map[entity.BookID][2]float64 // [min, max] of approved amounts
}

func newHistory() *history {
	return &history{lastSeen: make(map[entity.BookID]time.Time), amounts: make(map[entity.BookID][2]float64)}
}

func (h *history) record(bookID entity.BookID, amount float64, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSeen[bookID] = at

	abs := amount
	if abs < 0 {
		abs = -abs
	}
	mm, ok := h.amounts[bookID]
	if !ok {
		h.amounts[bookID] = [2]float64{abs, abs}
		return
	}
	if abs < mm[0] {
		mm[0] = abs
	}
	if abs > mm[1] {
		mm[1] = abs
	}
	h.amounts[bookID] = mm
}

func (h *history) amountRangeScore(bookID entity.BookID, amount float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	mm, ok := h.amounts[bookID]
	if !ok {
		return 0
	}
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if abs >= mm[0] && abs <= mm[1] {
		return 1
	}
	// Linear falloff: up to 2x the range width outside the bound still
	// carries partial score.
	width := mm[1] - mm[0]
	if width <= 0 {
		width = mm[1]
	}
	if width <= 0 {
		return 0
	}
	var dist float64
	if abs < mm[0] {
		dist = mm[0] - abs
	} else {
		dist = abs - mm[1]
	}
	score := 1 - dist/(2*width)
	if score < 0 {
		return 0
	}
	return score
}

func (h *history) recencyScore(bookID entity.BookID, now time.Time) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	last, ok := h.lastSeen[bookID]
	if !ok {
		return 0
	}
	days := now.Sub(last).Hours() / 24
	switch {
	case days <= 1:
		return 1
	case days <= 7:
		return 0.7
	case days <= 30:
		return 0.4
	default:
		return 0.1
	}
}

// Transaction is the parsed input the classifier maps to a Prediction.
type Transaction struct {
	Amount      float64
	Description string
	Date        time.Time
	Currency    string
	Source      entity.IngestSource
}

// Classifier scores candidate books/categories for a parsed transaction
// and optionally defers to an LLM.
type Classifier struct {
	store     *entity.Store
	merchants *MerchantIndex
	rules     *ruleengine.Engine
	history   *history
	llm       external.LLMProvider
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New constructs a Classifier. m may be nil in tests that don't assert
// on exported metrics.
func New(store *entity.Store, merchants *MerchantIndex, rules *ruleengine.Engine, llm external.LLMProvider, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Classifier {
	return &Classifier{
		store:     store,
		merchants: merchants,
		rules:     rules,
		history:   newHistory(),
		llm:       llm,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "classifier").Logger(),
		metrics:   m,
	}
}

type bookScore struct {
	book  *entity.Book
	score float64
}

type categoryScore struct {
	category *entity.Category
	score    float64
}

// Classify maps txn to a Prediction for userID. An empty candidate set
// (no live, non-archived books, or no categories) is refused rather
// than silently producing an unusable prediction.
func (c *Classifier) Classify(ctx context.Context, userID string, txn Transaction) (*entity.Prediction, error) {
	const op = "classifier.Classify"

	books := c.store.ListBooks(userID, false, true)
	categories := c.store.ListCategories(userID, false)
	if len(books) == 0 || len(categories) == 0 {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("empty candidate set: %d books, %d categories", len(books), len(categories)))
	}

	now := txn.Date
	if now.IsZero() {
		now = time.Now().UTC()
	}

	bestBook := c.scoreBooks(books, txn, now)
	bestCategory := c.scoreCategories(categories, txn)
	paymentMode := c.scorePaymentMode(txn)

	confidence := clip01((bestBook.score + bestCategory.score) / 200)

	pred := &entity.Prediction{
		BookID:      bestBook.book.ID,
		CategoryID:  bestCategory.category.ID,
		PaymentMode: paymentMode,
		Confidence:  confidence,
		Reasoning:   fmt.Sprintf("local scorer: book=%.1f category=%.1f", bestBook.score, bestCategory.score),
		Source:      "local",
	}

	if c.cfg.LLMEnabled && c.llm != nil {
		if llmPred, ok := c.tryLLM(ctx, userID, txn, books, categories); ok {
			pred = llmPred
		}
	}

	// Referential safety (testable property 5): never return an ID not
	// actually present in the candidate sets, regardless of path taken.
	if !containsBook(books, pred.BookID) || !containsCategory(categories, pred.CategoryID) {
		return nil, errs.E(op, errs.KindIntegrity, fmt.Errorf("prediction referenced a non-candidate id"))
	}

	c.recordPrediction(pred)
	return pred, nil
}

// recordPrediction observes ClassifierScore/ClassifierSource for the
// winning prediction, labeled by which source (local or llm) produced it.
func (c *Classifier) recordPrediction(pred *entity.Prediction) {
	if c.metrics == nil {
		return
	}
	c.metrics.ClassifierScore.WithLabelValues(pred.Source).Observe(pred.Confidence)
	c.metrics.ClassifierSource.WithLabelValues(pred.Source).Inc()
}

func (c *Classifier) scoreBooks(books []*entity.Book, txn Transaction, now time.Time) bookScore {
	var best bookScore
	for _, b := range books {
		score := 0.0
		score += semanticSimilarity(txn.Description, b.Name+" "+b.Description) * 30

		if m, ok := c.merchants.Match(txn.Description); ok && m.BookID == b.ID {
			score += 30
		}

		score += c.history.amountRangeScore(b.ID, txn.Amount) * 20
		score += c.history.recencyScore(b.ID, now) * 15

		if txn.Currency != "" && txn.Currency == b.Currency {
			score += 5
		}

		if score > best.score || best.book == nil {
			best = bookScore{book: b, score: score}
		}
	}
	return best
}

func (c *Classifier) scoreCategories(categories []*entity.Category, txn Transaction) categoryScore {
	var best categoryScore
	for _, cat := range categories {
		score := 0.0

		if m, ok := c.merchants.Match(txn.Description); ok && m.CategoryID == cat.ID {
			score = 90
		} else {
			score += semanticSimilarity(txn.Description, cat.Name+" "+cat.Description) * 70
			score += nameMatchScore(txn.Description, cat.Name) * 30
		}

		if score > best.score || best.category == nil {
			best = categoryScore{category: cat, score: score}
		}
	}
	return best
}

func nameMatchScore(description, name string) float64 {
	if name == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(description), strings.ToLower(name)) {
		return 1
	}
	return 0
}

func (c *Classifier) scorePaymentMode(txn Transaction) entity.PaymentMode {
	if mode, ok := c.rules.Match(txn.Description); ok {
		return mode
	}
	return entity.PaymentModeOther
}

// RecordApproval feeds an approved (possibly edited) prediction back
// into the learning loop: the merchant mapping, the amount-range
// history, and the recency clock.
func (c *Classifier) RecordApproval(txn Transaction, bookID entity.BookID, categoryID entity.CategoryID) {
	merchant := extractMerchant(txn.Description)
	if merchant != "" {
		c.merchants.Upsert(merchant, bookID, categoryID)
		c.merchants.RecordOutcome(merchant, true)
	}
	at := txn.Date
	if at.IsZero() {
		at = time.Now().UTC()
	}
	c.history.record(bookID, txn.Amount, at)
}

// RecordRejection decrements or tombstones the merchant mapping that
// produced a rejected prediction.
func (c *Classifier) RecordRejection(txn Transaction) {
	merchant := extractMerchant(txn.Description)
	if merchant != "" {
		c.merchants.RecordOutcome(merchant, false)
	}
}

// extractMerchant picks a stable-ish merchant token out of a raw
// description: the first non-stopword, non-numeric token, since bank/SMS
// descriptions conventionally lead with the payee name.
func extractMerchant(description string) string {
	tokens := tokenize(description)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

func containsBook(books []*entity.Book, id entity.BookID) bool {
	for _, b := range books {
		if b.ID == id {
			return true
		}
	}
	return false
}

func containsCategory(categories []*entity.Category, id entity.CategoryID) bool {
	for _, cat := range categories {
		if cat.ID == id {
			return true
		}
	}
	return false
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// recentApprovedEntries returns up to n of userID's most recently
// updated, non-deleted entries as few-shot examples for the LLM prompt.
func (c *Classifier) recentApprovedEntries(userID string, n int) []*entity.Entry {
	entries := c.store.ListEntries(userID, nil, false)
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
