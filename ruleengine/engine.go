// Package ruleengine implements the classifier's payment-mode keyword
// lookup: priority-ordered rules, first match wins.
// Adapted from a larger priority-ordered condition-matching routing
// engine, trimmed to the one condition type this domain needs
// (case-insensitive keyword containment over a transaction's
// description) and to a single action (PaymentMode) instead of a
// general routing decision.
package ruleengine

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/entity"
)

// Rule maps a set of description keywords to a payment mode.
// Lower Priority values are evaluated first.
type Rule struct {
	ID          string
	Keywords    []string
	PaymentMode entity.PaymentMode
	Priority    int
}

// Engine evaluates rules in priority order, first match wins.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	logger zerolog.Logger
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "ruleengine").Logger()}
}

// AddRule inserts rule and re-sorts by priority.
func (e *Engine) AddRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority < e.rules[j].Priority })
}

// Rules returns a snapshot of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule{}, e.rules...)
}

// Match returns the payment mode of the first rule whose keyword set
// matches description, case-insensitively.
func (e *Engine) Match(description string) (entity.PaymentMode, bool) {
	lower := strings.ToLower(description)

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return rule.PaymentMode, true
			}
		}
	}
	return "", false
}

// DefaultRules are the normative keyword sets from 
// payment-mode scoring axis.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "upi", Priority: 10, PaymentMode: entity.PaymentModeUPI,
			Keywords: []string{"upi", "gpay", "google pay", "phonepe", "paytm upi", "@ybl", "@okhdfcbank", "@okaxis", "bhim"}},
		{ID: "bank_transfer", Priority: 20, PaymentMode: entity.PaymentModeBankTransfer,
			Keywords: []string{"neft", "imps", "rtgs", "bank transfer", "wire transfer", "ach"}},
		{ID: "card", Priority: 30, PaymentMode: entity.PaymentModeCard,
			Keywords: []string{"card", "visa", "mastercard", "rupay", "pos ", "debit", "credit"}},
		{ID: "wallet", Priority: 40, PaymentMode: entity.PaymentModeWallet,
			Keywords: []string{"wallet", "paytm wallet", "amazon pay", "mobikwik"}},
		{ID: "cash", Priority: 50, PaymentMode: entity.PaymentModeCash,
			Keywords: []string{"cash", "atm withdrawal", "cash deposit"}},
	}
}
