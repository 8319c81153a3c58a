package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledgerflow/ledgercore/entity"
)

// tryLLM runs the optional LLM step. It returns ok=false
// on any failure, protocol violation (an LLM-returned ID that doesn't
// exist locally), or below-threshold confidence, so the caller falls
// through to the local prediction without ever surfacing an error, the
// LLM path is best-effort by design (errs.KindLLMUnavailable).
func (c *Classifier) tryLLM(ctx context.Context, userID string, txn Transaction, books []*entity.Book, categories []*entity.Category) (*entity.Prediction, bool) {
	prompt := c.buildPrompt(userID, txn, books, categories)

	result, err := c.llm.Classify(ctx, prompt)
	if err != nil {
		c.logger.Debug().Err(err).Msg("llm classification unavailable, falling back to local scorer")
		return nil, false
	}

	if result.Confidence < c.cfg.LLMConfidenceThreshold {
		return nil, false
	}
	if !containsBook(books, entity.BookID(result.BookID)) || !containsCategory(categories, entity.CategoryID(result.CategoryID)) {
		c.logger.Warn().Str("book_id", result.BookID).Str("category_id", result.CategoryID).
			Msg("llm returned an id outside the local candidate set, discarding")
		return nil, false
	}

	mode := entity.PaymentMode(result.PaymentMode)
	switch mode {
	case entity.PaymentModeUPI, entity.PaymentModeCard, entity.PaymentModeCash,
		entity.PaymentModeBankTransfer, entity.PaymentModeWallet, entity.PaymentModeOther:
	default:
		mode = c.scorePaymentMode(txn)
	}

	return &entity.Prediction{
		BookID:      entity.BookID(result.BookID),
		CategoryID:  entity.CategoryID(result.CategoryID),
		PaymentMode: mode,
		Confidence:  clip01(result.Confidence),
		Reasoning:   result.Reasoning,
		Source:      "llm",
	}, true
}

func (c *Classifier) buildPrompt(userID string, txn Transaction, books []*entity.Book, categories []*entity.Category) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction: amount=%.2f description=%q currency=%s source=%s\n", txn.Amount, txn.Description, txn.Currency, txn.Source)

	sb.WriteString("Books:\n")
	for _, b := range books {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", b.ID, b.Name, b.Description)
	}

	sb.WriteString("Categories:\n")
	for _, cat := range categories {
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", cat.ID, cat.Name, cat.Description)
	}

	examples := c.recentApprovedEntries(userID, c.cfg.RecentApprovalsForFewShot)
	if len(examples) > 0 {
		sb.WriteString("Recently approved entries:\n")
		for _, e := range examples {
			fmt.Fprintf(&sb, "- amount=%s book=%s category=%s mode=%s\n", e.Amount.String(), e.BookID, e.CategoryID, e.PaymentMode)
		}
	}

	sb.WriteString("Return the best matching book_id, category_id, payment_mode and your confidence.\n")
	return sb.String()
}
