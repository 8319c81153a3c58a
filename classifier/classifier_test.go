package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/errs"
	"github.com/ledgerflow/ledgercore/ruleengine"
)

func newTestClassifier(t *testing.T) (*Classifier, *entity.Store, string) {
	t.Helper()
	store := entity.NewStore(zerolog.Nop(), nil, nil, nil, entity.Config{})
	userID := "u1"

	rules := ruleengine.NewEngine(zerolog.Nop())
	for _, r := range ruleengine.DefaultRules() {
		rules.AddRule(r)
	}

	c := New(store, NewMerchantIndex(), rules, nil, Config{}, zerolog.Nop(), nil)
	return c, store, userID
}

// S5: classifier forbids new categories, only existing categories are
// ever returned, even for an unfamiliar merchant.
func TestScenarioS5NoNewCategoriesEverCreated(t *testing.T) {
	c, store, userID := newTestClassifier(t)

	_, err := store.CreateBook(userID, entity.CreateBookInput{Name: "Wallet", Currency: "INR"}, userID)
	require.NoError(t, err)
	store.EnsureDefaultCategory(userID)
	_, err = store.CreateCategory(userID, entity.CreateCategoryInput{Name: "Food"})
	require.NoError(t, err)
	_, err = store.CreateCategory(userID, entity.CreateCategoryInput{Name: "Transport"})
	require.NoError(t, err)

	before := store.ListCategories(userID, false)
	require.Len(t, before, 3)

	pred, err := c.Classify(context.Background(), userID, Transaction{
		Amount: -199, Description: "Netflix subscription", Currency: "INR", Date: time.Now(),
	})
	require.NoError(t, err)

	after := store.ListCategories(userID, false)
	assert.Len(t, after, 3, "no new category may be created by classification")

	found := false
	for _, cat := range after {
		if cat.ID == pred.CategoryID {
			found = true
		}
	}
	assert.True(t, found, "predicted category must be one of the pre-existing ones")
}

// S6: an archived book is excluded from the candidate set.
func TestScenarioS6ArchivedBookExcluded(t *testing.T) {
	c, store, userID := newTestClassifier(t)
	store.EnsureDefaultCategory(userID)

	food, err := store.CreateBook(userID, entity.CreateBookInput{Name: "Food", Description: "groceries and dining", Currency: "INR"}, userID)
	require.NoError(t, err)
	oct, err := store.CreateBook(userID, entity.CreateBookInput{Name: "Oct", Description: "october spending", Currency: "INR"}, userID)
	require.NoError(t, err)
	_, err = store.ArchiveBook(userID, oct.ID, userID)
	require.NoError(t, err)

	pred, err := c.Classify(context.Background(), userID, Transaction{
		Amount: -80, Description: "Ice cream", Currency: "INR", Date: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, food.ID, pred.BookID)
	assert.NotEqual(t, oct.ID, pred.BookID)
}

// Testable property 5: referential safety. A user with no books and no
// categories has an empty candidate set, and Classify refuses it with a
// validation error instead of inventing a book or category.
func TestEmptyCandidateSetIsRefused(t *testing.T) {
	c, _, userID := newTestClassifier(t)
	_, err := c.Classify(context.Background(), userID, Transaction{Amount: -10, Description: "anything"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestSemanticSimilarityExactAndGroupMatches(t *testing.T) {
	assert.Greater(t, semanticSimilarity("Uber ride to airport", "transport"), 0.4)
	assert.Greater(t, semanticSimilarity("Swiggy order", "food delivery"), 0.3)
	assert.Equal(t, 0.0, semanticSimilarity("", "food"))
}

func TestMerchantIndexStrongOverride(t *testing.T) {
	idx := NewMerchantIndex()
	idx.Upsert("swiggy", entity.BookID("b1"), entity.CategoryID("c1"))

	m, ok := idx.Match("SWIGGY ORDER #12345")
	require.True(t, ok)
	assert.Equal(t, entity.BookID("b1"), m.BookID)
}

func TestRecordApprovalFeedsHistoryAndMerchantIndex(t *testing.T) {
	c, store, userID := newTestClassifier(t)
	book, err := store.CreateBook(userID, entity.CreateBookInput{Name: "Food", Currency: "INR"}, userID)
	require.NoError(t, err)
	cat, err := store.CreateCategory(userID, entity.CreateCategoryInput{Name: "Dining"})
	require.NoError(t, err)

	txn := Transaction{Amount: decimal.NewFromInt(500).InexactFloat64(), Description: "Dominos order", Date: time.Now()}
	c.RecordApproval(txn, book.ID, cat.ID)

	m, ok := c.merchants.Match("dominos")
	require.True(t, ok)
	assert.Equal(t, book.ID, m.BookID)
	assert.Equal(t, 1, m.Successes)
}
