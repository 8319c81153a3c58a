package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/classifier"
	"github.com/ledgerflow/ledgercore/concurrency"
	"github.com/ledgerflow/ledgercore/config"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/router"
	"github.com/ledgerflow/ledgercore/ruleengine"
	"github.com/ledgerflow/ledgercore/sync"
)

// Full-stack integration tests drive the real router, handlers, entity
// store, and sync orchestrator together over HTTP. They need no external
// services (the cloud document store and cache are in-memory stand-ins),
// so they run by default under `go test` rather than behind a
// docker-compose-gated skip.

const signingKey = "integration-test-key"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zerolog.New(io.Discard)
	cfg := &config.Config{
		Env:            "test",
		MaxBodyBytes:   1 << 20,
		DefaultTimeout: 5 * time.Second,
		SyncTimeout:    5 * time.Second,
		JWTSigningKey:  signingKey,
	}

	store := entity.NewStore(log, nil, nil, nil, entity.Config{})
	docs := external.NewInMemoryCloudStore()
	orch := sync.New(external.NewContextIdentityProvider(), docs, store, concurrency.NewSyncGuard(), sync.Config{}, log, nil)

	rules := ruleengine.NewEngine(log)
	for _, rule := range ruleengine.DefaultRules() {
		rules.AddRule(rule)
	}
	cls := classifier.New(store, classifier.NewMerchantIndex(), rules, nil, classifier.Config{}, log, nil)

	h := router.New(cfg, log, router.Deps{
		Store:      store,
		Orch:       orch,
		Classifier: cls,
		Pending:    entity.NewPendingQueue(),
	})
	return httptest.NewServer(h)
}

func authedRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	claims := jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(signingKey))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// TestEndToEndBookEntryAndSync exercises a realistic client session:
// create a book, add an entry against it, trigger a sync, and confirm
// the round trip leaves no conflicts against a fresh cloud document.
func TestEndToEndBookEntryAndSync(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	createBookReq := authedRequest(t, http.MethodPost, srv.URL+"/v1/books/", map[string]any{
		"name":     "Wallet",
		"currency": "INR",
	})
	resp, err := http.DefaultClient.Do(createBookReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var book entity.Book
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&book))

	categoriesReq := authedRequest(t, http.MethodGet, srv.URL+"/v1/categories/", nil)
	resp, err = http.DefaultClient.Do(categoriesReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var categories []entity.Category
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&categories))
	require.NotEmpty(t, categories, "a default category should be provisioned on first access")

	createEntryReq := authedRequest(t, http.MethodPost, srv.URL+"/v1/entries/", map[string]any{
		"book_id":      book.ID,
		"category_id":  categories[0].ID,
		"amount":       "-199.00",
		"currency":     "INR",
		"party":        "Swiggy",
		"payment_mode": "upi",
		"date":         time.Now().Format(time.RFC3339),
	})
	resp, err = http.DefaultClient.Do(createEntryReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	syncReq := authedRequest(t, http.MethodPost, srv.URL+"/v1/sync/", nil)
	resp, err = http.DefaultClient.Do(syncReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status sync.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Empty(t, status.Conflicts, "first sync against an empty cloud document should never conflict")

	conflictsReq := authedRequest(t, http.MethodGet, srv.URL+"/v1/sync/conflicts", nil)
	resp, err = http.DefaultClient.Do(conflictsReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestEndToEndIngestApprovalFlow drives a transaction through the
// classifier and into the pending-approval queue, then approves it.
func TestEndToEndIngestApprovalFlow(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	// The classifier refuses an empty candidate set, so the user needs a
	// book and a category before anything can be ingested.
	createBookReq := authedRequest(t, http.MethodPost, srv.URL+"/v1/books/", map[string]any{
		"name":     "Food",
		"currency": "INR",
	})
	resp, err := http.DefaultClient.Do(createBookReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	categoriesReq := authedRequest(t, http.MethodGet, srv.URL+"/v1/categories/", nil)
	resp, err = http.DefaultClient.Do(categoriesReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ingestReq := authedRequest(t, http.MethodPost, srv.URL+"/v1/ingest/", map[string]any{
		"description": "UPI/P2M/Swiggy Bangalore/499.00",
		"amount":      -499.00,
		"currency":    "INR",
		"date":        time.Now().Format(time.RFC3339),
	})
	resp, err = http.DefaultClient.Do(ingestReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var pending entity.PendingTransaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	require.NotEmpty(t, pending.ID)

	approveReq := authedRequest(t, http.MethodPost, srv.URL+"/v1/ingest/pending/"+pending.ID+"/approve", map[string]any{
		"book_id": "book-1",
	})
	resp, err = http.DefaultClient.Do(approveReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listReq := authedRequest(t, http.MethodGet, srv.URL+"/v1/ingest/pending", nil)
	resp, err = http.DefaultClient.Do(listReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var remaining []entity.PendingTransaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&remaining))
	for _, p := range remaining {
		require.NotEqual(t, pending.ID, p.ID, "approved transaction should have left the pending queue")
	}
}
