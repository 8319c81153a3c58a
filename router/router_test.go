package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerflow/ledgercore/classifier"
	"github.com/ledgerflow/ledgercore/concurrency"
	"github.com/ledgerflow/ledgercore/config"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/external"
	"github.com/ledgerflow/ledgercore/ruleengine"
	"github.com/ledgerflow/ledgercore/sync"
)

const testSigningKey = "test-signing-key"

func testSetup(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Addr:             ":0",
		Env:              "test",
		RateLimitEnabled: false,
		MaxBodyBytes:     1 << 20,
		DefaultTimeout:   5 * time.Second,
		SyncTimeout:      5 * time.Second,
		JWTSigningKey:    testSigningKey,
	}
	log := zerolog.New(io.Discard).With().Timestamp().Logger()

	store := entity.NewStore(log, nil, nil, nil, entity.Config{})
	docs := external.NewInMemoryCloudStore()
	orch := sync.New(external.NewContextIdentityProvider(), docs, store, concurrency.NewSyncGuard(), sync.Config{}, log, nil)

	rules := ruleengine.NewEngine(log)
	for _, rule := range ruleengine.DefaultRules() {
		rules.AddRule(rule)
	}
	cls := classifier.New(store, classifier.NewMerchantIndex(), rules, nil, classifier.Config{}, log, nil)

	return New(cfg, log, Deps{
		Store:      store,
		Orch:       orch,
		Classifier: cls,
		Pending:    entity.NewPendingQueue(),
	})
}

func TestHealthEndpoints(t *testing.T) {
	r := testSetup(t)

	for _, path := range []string{"/healthz", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestV1RoutesRejectMissingAuth(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/books/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestV1RoutesAllowValidBearerToken(t *testing.T) {
	r := testSetup(t)

	token := signTestToken(t, "u1")
	req := httptest.NewRequest(http.MethodGet, "/v1/books/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/books/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": userID, "exp": time.Now().Add(time.Hour).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}
