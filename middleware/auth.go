// Package middleware holds the ledgercored HTTP middleware chain: auth,
// rate limiting, timeouts, CORS, and header hygiene.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/external"
)

type contextKey string

// UserIDContextKey stores the authenticated user ID in request context.
const UserIDContextKey contextKey = "user_id"

// AuthMiddleware validates bearer JWTs on incoming requests and caches
// successfully validated tokens for their remaining lifetime so the
// parse/verify cost isn't paid on every request of a sync-heavy client.
type AuthMiddleware struct {
	logger     zerolog.Logger
	signingKey []byte
	cache      sync.Map // raw token -> *cachedAuth
}

type cachedAuth struct {
	userID    string
	expiresAt time.Time
}

// NewAuthMiddleware creates an auth middleware validating HS256 JWTs
// signed with signingKey.
func NewAuthMiddleware(logger zerolog.Logger, signingKey string) *AuthMiddleware {
	return &AuthMiddleware{
		logger:     logger.With().Str("component", "auth-middleware").Logger(),
		signingKey: []byte(signingKey),
	}
}

// Handler returns the middleware handler function.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, "missing authentication", "Authorization header required")
			return
		}

		token := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			token = authHeader[len("bearer "):]
		}
		if token == "" {
			writeAuthError(w, "invalid authentication", "bearer token cannot be empty")
			return
		}

		if cached, ok := am.cache.Load(token); ok {
			ca := cached.(*cachedAuth)
			if time.Now().Before(ca.expiresAt) {
				am.serveAuthenticated(w, r, next, ca.userID, token)
				return
			}
			am.cache.Delete(token)
		}

		userID, expiresAt, err := am.validate(token)
		if err != nil {
			am.logger.Debug().Err(err).Msg("jwt validation failed")
			writeAuthError(w, "invalid authentication", "token is invalid or expired")
			return
		}
		am.cache.Store(token, &cachedAuth{userID: userID, expiresAt: expiresAt})
		am.serveAuthenticated(w, r, next, userID, token)
	})
}

func (am *AuthMiddleware) serveAuthenticated(w http.ResponseWriter, r *http.Request, next http.Handler, userID, token string) {
	ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
	ctx = external.WithIdentity(ctx, external.Identity{UserID: userID, Token: token})
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (am *AuthMiddleware) validate(rawToken string) (userID string, expiresAt time.Time, err error) {
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return am.signingKey, nil
	})
	if err != nil {
		return "", time.Time{}, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", time.Time{}, jwt.ErrTokenInvalidClaims
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return "", time.Time{}, jwt.ErrTokenInvalidClaims
	}
	return sub, time.Unix(int64(exp), 0), nil
}

func writeAuthError(w http.ResponseWriter, errType, message string) {
	http.Error(w, `{"error":"`+errType+`","message":"`+message+`"}`, http.StatusUnauthorized)
}

// GetUserID extracts the authenticated user ID from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDContextKey).(string); ok {
		return v
	}
	return ""
}
