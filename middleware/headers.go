package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// HeaderNormalization enforces a consistent JSON request/response
// envelope and stamps every response with the service identity header,
// regardless of which handler served it.
type HeaderNormalization struct {
	logger zerolog.Logger
}

func NewHeaderNormalization(logger zerolog.Logger) *HeaderNormalization {
	return &HeaderNormalization{logger: logger}
}

var ledgerResponseHeaders = map[string]string{
	"X-Ledgercore": "true",
}

// Handler returns the HTTP middleware handler.
func (h *HeaderNormalization) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct != "" && strings.Contains(ct, "json") && ct != "application/json" {
			r.Header.Set("Content-Type", "application/json")
		}
		if r.Header.Get("Accept") == "" {
			r.Header.Set("Accept", "application/json")
		}

		wrapped := &headerNormWriter{ResponseWriter: w}
		next.ServeHTTP(wrapped, r)
	})
}

// headerNormWriter wraps http.ResponseWriter to stamp response headers
// exactly once, even if the handler calls Write before WriteHeader.
type headerNormWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (hw *headerNormWriter) WriteHeader(code int) {
	if hw.wroteHeader {
		return
	}
	hw.wroteHeader = true
	for k, v := range ledgerResponseHeaders {
		hw.ResponseWriter.Header().Set(k, v)
	}
	hw.ResponseWriter.WriteHeader(code)
}

func (hw *headerNormWriter) Write(b []byte) (int, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	return hw.ResponseWriter.Write(b)
}

func (hw *headerNormWriter) Flush() {
	if f, ok := hw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
