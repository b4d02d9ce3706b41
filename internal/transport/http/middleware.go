package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"attest/internal/credential"
	derrors "attest/pkg/domainerrors"
	"attest/pkg/requestcontext"
)

type tokenContextKey struct{}

// tokenFromContext returns the access token the auth middleware stored.
func tokenFromContext(ctx context.Context) (credential.AccessToken, bool) {
	t, ok := ctx.Value(tokenContextKey{}).(credential.AccessToken)
	return t, ok
}

// requestScope stamps every request with an ID and a single request time, so
// services and the audit trail agree on both.
func requestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		ctx = requestcontext.WithTime(ctx, time.Now())
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recovery turns panics into 500s instead of dropped connections.
func recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "panic in handler",
						"path", r.URL.Path, "panic", rec)
					writeError(w, derrors.New(derrors.CodeInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(started).Milliseconds(),
				"request_id", requestcontext.RequestID(r.Context()),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requireToken verifies the bearer token and stores it in the context. The
// token may be inactive at this point; services decide what inactivity means
// for their operation.
func (h *Handler) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, derrors.New(derrors.CodeUnauthorized, "bearer token required"))
			return
		}
		tok, err := h.tokens.Verify(r.Context(), raw)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "token verification failed", "error", err)
			writeError(w, derrors.New(derrors.CodeUnavailable, "token verification unavailable"))
			return
		}
		ctx := context.WithValue(r.Context(), tokenContextKey{}, tok)
		ctx = requestcontext.WithClientID(ctx, tok.ClientID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
