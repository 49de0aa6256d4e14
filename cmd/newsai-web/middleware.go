package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai/internal/auth"
)

type ctxKey int

const requestIDKey ctxKey = iota

// pathID parses the {id} path value. Returns -1 when it is not a positive
// integer.
func pathID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return -1
	}
	return id
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestID tags each request with an id, reusing a well-formed
// X-Request-ID from the client.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// logging logs each request with method, path, status, and duration.
func logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

// recovery catches panics and returns a 500.
func recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic serving request",
						zap.Any("panic", err),
						zap.String("path", r.URL.Path),
						zap.String("request_id", requestID(r.Context())),
					)
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requireAdmin guards mutating routes with an HS256 bearer token. With no
// secret configured the routes stay open.
func requireAdmin(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := auth.BearerToken(r)
			if err == nil {
				_, err = auth.Verify(secret, tok)
			}
			if err != nil {
				logger.Debug("admin auth rejected", zap.Error(err), zap.String("request_id", requestID(r.Context())))
				w.Header().Set("WWW-Authenticate", `Bearer realm="newsai"`)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "admin token required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
