package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type scope int

const (
	scopeRead scope = iota
	scopeWrite
)

// authKeys holds the optional API keys. Auth is disabled while both are
// empty, which is the development mode.
type authKeys struct {
	read  string
	write string
}

func (a authKeys) disabled() bool { return a.read == "" && a.write == "" }

// require enforces the X-API-Key header for one scope. The write key
// opens every endpoint; the read key only read endpoints. When no write
// key is configured, the read key covers write endpoints too. Missing
// key is 401, wrong key 403, and every rejection is logged.
func (a authKeys) require(need scope, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.disabled() {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				logger.Warn("request without api key", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "X-API-Key header required", logger)
				return
			}

			if need == scopeWrite && a.write != "" {
				if !equalKey(provided, a.write) {
					logger.Warn("invalid write key", zap.String("path", r.URL.Path))
					writeError(w, http.StatusForbidden, "Invalid or insufficient API key", logger)
					return
				}
			} else if !equalKey(provided, a.read) && !equalKey(provided, a.write) {
				logger.Warn("invalid api key", zap.String("path", r.URL.Path))
				writeError(w, http.StatusForbidden, "Invalid API key", logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// equalKey compares in constant time; an unset key never matches.
func equalKey(provided, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(want)) == 1
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
