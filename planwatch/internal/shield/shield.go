// Package shield is the middleware stack in front of the read API.
// Middleware is ordered: Recover → HeadToGet → SecurityHeaders → MaxBody → RequestID.
package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/planwatch/idgen"
	"github.com/hazyhaar/planwatch/kit"
)

type ctxKey string

// LoggerKey holds the per-request logger.
const LoggerKey ctxKey = "shield_logger"

// APIStack returns the middleware stack of a JSON API. logger receives
// one line per request and every recovered panic.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return []func(http.Handler) http.Handler{
		Recover(logger),
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(64 * 1024),
		RequestID(logger),
	}
}

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
}

// APIHeaders returns headers for responses that are never rendered as pages.
func APIHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
	}
}

// SecurityHeaders sets the configured headers on every response.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if cfg.XContentTypeOptions != "" {
				h.Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			}
			if cfg.XFrameOptions != "" {
				h.Set("X-Frame-Options", cfg.XFrameOptions)
			}
			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			if cfg.CSP != "" {
				h.Set("Content-Security-Policy", cfg.CSP)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet converts HEAD requests to GET so that routes registered with
// r.Get() answer HEAD with 200 instead of 405. net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBody limits every request body to maxBytes.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags the request with the caller's X-Request-ID or a fresh id,
// echoes it in the response, and attaches a per-request logger.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = idgen.RequestID()
			}
			w.Header().Set("X-Request-ID", id)

			reqLog := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
			ctx = context.WithValue(ctx, LoggerKey, reqLog)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			reqLog.Debug("shield: request", "duration_ms", time.Since(start).Milliseconds())
		})
	}
}

// Recover turns a handler panic into a 500 and logs it.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("shield: handler panic", "path", r.URL.Path, "panic", v)
					http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
