// Package kit is the transport-neutral endpoint shape behind the MCP tools
// and the HTTP API: an Endpoint takes a decoded request and returns a value
// the transport serialises.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so that the first one is the outermost.
func Chain(outer ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(outer) - 1; i >= 0; i-- {
			next = outer[i](next)
		}
		return next
	}
}

// Logging logs every call of the endpoint named name with its transport,
// request id, duration and error.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint done", attrs...)
			}
			return resp, err
		}
	}
}

// Recover turns a panic in the endpoint into an error so one bad call does
// not take the transport down.
func Recover() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = nil, fmt.Errorf("kit: endpoint panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}
