package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"repe/message"
	"repe/rpcerr"
)

// RateLimitMiddleware applies a shared token-bucket limiter across all
// requests on the server, kept almost verbatim from the teacher's
// middleware.RateLimitMiddleware: the limiter is constructed once in the
// outer closure (not per-request), and a request that finds the bucket
// empty is short-circuited rather than ever reaching the handler.
//
// r is the refill rate in tokens/second, burst the bucket size.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(_ context.Context, _ *message.Message) Result {
		if !limiter.Allow() {
			return ShortError(rpcerr.ApplicationErrorBase)
		}
		return Continue()
	}
}
