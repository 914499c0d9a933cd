package middleware

import (
	"context"
	"log"

	"repe/message"
)

// LoggingMiddleware logs the method, id and notify flag of every request,
// notifications included. Unlike the teacher's LoggingMiddleware (which
// wraps the handler to also log duration/errors on the way back out), this
// only sees the pre-dispatch request — the flat middleware contract of
// spec.md §4.6 has no post-processing hook. No per-request duration is
// logged anywhere; server.Server.handleRequest logs only response write
// failures, directly rather than through a middleware.
func LoggingMiddleware() Middleware {
	return func(_ context.Context, req *message.Message) Result {
		log.Printf("repe: dispatching method=%q id=%d notify=%v", req.ParseQuery(), req.Header.ID, req.Header.Notify == 1)
		return Continue()
	}
}
