// Package middleware implements the REPE server's pre-dispatch middleware
// contract: an ordered list of hooks that run before handler dispatch and
// may short-circuit a request with a full response message or an error
// code (spec.md §4.6 step 3, §6, §9).
//
// This generalizes the teacher's onion-decorator Middleware
// (func(HandlerFunc) HandlerFunc wrapping the whole call, with before/after
// hooks) down to the flatter contract spec.md actually calls for: REPE
// middleware only gets a look at the request before dispatch, and its
// return value is one of three variants rather than a wrapped handler.
// Spec.md §9 explicitly asks for this as a tagged sum rather than runtime
// type dispatch.
package middleware

import (
	"context"

	"repe/message"
	"repe/rpcerr"
)

// Result is the tagged sum a Middleware returns: Continue (proceed to the
// next middleware/handler), a full Response (short-circuit with it
// verbatim), or an ErrorCode (short-circuit into an error response).
// Exactly one of Response/ErrorCode is set when Continue is false.
type Result struct {
	Continue  bool
	Response  *message.Message
	ErrorCode *rpcerr.ErrorCode
}

// Continue lets the request proceed to the next middleware or the handler.
func Continue() Result { return Result{Continue: true} }

// Short short-circuits the request with a fully-formed response message.
func Short(resp *message.Message) Result { return Result{Response: resp} }

// ShortError short-circuits the request into an error response carrying code.
func ShortError(code rpcerr.ErrorCode) Result { return Result{ErrorCode: &code} }

// Middleware inspects an incoming request and decides whether to let it
// proceed. It never sees the handler's response — unlike the teacher's
// decorator middleware, there is no post-processing hook, matching the
// flat pre-dispatch contract spec.md §4.6 describes.
type Middleware func(ctx context.Context, req *message.Message) Result

// Chain runs middlewares in order, returning the first non-Continue result,
// or Continue() if every middleware lets the request through.
func Chain(middlewares []Middleware, ctx context.Context, req *message.Message) Result {
	for _, mw := range middlewares {
		res := mw(ctx, req)
		if !res.Continue {
			return res
		}
	}
	return Continue()
}
