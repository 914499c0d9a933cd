package message

import "repe/rpcerr"

// ErrInvalidHeader is returned whenever header decoding or validation fails:
// bad magic, bad version, or a length invariant violation (spec.md §4.1).
var ErrInvalidHeader = &rpcerr.RPCError{Code: rpcerr.InvalidHeader, Body: "invalid header"}

// ErrInvalidQuery is the sentinel for query bytes that cannot be interpreted
// under their declared QueryFormat. No function in this package returns it.
var ErrInvalidQuery = &rpcerr.RPCError{Code: rpcerr.InvalidQuery, Body: "invalid query"}

// ErrInvalidBody is the sentinel for a body that cannot be decoded under its
// BodyFormat. No function in this package returns it: NewRaw reports a
// length mismatch with ErrInvalidHeader, and ParseBodyAs returns the
// adapter's own InvalidBody RPCError.
var ErrInvalidBody = &rpcerr.RPCError{Code: rpcerr.InvalidBody, Body: "invalid body"}
