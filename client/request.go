package client

import (
	"time"

	"repe/bodycodec"
	"repe/message"
	"repe/rpcerr"
)

// RequestOption overrides a single call's defaults.
type RequestOption func(*requestConfig)

type requestConfig struct {
	queryFormat message.QueryFormat
	bodyFormat  bodycodec.Format
	timeout     time.Duration
}

// WithQueryFormat overrides the query format for one call.
func WithQueryFormat(f message.QueryFormat) RequestOption {
	return func(rc *requestConfig) { rc.queryFormat = f }
}

// WithBodyFormat overrides the body format for one call.
func WithBodyFormat(f bodycodec.Format) RequestOption {
	return func(rc *requestConfig) { rc.bodyFormat = f }
}

// WithRequestTimeout overrides the client's default timeout for one call.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.timeout = d }
}

func (c *Client) resolveConfig(opts []RequestOption) requestConfig {
	rc := requestConfig{queryFormat: c.queryFormat, bodyFormat: c.bodyFormat, timeout: c.timeout}
	for _, opt := range opts {
		opt(&rc)
	}
	return rc
}

func (c *Client) encodeParams(params any, format bodycodec.Format) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	return c.adapter.Encode(params, format)
}

// SendRequest sends a request and blocks until a correlated response
// arrives or the deadline (per-call override, else the client default)
// elapses. On timeout the pending entry is removed before the error is
// returned, so a later response on the wire is discarded silently
// (spec.md §4.7 step 4, §5 cancellation rule).
func (c *Client) SendRequest(method string, params any, opts ...RequestOption) (*message.Message, error) {
	if !c.connected.Load() {
		return nil, rpcerr.ErrClosed
	}
	rc := c.resolveConfig(opts)

	body, err := c.encodeParams(params, rc.bodyFormat)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1) - 1
	entry := &pendingEntry{slot: make(chan asyncResult, 1), method: method}

	c.requestsMu.Lock()
	c.pending[id] = entry
	c.requestsMu.Unlock()

	req := message.New(id, []byte(method), body, rc.queryFormat, rc.bodyFormat, false, rpcerr.OK)

	c.writeMu.Lock()
	_, writeErr := c.conn.Write(req.Serialize())
	c.writeMu.Unlock()
	if writeErr != nil {
		c.requestsMu.Lock()
		delete(c.pending, id)
		c.requestsMu.Unlock()
		return nil, writeErr
	}

	timer := time.NewTimer(rc.timeout)
	defer timer.Stop()

	select {
	case res := <-entry.slot:
		if res.err != nil {
			return nil, res.err
		}
		return res.msg, nil
	case <-timer.C:
		c.requestsMu.Lock()
		delete(c.pending, id)
		c.requestsMu.Unlock()
		return nil, &rpcerr.TimeoutError{Method: method}
	}
}

// Call sends a request and decodes the response body into reply (a
// pointer), mirroring the teacher's Client.Call(serviceMethod, args,
// reply) signature and error-wrapping style.
func (c *Client) Call(method string, params any, reply any, opts ...RequestOption) error {
	resp, err := c.SendRequest(method, params, opts...)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return resp.ParseBodyAs(c.adapter, reply)
}

// SendNotify sends a one-way request: the notify flag is set, no pending
// entry is registered, and the call returns as soon as the write completes.
func (c *Client) SendNotify(method string, params any, opts ...RequestOption) error {
	if !c.connected.Load() {
		return rpcerr.ErrClosed
	}
	rc := c.resolveConfig(opts)
	body, err := c.encodeParams(params, rc.bodyFormat)
	if err != nil {
		return err
	}
	id := c.nextID.Add(1) - 1
	req := message.New(id, []byte(method), body, rc.queryFormat, rc.bodyFormat, true, rpcerr.OK)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(req.Serialize())
	return err
}

// Future is the handle returned by SendRequestAsync; Await blocks until
// the asynchronous send/receive completes.
type Future struct {
	done chan struct{}
	msg  *message.Message
	err  error
}

// Await blocks until the request completes and returns its result.
func (f *Future) Await() (*message.Message, error) {
	<-f.done
	return f.msg, f.err
}

// SendRequestAsync schedules SendRequest on a background goroutine and
// returns immediately with a Future.
func (c *Client) SendRequestAsync(method string, params any, opts ...RequestOption) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		f.msg, f.err = c.SendRequest(method, params, opts...)
		close(f.done)
	}()
	return f
}

// BatchCall describes one request in a Batch submission.
type BatchCall struct {
	Method string
	Params any
	Opts   []RequestOption
}

// Batch submits N requests concurrently, returning N Futures in the same
// order as calls.
func (c *Client) Batch(calls []BatchCall) []*Future {
	futures := make([]*Future, len(calls))
	for i, call := range calls {
		futures[i] = c.SendRequestAsync(call.Method, call.Params, call.Opts...)
	}
	return futures
}

// AwaitBatch collects every Future's result in order.
func AwaitBatch(futures []*Future) ([]*message.Message, []error) {
	msgs := make([]*message.Message, len(futures))
	errs := make([]error, len(futures))
	for i, f := range futures {
		msgs[i], errs[i] = f.Await()
	}
	return msgs, errs
}
