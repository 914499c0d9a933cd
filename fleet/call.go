package fleet

import (
	"fmt"
	"time"

	"repe/client"
	"repe/message"
)

// CallResult is the outcome of a single node call: exactly one of Result
// (on success) or Error (after retry exhaustion) is set.
type CallResult struct {
	Node    string
	Result  *message.Message
	Error   error
	Elapsed time.Duration
}

// Call runs method against the named node through the fixed-delay retry
// policy of spec.md §4.9: up to retryPolicy.MaxAttempts attempts, sleeping
// retryPolicy.Delay between them, ensuring the client is connected before
// each attempt.
func (f *Fleet) Call(nodeName, method string, params any, opts ...client.RequestOption) CallResult {
	n, ok := f.node(nodeName)
	if !ok {
		return CallResult{Node: nodeName, Error: fmt.Errorf("fleet: no such node %q", nodeName)}
	}
	return f.callWithRetry(n, method, params, opts...)
}

func (f *Fleet) callWithRetry(n *Node, method string, params any, opts ...client.RequestOption) CallResult {
	start := time.Now()
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	callOpts := append(append([]client.RequestOption{}, opts...), client.WithRequestTimeout(timeout))

	var lastErr error
	for attempt := 0; attempt < f.retryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(f.retryPolicy.Delay)
		}

		if !n.Client.Connected() {
			if err := n.Client.Connect(); err != nil {
				lastErr = err
				continue
			}
		}

		resp, err := n.Client.SendRequest(method, params, callOpts...)
		if err != nil {
			lastErr = err
			continue
		}
		return CallResult{Node: n.Name, Result: resp, Elapsed: time.Since(start)}
	}

	return CallResult{Node: n.Name, Error: lastErr, Elapsed: time.Since(start)}
}
