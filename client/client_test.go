package client

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"repe/message"
	"repe/rpcerr"
	"repe/server"
)

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func startServer(t *testing.T) (host string, port int) {
	t.Helper()
	srv := server.New()
	srv.Handle("/add", func(_ context.Context, body any, _ *message.Message) (any, *message.Message, error) {
		m := body.(map[string]any)
		return map[string]any{"result": m["a"].(float64) + m["b"].(float64)}, nil, nil
	})
	srv.Handle("/sleep", func(_ context.Context, body any, _ *message.Message) (any, *message.Message, error) {
		time.Sleep(200 * time.Millisecond)
		return map[string]any{"ok": true}, nil, nil
	})

	ln := mustListen(t)
	host, port = splitHostPort(t, ln.Addr().String())
	go srv.ServeListener(ln)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	return host, port
}

func TestClientRequestResponse(t *testing.T) {
	host, port := startServer(t)
	c := New(host, port)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	var reply struct {
		Result float64 `json:"result"`
	}
	if err := c.Call("/add", map[string]any{"a": 5, "b": 3}, &reply); err != nil {
		t.Fatalf("call: %v", err)
	}
	if reply.Result != 8 {
		t.Errorf("expected 8, got %v", reply.Result)
	}
}

func TestClientIDsMonotonicAndUnique(t *testing.T) {
	host, port := startServer(t)
	c := New(host, port)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	var last uint64
	for i := 0; i < 10; i++ {
		id := c.nextID.Add(1) - 1
		if i > 0 && id <= last {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, last)
		}
		last = id
	}

	for i := 0; i < 3; i++ {
		var reply map[string]any
		if err := c.Call("/add", map[string]any{"a": 1, "b": 1}, &reply); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
}

func TestClientTimeout(t *testing.T) {
	host, port := startServer(t)
	c := New(host, port, WithTimeout(20*time.Millisecond))
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	_, err := c.SendRequest("/sleep", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var te *rpcerr.TimeoutError
	if !isTimeoutError(err, &te) {
		t.Errorf("expected TimeoutError, got %T: %v", err, err)
	}

	c.requestsMu.Lock()
	n := len(c.pending)
	c.requestsMu.Unlock()
	if n != 0 {
		t.Errorf("expected pending map to be drained after timeout, got %d entries", n)
	}
}

func isTimeoutError(err error, target **rpcerr.TimeoutError) bool {
	te, ok := err.(*rpcerr.TimeoutError)
	if ok {
		*target = te
	}
	return ok
}

func TestMethodNotFoundError(t *testing.T) {
	host, port := startServer(t)
	c := New(host, port)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	_, err := c.SendRequest("/missing", nil)
	if err == nil || !strings.Contains(err.Error(), "Method not found") {
		t.Fatalf("expected a Method not found error, got %v", err)
	}
}
