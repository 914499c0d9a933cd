package fleet

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"repe/message"
	"repe/server"
)

func startFleetTestServer(t *testing.T, name string) NodeSpec {
	t.Helper()
	srv := server.New()
	srv.Handle("/status", func(_ context.Context, _ any, _ *message.Message) (any, *message.Message, error) {
		return map[string]any{"ok": true}, nil, nil
	})
	srv.Handle("/echo", func(_ context.Context, body any, _ *message.Message) (any, *message.Message, error) {
		return body, nil, nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	go srv.ServeListener(ln)
	t.Cleanup(func() { srv.Shutdown(time.Second) })

	return NodeSpec{Name: name, Host: host, Port: port, Tags: []string{"test"}}
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New([]NodeSpec{{Name: "a"}, {Name: "a"}})
	if err == nil {
		t.Fatal("expected error for duplicate node names")
	}
}

func TestConnectAndCall(t *testing.T) {
	spec := startFleetTestServer(t, "node-a")
	f, err := New([]NodeSpec{spec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	result := f.Connect()
	if len(result.Failed) != 0 {
		t.Fatalf("connect failures: %v", result.Failed)
	}

	res := f.Call("node-a", "/echo", map[string]any{"x": 1})
	if res.Error != nil {
		t.Fatalf("call: %v", res.Error)
	}
}

func TestCallUnknownNode(t *testing.T) {
	f, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res := f.Call("missing", "/x", nil)
	if res.Error == nil {
		t.Fatal("expected error for unknown node")
	}
}

func TestBroadcastFiltersByTags(t *testing.T) {
	specA := startFleetTestServer(t, "a")
	specB := startFleetTestServer(t, "b")
	specB.Tags = []string{"other"}

	f, err := New([]NodeSpec{specA, specB})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	f.Connect()

	results := f.Broadcast("/status", nil, []string{"test"})
	if len(results) != 1 {
		t.Fatalf("expected 1 result for tag filter, got %d", len(results))
	}
	if _, ok := results["a"]; !ok {
		t.Errorf("expected node 'a' in results, got %v", results)
	}
}

func TestHealthCheck(t *testing.T) {
	spec := startFleetTestServer(t, "h")
	f, err := New([]NodeSpec{spec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	statuses := f.HealthCheck()
	st, ok := statuses["h"]
	if !ok {
		t.Fatal("expected status for node h")
	}
	if !st.Healthy {
		t.Errorf("expected healthy, got error: %v", st.Error)
	}
}

func TestCallRetriesThenFails(t *testing.T) {
	f, err := New([]NodeSpec{{Name: "down", Host: "127.0.0.1", Port: 1}},
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res := f.Call("down", "/x", nil)
	if res.Error == nil {
		t.Fatal("expected error after retry exhaustion")
	}
}
