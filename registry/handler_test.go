package registry

import (
	"encoding/json"
	"testing"

	"repe/bodycodec"
	"repe/message"
	"repe/rpcerr"
)

func newReq(t *testing.T, path string, body []byte, format bodycodec.Format) *message.Message {
	t.Helper()
	return message.New(1, []byte(path), body, message.QueryJSONPointer, format, false, rpcerr.OK)
}

func TestHandleRead(t *testing.T) {
	r := New()
	if err := r.Register("/sensors/temp", 21.5); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter := bodycodec.NewAdapter()

	resp := r.Handle(newReq(t, "/sensors/temp", nil, bodycodec.JSON), adapter)
	if resp.Header.EC != uint32(rpcerr.OK) {
		t.Fatalf("expected OK, got ec=%d body=%s", resp.Header.EC, resp.Body)
	}
	var got float64
	if err := json.Unmarshal(resp.Body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != 21.5 {
		t.Errorf("got %v, want 21.5", got)
	}
}

func TestHandleReadMissingPathIsInvalidQuery(t *testing.T) {
	r := New()
	adapter := bodycodec.NewAdapter()
	resp := r.Handle(newReq(t, "/nope", nil, bodycodec.JSON), adapter)
	if resp.Header.EC != uint32(rpcerr.InvalidQuery) {
		t.Fatalf("expected InvalidQuery, got ec=%d", resp.Header.EC)
	}
}

func TestHandleWriteCreatesPath(t *testing.T) {
	r := New()
	adapter := bodycodec.NewAdapter()
	body, _ := json.Marshal(42.0)

	resp := r.Handle(newReq(t, "/counters/visits", body, bodycodec.JSON), adapter)
	if resp.Header.EC != uint32(rpcerr.OK) {
		t.Fatalf("expected OK, got ec=%d body=%s", resp.Header.EC, resp.Body)
	}

	v, err := r.Get("/counters/visits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 42.0 {
		t.Errorf("got %v, want 42.0", v)
	}
}

func TestHandleCallInvokesCallable(t *testing.T) {
	r := New()
	if err := r.Register("/add", Callable(func(args any) (any, error) {
		m := args.(map[string]any)
		return m["a"].(float64) + m["b"].(float64), nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter := bodycodec.NewAdapter()
	body, _ := json.Marshal(map[string]any{"a": 2, "b": 3})

	resp := r.Handle(newReq(t, "/add", body, bodycodec.JSON), adapter)
	if resp.Header.EC != uint32(rpcerr.OK) {
		t.Fatalf("expected OK, got ec=%d body=%s", resp.Header.EC, resp.Body)
	}
	var got float64
	if err := json.Unmarshal(resp.Body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != 5 {
		t.Errorf("got %v, want 5", got)
	}
}

func TestHandleCallErrorBecomesApplicationError(t *testing.T) {
	r := New()
	if err := r.Register("/boom", Callable(func(args any) (any, error) {
		return nil, errBoom
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter := bodycodec.NewAdapter()
	body, _ := json.Marshal(map[string]any{})

	resp := r.Handle(newReq(t, "/boom", body, bodycodec.JSON), adapter)
	if resp.Header.EC != uint32(rpcerr.ApplicationErrorBase) {
		t.Fatalf("expected application error, got ec=%d", resp.Header.EC)
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}

func TestStripPrefix(t *testing.T) {
	cases := []struct {
		path, prefix, want string
		ok                 bool
	}{
		{"/registry/a", "/registry", "/a", true},
		{"/registry", "/registry", "", true},
		{"/other/a", "/registry", "", false},
		{"/a", "", "/a", true},
	}
	for _, c := range cases {
		got, ok := stripPrefix(c.path, c.prefix)
		if ok != c.ok || got != c.want {
			t.Errorf("stripPrefix(%q, %q) = (%q, %v), want (%q, %v)", c.path, c.prefix, got, ok, c.want, c.ok)
		}
	}
}
