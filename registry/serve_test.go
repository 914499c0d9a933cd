package registry

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"repe/client"
	"repe/message"
	"repe/server"
)

func TestServeMountsRegistryUnderPrefix(t *testing.T) {
	reg := New()
	if err := reg.Register("/sensors/temp", 21.5); err != nil {
		t.Fatalf("register: %v", err)
	}

	srv := server.New()
	srv.Handle("/ping", func(_ context.Context, _ any, _ *message.Message) (any, *message.Message, error) {
		return map[string]any{"pong": true}, nil, nil
	})
	Serve(srv, reg, "/registry")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	go srv.ServeListener(ln)
	t.Cleanup(func() { srv.Shutdown(time.Second) })

	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	c := client.New(host, port)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	var temp float64
	if err := c.Call("/registry/sensors/temp", nil, &temp); err != nil {
		t.Fatalf("registry read: %v", err)
	}
	if temp != 21.5 {
		t.Errorf("got %v, want 21.5", temp)
	}

	var pong map[string]any
	if err := c.Call("/ping", nil, &pong); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong["pong"] != true {
		t.Errorf("got %v, want pong=true", pong)
	}
}
