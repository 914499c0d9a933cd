// Package server implements the REPE TCP server (component C6): an accept
// loop, a per-connection read loop, a middleware chain run once per
// request, and method dispatch to registered handlers.
//
// Request processing pipeline, grounded directly in the teacher's
// server.Server (server/server.go):
//
//	Accept conn → handleConn (single goroutine reads frames sequentially)
//	  → for each request: go handleRequest (parallel processing)
//	    → middleware chain → handler lookup → body decode → handler call
//	    → response encode → write (serialized by a per-connection write lock)
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"repe/bodycodec"
	"repe/message"
	"repe/middleware"
	"repe/rpcerr"
)

// Handler is the REPE handler contract of spec.md §6/§9: it returns either
// a decoded value (to be wrapped into a default response message) or a
// fully-formed raw response message, never both. Exactly one of the first
// two return values is non-nil when err is nil.
type Handler func(ctx context.Context, body any, raw *message.Message) (value any, rawResp *message.Message, err error)

// Server is the REPE TCP server.
type Server struct {
	listener    net.Listener
	wg          sync.WaitGroup
	running     atomic.Bool
	handlers    map[string]Handler
	middlewares []middleware.Middleware
	adapter     *bodycodec.Adapter
}

// New creates a server with an empty handler map and the default body codec
// adapter (JSON via encoding/json, BEVE via the bundled placeholder — see
// bodycodec package docs). Register handlers and middleware before Serve.
func New() *Server {
	return &Server{
		handlers: make(map[string]Handler),
		adapter:  bodycodec.NewAdapter(),
	}
}

// Adapter returns the server's body codec adapter, so callers can swap in a
// real BEVE implementation: srv.Adapter().BEVE = myBeveCodec{}.
func (s *Server) Adapter() *bodycodec.Adapter { return s.adapter }

// Handle registers h for the given method name (the decoded query string).
func (s *Server) Handle(method string, h Handler) {
	s.handlers[method] = h
}

// Use appends mw to the middleware chain, run in registration order before
// every request is dispatched.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve resolves the listen address per spec.md §4.6 ("" / "*" / "0.0.0.0"
// means IPv4 all-interfaces, "::" means IPv6 all-interfaces, otherwise the
// first address name resolution returns, IPv4 tried before IPv6), listens,
// and runs the accept loop until Shutdown is called.
func (s *Server) Serve(host string, port int) error {
	addr, err := resolveListenAddr(host, port)
	if err != nil {
		return err
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// ServeListener runs the accept loop against an already-created listener
// (useful for tests that need an ephemeral port picked ahead of time, and
// for callers that want control over listener construction).
func (s *Server) ServeListener(listener net.Listener) error {
	s.listener = listener
	s.running.Store(true)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// resolveListenAddr implements spec.md §4.6's address resolution rule.
func resolveListenAddr(host string, port int) (*net.TCPAddr, error) {
	switch host {
	case "", "*", "0.0.0.0":
		return &net.TCPAddr{IP: net.IPv4zero, Port: port}, nil
	case "::":
		return &net.TCPAddr{IP: net.IPv6zero, Port: port}, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, fmt.Errorf("server: resolving %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("server: no addresses found for %q", host)
	}
	// Try IPv4 first, then IPv6.
	for _, ip := range ips {
		if ip.IP.To4() != nil {
			return &net.TCPAddr{IP: ip.IP, Port: port}, nil
		}
	}
	return &net.TCPAddr{IP: ips[0].IP, Port: port}, nil
}

// handleConn processes a single TCP connection: a single goroutine reads
// frames sequentially (reads must be sequential to parse frame
// boundaries), dispatching each request to its own goroutine so a slow
// handler never blocks subsequent requests on the same connection.
//
// A per-connection write mutex is shared among all request goroutines on
// this connection, preventing response frames from interleaving.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	var writeMu sync.Mutex

	for {
		header, err := readHeader(conn)
		if err != nil {
			return
		}
		if !header.Valid() {
			return
		}
		payload := make([]byte, header.QueryLength+header.BodyLength)
		if _, err := readFull(conn, payload); err != nil {
			return
		}
		query := payload[:header.QueryLength]
		body := payload[header.QueryLength:]

		req, err := message.NewRaw(*header, query, body)
		if err != nil {
			return
		}

		s.wg.Add(1)
		go s.handleRequest(req, conn, &writeMu)
	}
}

func readHeader(conn net.Conn) (*message.Header, error) {
	buf := make([]byte, message.HeaderSize)
	if _, err := readFull(conn, buf); err != nil {
		return nil, err
	}
	return message.DecodeHeader(buf)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// handleRequest runs one request through the middleware chain, handler
// dispatch, and response encoding, matching the teacher's
// decode→middleware→business logic→encode→write pipeline.
func (s *Server) handleRequest(req *message.Message, conn net.Conn, writeMu *sync.Mutex) {
	defer s.wg.Done()

	resp := s.process(req)

	if req.Header.Notify == 1 {
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if _, err := conn.Write(resp.Serialize()); err != nil {
		log.Printf("server: write response id=%d: %v", req.Header.ID, err)
	}
}

func (s *Server) process(req *message.Message) (resp *message.Message) {
	defer func() {
		// Catches panics from middleware/dispatch outside the handler's
		// own recover in dispatch, mirroring the teacher's "any caught
		// exception becomes PARSE_ERROR" contract at every layer.
		if r := recover(); r != nil {
			log.Printf("server: panic processing id=%d: %v", req.Header.ID, r)
			resp = s.errorResponse(req, rpcerr.ParseError, fmt.Sprintf("%v", r))
		}
	}()

	res := middleware.Chain(s.middlewares, context.Background(), req)
	if !res.Continue {
		if res.Response != nil {
			return res.Response
		}
		return s.errorResponse(req, *res.ErrorCode, res.ErrorCode.String())
	}

	method := req.ParseQuery()
	handler, ok := s.handlers[method]
	if !ok {
		return s.errorResponse(req, rpcerr.MethodNotFound, rpcerr.MethodNotFound.String())
	}

	return s.dispatch(req, handler)
}

func (s *Server) dispatch(req *message.Message, handler Handler) (resp *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			resp = s.errorResponse(req, rpcerr.ParseError, fmt.Sprintf("%v", r))
		}
	}()

	var body any
	if len(req.Body) > 0 {
		decoded, err := req.ParseBody(s.adapter)
		if err != nil {
			return s.errorResponse(req, rpcerr.InvalidBody, err.Error())
		}
		body = decoded
	}

	value, raw, err := handler(context.Background(), body, req)
	if err != nil {
		return s.errorResponse(req, rpcerr.ParseError, err.Error())
	}
	if raw != nil {
		return raw
	}

	bodyBytes, err := s.adapter.Encode(value, bodycodec.JSON)
	if err != nil {
		return s.errorResponse(req, rpcerr.ParseError, err.Error())
	}
	return message.New(req.Header.ID, req.Query, bodyBytes, message.QueryFormat(req.Header.QueryFormat), bodycodec.JSON, false, rpcerr.OK)
}

func (s *Server) errorResponse(req *message.Message, code rpcerr.ErrorCode, text string) *message.Message {
	return message.New(req.Header.ID, req.Query, []byte(text), message.QueryFormat(req.Header.QueryFormat), bodycodec.UTF8, false, code)
}

// Shutdown stops the accept loop and waits (up to timeout) for in-flight
// requests to finish, matching the teacher's Shutdown ordering: set the
// flag before closing the listener, so Accept's resulting error is
// recognized as intentional rather than surfaced to the caller.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.running.Store(false)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for in-flight requests")
	}
}
