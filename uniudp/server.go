package uniudp

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"repe/bodycodec"
	"repe/message"
)

// Handler is the fire-and-forget UniUDP handler contract: it decodes the
// request body and returns either a value to hand to the response callback
// (for requests) or nil (for notifications, or requests with nothing to
// report). Errors are logged and otherwise swallowed — UniUDP has no
// return channel of its own (spec.md §4.10).
type Handler func(ctx context.Context, body any, raw *message.Message) (any, error)

// ResponseCallback is invoked for completed requests (notify == 0) whose
// handler returned a non-nil value. A panic or error from the callback
// itself is caught and logged, never propagated into the serve loop.
type ResponseCallback func(method string, result any, raw *message.Message)

// Server dispatches REPE messages reassembled off a shared UniUDP socket
// to registered handlers, grounded in the teacher's server.handleConn
// accept-and-dispatch idiom (server/server.go), adapted from a per-connection
// TCP read loop to repeated ReceiveMessage calls against one packet conn.
type Server struct {
	conn              net.PacketConn
	reassembler       *Reassembler
	handlers          map[string]Handler
	adapter           *bodycodec.Adapter
	inactivityTimeout time.Duration
	overallTimeout    time.Duration
	responseCallback  ResponseCallback
	running           atomic.Bool
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithInactivityTimeout sets the per-ReceiveMessage inactivity bound.
func WithInactivityTimeout(d time.Duration) Option {
	return func(s *Server) { s.inactivityTimeout = d }
}

// WithOverallTimeout sets the per-ReceiveMessage overall bound.
func WithOverallTimeout(d time.Duration) Option {
	return func(s *Server) { s.overallTimeout = d }
}

// WithResponseCallback installs the callback invoked for completed
// requests with a non-nil handler result.
func WithResponseCallback(cb ResponseCallback) Option {
	return func(s *Server) { s.responseCallback = cb }
}

// NewServer creates a Server reading packets off conn.
func NewServer(conn net.PacketConn, opts ...Option) *Server {
	s := &Server{
		conn:              conn,
		reassembler:       NewReassembler(),
		handlers:          make(map[string]Handler),
		adapter:           bodycodec.NewAdapter(),
		inactivityTimeout: 5 * time.Second,
		overallTimeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for the given method name (the decoded query string).
func (s *Server) Handle(method string, h Handler) {
	s.handlers[method] = h
}

// Serve runs the receive-reassemble-dispatch loop until Stop is called.
// On :inactivity_timeout with nothing buffered the loop simply continues;
// completed reports with non-empty LostChunks (unrecoverable loss) are
// dropped with a warning rather than dispatched.
func (s *Server) Serve() error {
	s.running.Store(true)
	for s.running.Load() {
		report, err := s.reassembler.ReceiveMessage(s.conn, ReceiveOptions{
			InactivityTimeout: s.inactivityTimeout,
			OverallTimeout:    s.overallTimeout,
		})
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			// An overall-timeout with nothing to report is a normal
			// "no traffic" tick for a server looping forever: log and
			// keep serving rather than exiting the accept-equivalent loop.
			log.Printf("uniudp: receive_message: %v", err)
			continue
		}
		if report == nil {
			continue
		}
		s.dispatch(report)
	}
	return nil
}

// Stop flips the running flag; the in-flight ReceiveMessage call returns
// on its own next timeout tick.
func (s *Server) Stop() { s.running.Store(false) }

func (s *Server) dispatch(report *MessageReport) {
	if report.CompletionReason != Completed {
		return
	}
	if len(report.LostChunks) > 0 {
		log.Printf("uniudp: dropping message %d: unrecoverable loss at chunks %v", report.MessageID, report.LostChunks)
		return
	}

	msg, err := message.Deserialize(report.Payload)
	if err != nil {
		log.Printf("uniudp: dropping message %d: %v", report.MessageID, err)
		return
	}

	method := msg.ParseQuery()
	handler, ok := s.handlers[method]
	if !ok {
		log.Printf("uniudp: no handler for method %q (message %d)", method, report.MessageID)
		return
	}

	var body any
	if len(msg.Body) > 0 {
		decoded, err := msg.ParseBody(s.adapter)
		if err != nil {
			log.Printf("uniudp: decoding body for method %q: %v", method, err)
			return
		}
		body = decoded
	}

	result, err := s.safeCall(handler, body, msg)
	if err != nil {
		log.Printf("uniudp: handler error for method %q: %v", method, err)
		return
	}

	if msg.Header.Notify == 1 || result == nil || s.responseCallback == nil {
		return
	}
	s.invokeCallback(method, result, msg)
}

func (s *Server) safeCall(h Handler, body any, raw *message.Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(context.Background(), body, raw)
}

func (s *Server) invokeCallback(method string, result any, raw *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("uniudp: response_callback panicked for method %q: %v", method, r)
		}
	}()
	s.responseCallback(method, result, raw)
}
