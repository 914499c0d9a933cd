// Package client implements the REPE TCP multiplexing client (component
// C7): connection lifecycle, an atomic monotonic request-id generator,
// request/response correlation by id, a background reader goroutine, and
// per-request timeouts.
//
// Grounded directly in the teacher's transport.ClientTransport
// (transport/client_transport.go): a single background goroutine
// (recvLoop) owns the read half of the connection and routes responses by
// sequence number into per-request channels, while writes are serialized
// under a dedicated mutex so concurrent callers never interleave frames.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"repe/bodycodec"
	"repe/message"
	"repe/rpcerr"
)

// pendingEntry is the single-slot delivery primitive for one outstanding
// request: the reader goroutine writes to slot exactly once, the waiter
// reads exactly once, then the entry is removed from the pending map.
type pendingEntry struct {
	slot   chan asyncResult
	method string
}

type asyncResult struct {
	msg *message.Message
	err error
}

// Client owns one TCP connection to a REPE server.
type Client struct {
	host string
	port int

	stateMu   sync.Mutex
	conn      net.Conn
	connected atomic.Bool

	requestsMu sync.Mutex
	pending    map[uint64]*pendingEntry

	writeMu sync.Mutex

	nextID  atomic.Uint64
	timeout time.Duration
	nodelay bool

	adapter     *bodycodec.Adapter
	queryFormat message.QueryFormat
	bodyFormat  bodycodec.Format
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout sets the client's default per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithNoDelay controls whether TCP_NODELAY is set on connect (default true).
func WithNoDelay(v bool) Option { return func(c *Client) { c.nodelay = v } }

// WithAdapter overrides the default body codec adapter.
func WithAdapter(a *bodycodec.Adapter) Option { return func(c *Client) { c.adapter = a } }

// WithDefaultFormats overrides the default query/body formats used when a
// per-request RequestOption doesn't specify one (defaults: JSON Pointer
// query, JSON body, matching spec.md §4.7's send_request defaults).
func WithDefaultFormats(q message.QueryFormat, b bodycodec.Format) Option {
	return func(c *Client) { c.queryFormat = q; c.bodyFormat = b }
}

// New creates a client bound to host:port. The id counter starts at 1, per
// spec.md §3. Connect() must be called before sending requests.
func New(host string, port int, opts ...Option) *Client {
	c := &Client{
		host:        host,
		port:        port,
		pending:     make(map[uint64]*pendingEntry),
		timeout:     5 * time.Second,
		nodelay:     true,
		adapter:     bodycodec.NewAdapter(),
		queryFormat: message.QueryJSONPointer,
		bodyFormat:  bodycodec.JSON,
	}
	c.nextID.Store(1)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool { return c.connected.Load() }

// Connect resolves addresses (IPv6 tried before IPv4, falling back to
// whichever family resolved if only one did — spec.md §4.7), dials the
// first reachable address, applies TCP_NODELAY, and starts the background
// reader goroutine. A no-op if already connected.
func (c *Client) Connect() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.connected.Load() {
		return nil
	}

	conn, err := dialPreferringIPv6(c.host, c.port)
	if err != nil {
		return fmt.Errorf("client: connect to %s:%d: %w", c.host, c.port, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(c.nodelay)
	}

	c.conn = conn
	c.connected.Store(true)
	go c.readLoop()
	return nil
}

func dialPreferringIPv6(host string, port int) (net.Conn, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil || len(ips) == 0 {
		// Fall back to whatever net.Dial's own resolution can manage —
		// covers literal IPs and hosts the explicit lookup above missed.
		return net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	}

	ordered := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		if ip.IP.To4() == nil {
			ordered = append(ordered, ip)
		}
	}
	for _, ip := range ips {
		if ip.IP.To4() != nil {
			ordered = append(ordered, ip)
		}
	}

	var lastErr error
	for _, ip := range ordered {
		conn, err := net.DialTCP("tcp", nil, &net.TCPAddr{IP: ip.IP, Port: port})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Close disconnects the client, failing every pending request with
// ErrClosed, matching the teacher's closeAllPending teardown path.
func (c *Client) Close() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.teardown(rpcerr.ErrClosed)
}

// teardown must be called with stateMu held.
func (c *Client) teardown(err error) error {
	if !c.connected.Load() {
		return nil
	}
	c.connected.Store(false)

	c.requestsMu.Lock()
	for id, entry := range c.pending {
		entry.slot <- asyncResult{err: err}
		delete(c.pending, id)
	}
	c.requestsMu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// readLoop is the single background goroutine reading responses off the
// wire and routing them to the correct waiter by request id. Responses may
// arrive in any order; matching is purely by id (spec.md §5).
func (c *Client) readLoop() {
	for {
		if !c.connected.Load() {
			return
		}
		hbuf := make([]byte, message.HeaderSize)
		if _, err := readFull(c.conn, hbuf); err != nil {
			c.onReadFailure(err)
			return
		}
		h, err := message.DecodeHeader(hbuf)
		if err != nil {
			c.onReadFailure(err)
			return
		}
		payload := make([]byte, h.QueryLength+h.BodyLength)
		if _, err := readFull(c.conn, payload); err != nil {
			c.onReadFailure(err)
			return
		}
		resp, err := message.NewRaw(*h, payload[:h.QueryLength], payload[h.QueryLength:])
		if err != nil {
			continue
		}
		c.deliver(resp)
	}
}

func (c *Client) deliver(resp *message.Message) {
	c.requestsMu.Lock()
	entry, ok := c.pending[resp.Header.ID]
	if ok {
		delete(c.pending, resp.Header.ID)
	}
	c.requestsMu.Unlock()
	if !ok {
		// No pending waiter (already timed out and removed) — silently
		// drop the late response, per spec.md §5's cancellation rule.
		return
	}

	if resp.Header.EC != uint32(rpcerr.OK) {
		entry.slot <- asyncResult{err: &rpcerr.RPCError{Code: rpcerr.ErrorCode(resp.Header.EC), Body: bodyErrorText(resp)}}
		return
	}
	entry.slot <- asyncResult{msg: resp}
}

func bodyErrorText(resp *message.Message) string {
	if len(resp.Body) == 0 {
		return "Unknown error"
	}
	return string(resp.Body)
}

func (c *Client) onReadFailure(err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.teardown(err)
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
