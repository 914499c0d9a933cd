package uniudp

import (
	"net"
	"time"

	"repe/bodycodec"
	"repe/message"
	"repe/rpcerr"
)

// Client sends fire-and-forget REPE messages over UniUDP to one
// destination, chunked/replicated/FEC-protected per spec.md §4.5.
// Grounded in client.Client's request-construction style (client/request.go)
// but with no response path: a successful SendMessage means the send
// syscalls returned, not that anything was received.
type Client struct {
	conn net.PacketConn
	dest net.Addr

	nextID      *sendIDCounter
	adapter     *bodycodec.Adapter
	queryFormat message.QueryFormat
	bodyFormat  bodycodec.Format
	sendOpts    SendOptions
}

// sendIDCounter is a private per-client REPE message-id sequence, distinct
// from uniudp's own process-wide packet message_id counter (nextID in
// sender.go) — the REPE header's Header.ID and the UniUDP packet's
// message_id are independent namespaces that happen to share a generator
// shape (spec.md §3/§4.5).
type sendIDCounter struct{ next uint64 }

func (c *sendIDCounter) fetchAdd() uint64 {
	id := c.next
	c.next++
	return id
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientAdapter overrides the default body codec adapter.
func WithClientAdapter(a *bodycodec.Adapter) ClientOption {
	return func(c *Client) { c.adapter = a }
}

// WithClientDefaultFormats overrides the default query/body formats.
func WithClientDefaultFormats(q message.QueryFormat, b bodycodec.Format) ClientOption {
	return func(c *Client) { c.queryFormat = q; c.bodyFormat = b }
}

// WithSendOptions overrides the chunking/redundancy/FEC parameters used
// for every send (default: redundancy 2, chunk_size 1024, fec_group_size 4).
func WithSendOptions(o SendOptions) ClientOption {
	return func(c *Client) { c.sendOpts = o }
}

// NewClient creates a UniUDP client sending to dest over conn.
func NewClient(conn net.PacketConn, dest net.Addr, opts ...ClientOption) *Client {
	c := &Client{
		conn:        conn,
		dest:        dest,
		nextID:      &sendIDCounter{next: 1},
		adapter:     bodycodec.NewAdapter(),
		queryFormat: message.QueryJSONPointer,
		bodyFormat:  bodycodec.JSON,
		sendOpts:    SendOptions{Redundancy: 2, ChunkSize: 1024, FECGroupSize: 4},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) encode(method string, params any, notify bool) (*message.Message, error) {
	var body []byte
	if params != nil {
		encoded, err := c.adapter.Encode(params, c.bodyFormat)
		if err != nil {
			return nil, err
		}
		body = encoded
	}
	id := c.nextID.fetchAdd()
	return message.New(id, []byte(method), body, c.queryFormat, c.bodyFormat, notify, rpcerr.OK), nil
}

// SendRequest sends method/params as a non-notify REPE message, chunked
// over UniUDP. Returns the REPE message id used (not the UniUDP packet
// message_id, which is independent). A successful return means the send
// syscalls completed, not that any receiver processed it.
func (c *Client) SendRequest(method string, params any) (uint64, error) {
	return c.send(method, params, false)
}

// SendNotify sends method/params as a notify REPE message.
func (c *Client) SendNotify(method string, params any) (uint64, error) {
	return c.send(method, params, true)
}

func (c *Client) send(method string, params any, notify bool) (uint64, error) {
	msg, err := c.encode(method, params, notify)
	if err != nil {
		return 0, err
	}
	if _, err := SendMessage(c.conn, c.dest, msg.Serialize(), c.sendOpts); err != nil {
		return 0, err
	}
	return msg.Header.ID, nil
}

// SendRequestTimed is SendRequest with an explicit inter-chunk delay
// (useful for rate-limiting bursty sends); it otherwise behaves like
// SendRequest.
func (c *Client) SendRequestTimed(method string, params any, delay time.Duration) (uint64, error) {
	saved := c.sendOpts
	c.sendOpts.Delay = delay
	id, err := c.send(method, params, false)
	c.sendOpts = saved
	return id, err
}
