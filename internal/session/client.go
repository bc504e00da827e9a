// Package session implements the per-connection client state of
// spec.md §4.6: the input accumulator, bulk-mode cursor, output queue
// with lazy write-interest registration, and the read/dispatch loop of
// §4.5. It plays the role the teacher's pkg/websocket.Client plays for a
// gorilla/websocket connection, generalized from "one message per
// ReadMessage call" to the inline+bulk framing spec.md defines, and from
// a buffered channel + goroutine pair to a single reactor-driven state
// machine (no per-client goroutine — the whole server is one thread).
package session

import (
	"kvsrv/internal/protocol"
	"kvsrv/internal/value"
)

// Flags are per-client state bits (spec.md §4.6).
type Flags uint8

const (
	FlagClose Flags = 1 << iota
	FlagSlave
	FlagMaster
)

// Dispatcher looks up and executes commands against a client's selected
// database. internal/command implements this; session only depends on
// the interface to avoid an import cycle (handlers need *Client).
type Dispatcher interface {
	Lookup(name string) (arity int, bulk bool, ok bool)
	Dispatch(c *Client, name string, argv [][]byte)
}

// Client is one connection's protocol and buffering state.
type Client struct {
	Fd         int
	RemoteAddr string
	ID         string
	DBIndex    int

	input   []byte
	bulklen int // -1 outside bulk mode, else remaining bytes incl. trailing CRLF
	pending string
	argv    [][]byte

	output  []*value.Value
	sentlen int

	lastInteraction int64
	flags           Flags

	dispatcher      Dispatcher
	onWriteInterest func(wantWrite bool)

	ProtocolError bool

	repliedWithError bool
}

// New constructs a client in the read-a-command-line state on db 0.
func New(fd int, remoteAddr string, id string, dispatcher Dispatcher, onWriteInterest func(bool)) *Client {
	return &Client{
		Fd:              fd,
		RemoteAddr:      remoteAddr,
		ID:              id,
		bulklen:         -1,
		dispatcher:      dispatcher,
		onWriteInterest: onWriteInterest,
	}
}

func (c *Client) HasFlag(f Flags) bool { return c.flags&f != 0 }
func (c *Client) SetFlag(f Flags)      { c.flags |= f }
func (c *Client) ClearFlag(f Flags)    { c.flags &^= f }

// Touch records the last-interaction timestamp for idle sweeping.
func (c *Client) Touch(nowUnix int64) { c.lastInteraction = nowUnix }

// IdleSeconds reports seconds since the last successful interaction.
func (c *Client) IdleSeconds(nowUnix int64) int64 { return nowUnix - c.lastInteraction }

// OutputEmpty reports whether the reply queue has nothing left to send.
func (c *Client) OutputEmpty() bool { return len(c.output) == 0 }

// QueueReply enqueues a reply fragment, registering write interest on
// the empty-to-non-empty transition (spec.md §4.6). A MASTER-flagged
// client's writes are never actually sent — spec.md §9 requires this
// short-circuit, since the connection represents an inbound replication
// feed, not a peer expecting replies.
func (c *Client) QueueReply(v *value.Value) {
	if b := v.Bytes(); len(b) > 0 && b[0] == '-' {
		c.repliedWithError = true
	}
	if c.HasFlag(FlagMaster) {
		value.Release(v)
		return
	}
	wasEmpty := len(c.output) == 0
	c.output = append(c.output, v)
	if wasEmpty && c.onWriteInterest != nil {
		c.onWriteInterest(true)
	}
}

// ResetReplyOutcome clears the error flag RepliedWithError reports.
// Table.Dispatch calls this before every handler invocation so a stale
// flag from an earlier command is never misattributed to this one.
func (c *Client) ResetReplyOutcome() { c.repliedWithError = false }

// RepliedWithError reports whether any reply queued since the last
// ResetReplyOutcome was a wire-level error ("-...\r\n", spec.md §4.5).
func (c *Client) RepliedWithError() bool { return c.repliedWithError }

// Feed appends newly-read bytes and parses+dispatches as many complete
// commands as are now available (spec.md §4.5). It returns after every
// command is drained from the buffer or the client needs more bytes
// (a partial inline line, or a bulk payload still in flight).
func (c *Client) Feed(data []byte) {
	c.input = append(c.input, data...)

	for !c.HasFlag(FlagClose) {
		if c.bulklen == -1 {
			if !c.readCommandLine() {
				return
			}
			continue
		}
		if !c.tryConsumeBulk() {
			return
		}
	}
}

// readCommandLine extracts one inline line, validates and dispatches it
// (or sets up bulk-mode accumulation). It returns true when Feed's loop
// should continue, and false when more bytes are needed, the line
// overflowed the inline limit, or the client sent quit.
func (c *Client) readCommandLine() bool {
	idx := protocol.FindLineEnd(c.input)
	if idx == -1 {
		if len(c.input) > protocol.MaxInlineLine {
			c.ProtocolError = true
			c.SetFlag(FlagClose)
		}
		return false
	}
	line := c.input[:idx]
	c.consumeInput(idx + 1)

	fields := protocol.SplitInline(line)
	if fields == nil {
		return true // blank line; keep scanning
	}

	name := string(fields[0])
	argv := fields[1:]

	if name == "quit" {
		c.SetFlag(FlagClose)
		return false
	}

	arity, isBulk, ok := c.dispatcher.Lookup(name)
	if !ok {
		c.QueueReply(protocol.ErrUnknownCommand)
		return true
	}
	if !arityOK(arity, len(argv)+1) {
		c.QueueReply(protocol.ErrWrongArity)
		return true
	}

	if !isBulk {
		c.dispatcher.Dispatch(c, name, argv)
		return true
	}

	// Last inline argument is the bulk byte count (spec.md §4.5).
	lastIdx := len(argv) - 1
	n, okCount := protocol.ParseBulkCount(string(argv[lastIdx]))
	if !okCount {
		c.QueueReply(protocol.Err(protocol.ErrInvalidBulkCount))
		return true
	}
	c.pending = name
	c.argv = append([][]byte(nil), argv[:lastIdx]...)
	c.bulklen = n + 2 // payload + trailing CRLF
	return true
}

// tryConsumeBulk consumes the bulk payload once enough bytes are
// buffered, then dispatches. Returns false if more bytes are needed.
func (c *Client) tryConsumeBulk() bool {
	if len(c.input) < c.bulklen {
		return false
	}
	payload := make([]byte, c.bulklen-2)
	copy(payload, c.input[:c.bulklen-2])
	c.consumeInput(c.bulklen)

	name := c.pending
	argv := append(c.argv, payload)
	c.pending = ""
	c.argv = nil
	c.bulklen = -1

	c.dispatcher.Dispatch(c, name, argv)
	return true
}

func (c *Client) consumeInput(n int) {
	remaining := len(c.input) - n
	copy(c.input, c.input[n:])
	c.input = c.input[:remaining]
}

func arityOK(arity, argc int) bool {
	if arity > 0 {
		return argc == arity
	}
	return argc >= -arity
}

// Drain writes as much of the queued output as the transport accepts
// via writeFn, coalescing small multi-fragment replies first (spec.md
// §4.6, §9: the size check must happen before any copy). writeFn
// returns (0, wouldBlockErr) when the socket isn't currently writable.
func (c *Client) Drain(writeFn func(fd int, buf []byte) (int, error), wouldBlock func(error) bool) error {
	c.output = protocol.Coalesce(c.output)

	for len(c.output) > 0 {
		head := c.output[0]
		remaining := head.Bytes()[c.sentlen:]
		n, err := writeFn(c.Fd, remaining)
		if err != nil {
			if wouldBlock(err) {
				return nil
			}
			return err
		}
		c.sentlen += n
		if c.sentlen < len(head.Bytes()) {
			return nil // partial write; wait for the next writable event
		}
		value.Release(head)
		c.output = c.output[1:]
		c.sentlen = 0
	}

	if c.onWriteInterest != nil {
		c.onWriteInterest(false)
	}
	return nil
}

// ReleaseOutput releases any still-queued output fragments. Call once, when the
// client is being destroyed.
func (c *Client) ReleaseOutput() {
	for _, f := range c.output {
		value.Release(f)
	}
	c.output = nil
}
