// Package conn implements per-connection framed I/O: a reader goroutine
// that decodes RESP frames off the socket, a writer goroutine that sends
// reply bytes in order, and the cooperative-shutdown coordination between
// them (spec.md §4.7, §5 "Suspension points"/"Cancellation").
//
// This replaces the teacher repo's internal/handler.Client — which is a
// single struct carrying a *net.Conn plus a couple of pub/sub booleans —
// with the explicit mode state machine and closing/closed event pair
// spec.md §9 calls for instead of scattered booleans.
package conn

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"redisd/internal/resp"
)

// Mode is the connection's current command-dispatch context (spec.md §4.6
// "Three handler tables exist, selected per-connection-mode").
type Mode int

const (
	ModeNormal Mode = iota
	ModeTransaction
	ModeSubscribed
	ModeReplica
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeTransaction:
		return "transaction"
	case ModeSubscribed:
		return "subscribed"
	case ModeReplica:
		return "replica"
	default:
		return "unknown"
	}
}

// Conn owns one TCP client end-to-end: its reader task, its writer task,
// and the bookkeeping spec.md §3's "Connection entry" names.
type Conn struct {
	ID       string
	nc       net.Conn
	log      *zap.SugaredLogger
	writeCh  chan []byte
	frames   chan *resp.Frame

	mu            sync.Mutex
	mode          Mode
	queuedCmds    [][]string // transaction queue, in arrival order
	subscriptions map[string]struct{}

	receivedBytes atomic.Int64
	sentBytes     atomic.Int64
	ackedBytes    atomic.Int64

	ackArrived chan struct{} // pulsed (non-blocking send) whenever acknowledged_bytes advances

	closing chan struct{}
	closed  chan struct{}
	once    sync.Once
	closeErr error

	initialBuf []byte
}

// New wraps nc and starts its reader and writer goroutines.
func New(id string, nc net.Conn, log *zap.SugaredLogger) *Conn {
	return newConn(id, nc, log, nil)
}

// NewWithPrefill is New, but seeds the reader's buffer with bytes already
// pulled off nc before the Conn existed — used by the replica client
// (internal/replication), which reads the handshake and FileDump payload
// with raw net.Conn reads and may have buffered a few bytes of the command
// stream that follows (spec.md §4.9 step 4).
func NewWithPrefill(id string, nc net.Conn, log *zap.SugaredLogger, prefill []byte) *Conn {
	return newConn(id, nc, log, prefill)
}

func newConn(id string, nc net.Conn, log *zap.SugaredLogger, prefill []byte) *Conn {
	c := &Conn{
		ID:            id,
		nc:            nc,
		log:           log,
		writeCh:       make(chan []byte, 256),
		frames:        make(chan *resp.Frame, 256),
		subscriptions: make(map[string]struct{}),
		ackArrived:    make(chan struct{}, 1),
		closing:       make(chan struct{}),
		closed:        make(chan struct{}),
		initialBuf:    prefill,
	}
	go c.readLoop()
	go c.writeLoop()
	go c.closeLoop()
	return c
}

// Frames returns the channel of successfully decoded inbound frames. It is
// closed when the reader stops (on EOF, error, or connection close).
func (c *Conn) Frames() <-chan *resp.Frame { return c.frames }

// Mode returns the connection's current dispatch mode.
func (c *Conn) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode transitions the connection's mode.
func (c *Conn) SetMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// QueueCommand appends args to the pending-transaction buffer (spec.md
// §4.6 "everything else is appended to the connection's queued-command
// list").
func (c *Conn) QueueCommand(args []string) {
	c.mu.Lock()
	c.queuedCmds = append(c.queuedCmds, args)
	c.mu.Unlock()
}

// DrainQueue returns and clears the queued-command buffer (used by EXEC
// and DISCARD).
func (c *Conn) DrainQueue() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queuedCmds
	c.queuedCmds = nil
	return q
}

// Subscribe adds channel to this connection's subscription set.
func (c *Conn) Subscribe(channel string) {
	c.mu.Lock()
	c.subscriptions[channel] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe removes channel from this connection's subscription set.
func (c *Conn) Unsubscribe(channel string) {
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()
}

// SubscriptionCount returns how many channels this connection currently
// subscribes to.
func (c *Conn) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// Send enqueues bytes to be written, in order, by the writer goroutine.
// While the writer's queue is full it blocks until there is room or the
// connection starts closing; once closing has begun, b is dropped.
func (c *Conn) Send(b []byte) {
	select {
	case c.writeCh <- b:
	case <-c.closing:
	}
}

// ReceivedBytes, SentBytes, AckedBytes are the byte counters spec.md §3
// names: received_bytes (parsed frame lengths, summed), sent_bytes (master
// tracks what it pushed to a replica), acknowledged_bytes (replica's last
// reported REPLCONF ACK offset).
func (c *Conn) ReceivedBytes() int64 { return c.receivedBytes.Load() }
func (c *Conn) SentBytes() int64    { return c.sentBytes.Load() }
func (c *Conn) AckedBytes() int64   { return c.ackedBytes.Load() }

func (c *Conn) AddSentBytes(n int64) { c.sentBytes.Add(n) }

// SetAckedBytes records a new REPLCONF ACK offset and pulses AckArrived so
// any WAIT blocked on this replica can re-check (spec.md §4.8 step 4).
func (c *Conn) SetAckedBytes(n int64) {
	c.ackedBytes.Store(n)
	select {
	case c.ackArrived <- struct{}{}:
	default:
	}
}

// AckArrived receives a pulse after SetAckedBytes is called; calls made
// before a pending pulse is received are coalesced into that one pulse.
func (c *Conn) AckArrived() <-chan struct{} { return c.ackArrived }

// ResetByteCounters zeroes all three counters, used when a connection
// transitions into replica-egress mode (spec.md §4.8 step 3) or when a
// replica client completes its handshake (spec.md §4.9 step 4).
func (c *Conn) ResetByteCounters() {
	c.receivedBytes.Store(0)
	c.sentBytes.Store(0)
	c.ackedBytes.Store(0)
}

// Closing returns a channel closed the moment either direction reports
// failure (spec.md §4.7 "Two events, closing and closed").
func (c *Conn) Closing() <-chan struct{} { return c.closing }

// Closed returns a channel closed once teardown has fully completed.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Close requests shutdown; safe to call multiple times and from multiple
// goroutines.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.closing) })
}

// Err returns the first read or write error that triggered Closing
// (io.EOF when the peer disconnected), or nil when Close was called
// without a prior error.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.mu.Unlock()
	c.Close()
}

func (c *Conn) readLoop() {
	defer close(c.frames)

	r := bufio.NewReaderSize(c.nc, 64*1024)
	buf := c.initialBuf
	chunk := make([]byte, 16*1024)

	for {
		frame, consumed, err := resp.Parse(buf)
		switch {
		case err == nil:
			buf = buf[consumed:]
			c.receivedBytes.Add(int64(consumed))
			select {
			case c.frames <- frame:
			case <-c.closing:
				return
			}
			continue
		case err == resp.ErrNeedMore:
			// fall through to read more bytes below
		default:
			c.log.Debugw("malformed frame, closing connection", "id", c.ID, "err", err)
			c.fail(err)
			return
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case b := <-c.writeCh:
			if _, err := c.nc.Write(b); err != nil {
				c.fail(err)
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *Conn) closeLoop() {
	<-c.closing
	_ = c.nc.Close()
	close(c.closed)
}

// ReadFileDump reads raw bytes off nc, starting from whatever is already
// buffered in buf, until a complete FileDump frame parses. Used only by
// the replica-side handshake to read the RDB payload that follows
// FULLRESYNC (spec.md §4.9 step 3) — this happens before a Conn's own
// reader goroutine (and its generic Parse loop) is started on that socket.
func ReadFileDump(nc net.Conn, buf []byte) (frame *resp.Frame, leftover []byte, err error) {
	chunk := make([]byte, 16*1024)
	for {
		f, consumed, perr := resp.ParseFileDump(buf)
		if perr == nil {
			return f, buf[consumed:], nil
		}
		if perr != resp.ErrNeedMore {
			return nil, nil, perr
		}
		n, rerr := nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			return nil, nil, rerr
		}
	}
}
