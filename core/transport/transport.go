// Package transport defines the two out-of-scope collaborators spec.md §5
// leaves unspecified: a send/receive-datagram contract and a per-endpoint
// payload pool. Everything else in this module treats both purely as
// interfaces; UDPTransport and PayloadPool below are reference
// implementations a cmd/ binary can wire in, not part of the protocol core.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/latticemw/rtpscore/core/wire"
)

// Locator names a UDP transport endpoint as a "host:port" address string:
// Send resolves it with net.ResolveUDPAddr and Serve reports senders in the
// same form.
type Locator string

// Dispatcher receives one decoded submessage from from.
type Dispatcher func(from Locator, msg interface{})

// UDPTransport is a reference *send-datagrams* / *deliver-incoming-datagram*
// implementation (spec.md §5's "receive threads - one per transport
// channel"): one goroutine reads the socket and invokes a Dispatcher per
// decoded submessage, grounded on the teacher's worker.Worker-driven
// receive-loop shape used throughout client2/stream rather than any
// particular transport library (the teacher's own transports are Sphinx/
// quic-backed mixnet links, out of scope for a plain RTPS datagram).
type UDPTransport struct {
	conn *net.UDPConn
	log  *log.Logger

	mu     sync.Mutex
	closed bool
}

// Listen opens a UDP socket at addr ("host:port", "" host binds all
// interfaces).
func Listen(addr string, logger *log.Logger) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &UDPTransport{conn: conn, log: logger}, nil
}

// LocalAddr reports the bound address as a Locator.
func (t *UDPTransport) LocalAddr() Locator {
	return Locator(t.conn.LocalAddr().String())
}

// Send marshals msg (one of the core/wire submessage types) and sends it to
// to.
func (t *UDPTransport) Send(to Locator, msg interface{}) error {
	addr, err := net.ResolveUDPAddr("udp", string(to))
	if err != nil {
		return err
	}
	b, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(b, addr)
	return err
}

// Serve reads datagrams until ctx is cancelled or Close is called,
// decoding each one and invoking dispatch. Malformed datagrams are logged
// and dropped (spec.md §7: a transport-level decode failure is recoverable,
// never fatal).
func (t *UDPTransport) Serve(ctx context.Context, dispatch Dispatcher) error {
	go func() {
		<-ctx.Done()
		t.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		msg, err := wire.UnmarshalSubmessage(buf[:n])
		if err != nil {
			t.log.Warn("transport: dropping undecodable datagram", "from", from, "err", err)
			continue
		}
		dispatch(Locator(from.String()), msg)
	}
}

// Close releases the socket; idempotent.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// PayloadPool hands out refcounted payload buffers (spec.md §5's
// "shared-resource policy": "caches are owned by a per-endpoint payload
// pool; borrowed references are refcounted"). Buffers are sync.Pool-backed
// so steady-state reception allocates nothing once warmed up.
type PayloadPool struct {
	pool sync.Pool
}

// NewPayloadPool constructs a pool whose buffers default to size bytes.
func NewPayloadPool(size int) *PayloadPool {
	p := &PayloadPool{}
	p.pool.New = func() interface{} {
		return &Buffer{data: make([]byte, size), pool: p}
	}
	return p
}

// Buffer is one refcounted payload slot. refs starts at 1 on Acquire; every
// additional holder must call Retain, and every holder must call Release
// exactly once.
type Buffer struct {
	data []byte
	refs int32
	pool *PayloadPool
}

// Bytes returns the buffer's backing storage, valid only while refs > 0.
func (b *Buffer) Bytes() []byte { return b.data }

// Acquire returns a buffer with its data resized to n bytes and refcount 1.
func (p *PayloadPool) Acquire(n int) *Buffer {
	b := p.pool.Get().(*Buffer)
	if cap(b.data) < n {
		b.data = make([]byte, n)
	} else {
		b.data = b.data[:n]
	}
	atomic.StoreInt32(&b.refs, 1)
	return b
}

// Retain adds one reference, e.g. when both a best-effort and a reliable
// reader proxy hold the same intraprocess cache.
func (b *Buffer) Retain() {
	atomic.AddInt32(&b.refs, 1)
}

// Release drops one reference, returning the buffer to its pool once the
// last holder releases it. Per spec.md §5, the producer must never reuse a
// buffer index still referenced - the refcount is exactly that guard.
func (b *Buffer) Release() {
	if atomic.AddInt32(&b.refs, -1) == 0 {
		b.pool.pool.Put(b)
	}
}
