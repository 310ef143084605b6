package malamute

/*------------------------------------------------------------------
 *
 * Purpose:	The connected-mode client: a cooperative driver wrapped
 *		around the state machine.
 *
 * Description: One Conn owns one byte port exclusively. Each call into
 *		the engine drains already-parsed frames through the state
 *		machine, then waits on whichever comes first of the T1
 *		deadline, the T3 deadline and bytes from the port. The
 *		engine only runs while the application is inside a call:
 *		if nobody calls Read, no timers fire and no acks go out.
 *
 *------------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"
)

// ErrConnectTimeout is returned by Connect when the retry count runs out
// without a UA from the peer.
var ErrConnectTimeout = errors.New("connection timed out")

// ErrNotConnected is returned by Write after the link has gone down.
var ErrNotConnected = errors.New("not connected")

// ErrWriteBufferFull is returned by Write when the pending-data buffer
// hits its hard cap, which means the link is far slower than the writer.
var ErrWriteBufferFull = errors.New("write buffer full")

// How long to sit in a port read when neither timer is running.
const idleWait = 60 * time.Second

const readChunk = 1024

// Options adjusts a connection at construction time. The zero value (or
// nil) means mod-8, 3 second initial SRT, 10 second T3, 256 byte MTU
// and no capture.
type Options struct {
	// Extended selects mod-128 sequence numbers.
	Extended bool

	// SRTDefault is the initial smoothed round trip time, which is
	// also the first T1 duration. Zero means DefaultSRT.
	SRTDefault time.Duration

	// T3V is the idle probe interval. Zero means DefaultT3V.
	T3V time.Duration

	// MTU is the largest I frame payload to generate. Zero means
	// DefaultMTU.
	MTU int

	// Capture, when non-empty, is a pcap file to record all frames
	// in and out. The path may contain strftime patterns.
	Capture string

	// Logger, when non-nil, replaces the default logger.
	Logger *log.Logger
}

// Conn is an AX.25 connected-mode link. It implements
// io.ReadWriteCloser; delivered bytes preserve order but not message
// boundaries, exactly like TCP.
type Conn struct {
	mu sync.Mutex

	port  Port
	log   *log.Logger
	pcap  *PcapWriter
	d     *connData
	state connState

	eof bool

	// Delivered, unread payload.
	incoming []byte
	// Raw bytes from the port, not yet cut into KISS frames.
	rbuf []byte
	// Parsed frames awaiting the state machine.
	frames []*Packet
	// Frames produced by the state machine, awaiting the port.
	outgoing []Packet
}

func newConn(me Addr, port Port, opts *Options) (*Conn, error) {
	if opts == nil {
		opts = &Options{}
	}

	var logger = opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("me", me.Call(), "conn", xid.New().String())

	var c = &Conn{
		port:  port,
		log:   logger,
		d:     newConnData(me),
		state: stateDisconnected,
	}
	if opts.SRTDefault > 0 {
		c.d.srtDefault = opts.SRTDefault
		c.d.srt = opts.SRTDefault
		c.d.t1v = opts.SRTDefault
	}
	if opts.T3V > 0 {
		c.d.t3v = opts.T3V
	}
	if opts.MTU > 0 {
		c.d.mtu = opts.MTU
	}
	if opts.Capture != "" {
		var pw, err = NewPcapWriter(opts.Capture)
		if err != nil {
			return nil, err
		}
		c.pcap = pw
	}
	return c, nil
}

// Connect establishes a link to peer over the given port. The port is
// owned by the connection from here on, whether or not the connect
// succeeds.
func Connect(me Addr, peer Addr, port Port, opts *Options) (*Conn, error) {
	var c, err = newConn(me, port, opts)
	if err != nil {
		port.Close()
		return nil, err
	}
	var extended = opts != nil && opts.Extended
	c.mu.Lock()
	defer c.mu.Unlock()

	c.actions(evConnect{peer: peer, extended: extended})
	if flushErr := c.flushPort(); flushErr != nil {
		c.cleanup()
		return nil, flushErr
	}
	for {
		if waitErr := c.waitEvent(); waitErr != nil {
			c.cleanup()
			return nil, waitErr
		}
		switch c.state {
		case stateConnected:
			c.log.Debug("connection established", "peer", peer.Call())
			connectionsEstablished.Inc()
			return c, nil
		case stateDisconnected:
			connectionsFailed.Inc()
			c.cleanup()
			return nil, ErrConnectTimeout
		}
	}
}

// cleanup releases the port and capture after a failed establish.
func (c *Conn) cleanup() {
	if c.pcap != nil {
		c.pcap.Close()
		c.pcap = nil
	}
	c.port.Close()
}

// Accept waits for one incoming connection on the port and returns once
// it is established. Single-accept: for the next connection, make a new
// Accept call on a fresh port.
func Accept(me Addr, port Port, opts *Options) (*Conn, error) {
	var c, err = newConn(me, port, opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.d.ableToEstablish = true
	for c.state != stateConnected {
		if waitErr := c.waitEvent(); waitErr != nil {
			c.cleanup()
			return nil, waitErr
		}
	}
	c.log.Debug("connection accepted", "peer", c.d.peer.Call())
	connectionsEstablished.Inc()
	return c, nil
}

// Read drives the engine until delivered payload is available, then
// copies out as much as fits. After the peer disconnects it returns
// io.EOF once the delivered data runs out.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.incoming) == 0 {
		if c.eof || c.state == stateDisconnected {
			return 0, io.EOF
		}
		if err := c.waitEvent(); err != nil {
			return 0, err
		}
	}
	var n = copy(p, c.incoming)
	c.incoming = c.incoming[n:]
	return n, nil
}

// Write queues data for transmission. The state machine cuts it into I
// frames as the window allows; N(S) is assigned at send time.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateConnected && c.state != stateTimerRecovery {
		return 0, ErrNotConnected
	}
	if len(c.d.obuf)+len(p) > maxOutBuffer {
		return 0, ErrWriteBufferFull
	}
	c.actions(evData{payload: p})
	if err := c.flushPort(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Disconnect requests link release. It feeds the state machine a
// disconnect and sends the resulting DISC (or DM), without waiting for
// the peer's UA and without releasing the port.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateDisconnected {
		return nil
	}
	c.actions(evDisconnect{})
	return c.flushPort()
}

// Close sends a disconnect if the link is up and releases the port. It
// does not wait for the peer's UA.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateDisconnected {
		c.actions(evDisconnect{})
		if err := c.flushPort(); err != nil {
			c.log.Debug("flush on close", "err", err)
		}
	}
	if c.pcap != nil {
		if err := c.pcap.Close(); err != nil {
			c.log.Warn("closing capture", "err", err)
		}
		c.pcap = nil
	}
	return c.port.Close()
}

// Peer returns the remote address, or false before a link exists.
func (c *Conn) Peer() (Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d.peer == nil {
		return Addr{}, false
	}
	return *c.d.peer, true
}

// waitEvent advances the engine by one step: feed pending frames, then
// block on the first of T1, T3 or port data. Callers hold the lock.
func (c *Conn) waitEvent() error {
	// 1. Anything already parsed goes through the state machine first.
	if len(c.frames) > 0 {
		var before = c.state
		var hadData = len(c.incoming) > 0
		for len(c.frames) > 0 {
			var p = c.frames[0]
			c.frames = c.frames[1:]
			c.dispatchFrame(p)
		}
		if err := c.flushPort(); err != nil {
			return err
		}
		// Surface progress to the caller before blocking again.
		if c.state != before || (!hadData && len(c.incoming) > 0) || c.eof {
			return nil
		}
	}

	// 2. Fire any timer that has already gone off.
	if c.d.t1.expired() {
		c.actions(evT1{})
		return c.flushPort()
	}
	if c.d.t3.expired() {
		c.actions(evT3{})
		return c.flushPort()
	}

	// 3. Wait for the port, bounded by the nearest timer deadline.
	var wait = idleWait
	if remaining, ok := c.d.nextTimerRemaining(); ok {
		wait = remaining
	}
	if err := c.port.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return fmt.Errorf("setting port deadline: %w", err)
	}

	var buf [readChunk]byte
	var n, err = c.port.Read(buf[:])
	if n > 0 {
		c.rbuf = append(c.rbuf, buf[:n]...)
		var frames, rest = kissDrain(c.rbuf)
		c.rbuf = rest
		for _, frame := range frames {
			if c.pcap != nil {
				if pcapErr := c.pcap.Write(frame); pcapErr != nil {
					c.log.Warn("capture write", "err", pcapErr)
				}
			}
			var p, parseErr = ParsePacket(frame)
			if parseErr != nil {
				c.log.Debug("dropping unparseable frame", "err", parseErr, "len", len(frame))
				continue
			}
			c.frames = append(c.frames, p)
		}
	}
	if err != nil && !isTimeout(err) {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return fmt.Errorf("port closed: %w", err)
		}
		return fmt.Errorf("port read: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// dispatchFrame filters a parsed frame for this connection and feeds it
// to the state machine.
func (c *Conn) dispatchFrame(p *Packet) {
	if p.Dst.Call() != c.d.me.Call() {
		return
	}
	if c.d.peer != nil && p.Src.Call() != c.d.peer.Call() {
		return
	}
	framesReceived.WithLabelValues(p.Type.FrameName()).Inc()
	c.actions(evFrame{packet: p})
}

// actions feeds one event through the state machine and applies the
// side effects. Outgoing frames are queued here and serialized onto the
// port by flushPort.
func (c *Conn) actions(ev event) {
	if _, ok := ev.(evT3); ok && c.state == stateTimerRecovery {
		c.log.Warn("T3 expired in timer recovery; stopping it")
	}
	var next, events = handle(c.state, c.d, ev)
	if next != c.state {
		c.log.Debug("state transition", "from", c.state, "to", next, "event", ev.eventName())
		c.state = next
	}
	for _, re := range events {
		switch e := re.(type) {
		case sendPacket:
			c.outgoing = append(c.outgoing, e.packet)
		case reportError:
			dlErrors.WithLabelValues(e.code.String()).Inc()
			c.log.Warn("protocol error", "code", e.code, "detail", e.code.Description())
		case deliverData:
			c.incoming = append(c.incoming, e.payload...)
		case reportEOF:
			c.eof = true
		}
	}
}

// flushPort writes out every frame the state machine produced.
func (c *Conn) flushPort() error {
	for _, p := range c.outgoing {
		var raw = p.Serialize(c.d.ext())
		if c.pcap != nil {
			if err := c.pcap.Write(raw); err != nil {
				c.log.Warn("capture write", "err", err)
			}
		}
		framesSent.WithLabelValues(p.Type.FrameName()).Inc()
		if _, err := c.port.Write(kissEncapsulate(raw)); err != nil {
			c.outgoing = nil
			return fmt.Errorf("port write: %w", err)
		}
	}
	c.outgoing = nil
	return nil
}
