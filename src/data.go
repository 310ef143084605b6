package malamute

/*------------------------------------------------------------------
 *
 * Purpose:	Per-connection state variables and the helper algorithms
 *		shared by several states: window accounting, output
 *		buffer flushing, ack bookkeeping and T1 selection.
 *
 *------------------------------------------------------------------*/

import (
	"time"
)

// Sequence number modulus options, selected at connection time.
const Modulus8 = 8
const Modulus128 = 128

// DefaultSRT is the initial smoothed round trip time. The spec says 3s.
const DefaultSRT = 3 * time.Second

// DefaultT3V is the idle probe interval. Must exceed T1 in practice.
const DefaultT3V = 10 * time.Second

// DefaultMTU is the largest I frame payload we generate.
const DefaultMTU = 256

// Largest I frame payload accepted from the peer (N1).
const defaultN1 = 65000

// Maximum retry count (N2).
const defaultN2 = 10

// Window sizes (K): maximum outstanding I frames. The 1998 edition says
// 4/32, the 2017 edition 8/32; the smaller basic window interops safely.
const windowBasic = 4
const windowExtended = 32

// Hard cap on buffered application data awaiting transmission.
const maxOutBuffer = 100 * 1024 * 1024

// connData is the mutable per-connection record. All of it is owned by
// the single driver loop; the state machine mutates it and nothing else.
type connData struct {
	me   Addr
	peer *Addr // nil exactly when disconnected

	layer3Initiated bool
	ableToEstablish bool

	t1 timer // retransmit / pending ack
	t3 timer // idle link probe

	vs byte // V(S): next sequence number to send
	va byte // V(A): oldest unacknowledged
	vr byte // V(R): next expected from peer

	modulus byte
	k       byte // window size

	srtDefault time.Duration
	srt        time.Duration
	t1v        time.Duration
	t3v        time.Duration

	n1  int
	n2  int
	rc  int
	mtu int

	peerReceiverBusy   bool
	ownReceiverBusy    bool
	rejectException    bool
	srejectException   bool
	acknowledgePending bool
	srejEnabled        bool // never set; SREJ transmit is not implemented

	// Pending application data, not yet cut into I frames.
	obuf []byte
	// Payloads of transmitted but unacknowledged I frames, oldest
	// first. Entry i has N(S) = (va+i) mod modulus, so the queue never
	// exceeds k entries.
	resendQueue [][]byte
}

func newConnData(me Addr) *connData {
	return &connData{
		me:         me,
		modulus:    Modulus8,
		k:          windowBasic,
		srtDefault: DefaultSRT,
		srt:        DefaultSRT,
		t1v:        DefaultSRT,
		t3v:        DefaultT3V,
		n1:         defaultN1,
		n2:         defaultN2,
		mtu:        DefaultMTU,
	}
}

func (d *connData) ext() bool {
	return d.modulus == Modulus128
}

func (d *connData) setVersion2() {
	d.modulus = Modulus8
	d.k = windowBasic
	d.n2 = defaultN2
}

func (d *connData) setVersion22() {
	d.modulus = Modulus128
	d.k = windowExtended
	d.n2 = defaultN2
}

// seqInRange reports whether stepping a, a+1, ... reaches n strictly
// before reaching b, under the given modulus. n == a is always in range.
func seqInRange(a byte, n byte, b byte, modulus byte) bool {
	if n == a {
		return true
	}
	if a == b {
		return false
	}
	for i := (a + 1) % modulus; i != b; i = (i + 1) % modulus {
		if i == n {
			return true
		}
	}
	return false
}

// validNR reports whether a received N(R) lies in [V(A) .. V(S)],
// inclusive at both ends.
func (d *connData) validNR(nr byte) bool {
	return nr == d.vs || seqInRange(d.va, nr, d.vs, d.modulus)
}

func (d *connData) clearIframeQueues() {
	d.obuf = nil
	d.resendQueue = nil
}

// clearExceptionConditions resets the busy/reject flags. The 2017
// edition also clears the I frame queues here; that is kept, since this
// is only reached on reset paths.
func (d *connData) clearExceptionConditions() {
	d.peerReceiverBusy = false
	d.ownReceiverBusy = false
	d.rejectException = false
	d.srejectException = false
	d.acknowledgePending = false
	d.clearIframeQueues()
}

// reply builds an outgoing frame to the given station. command selects
// the C bit placement: commands carry it on the destination address,
// responses on the source.
func (d *connData) reply(dst Addr, t PacketType, command bool) sendPacket {
	return sendPacket{packet: Packet{
		Src:               d.me,
		Dst:               dst,
		CommandResponse:   command,
		CommandResponseLA: !command,
		RRExtSeq:          d.ext(),
		Type:              t,
	}}
}

// send is reply to the connected peer.
func (d *connData) send(t PacketType, command bool) sendPacket {
	return d.reply(*d.peer, t, command)
}

// establishDataLink begins (or restarts) link setup: exceptions cleared,
// retry counter primed, T1 running, SABM(E) with P=1 on the wire.
func (d *connData) establishDataLink() []returnEvent {
	d.clearExceptionConditions()
	d.rc = 1
	d.t3.stop()
	d.t1.restart(d.srt)
	if d.ext() {
		return []returnEvent{d.send(SABME{Poll: true}, true)}
	}
	return []returnEvent{d.send(SABM{Poll: true}, true)}
}

// selectT1Value recomputes SRT and with it the next T1 duration. The
// growth formula on expiry is the 2017 edition's; the 1998 text is
// self-contradictory here.
func (d *connData) selectT1Value() {
	if d.rc == 0 {
		d.srt = d.srtDefault
	} else if d.t1.expired() {
		d.srt = 2*d.srt + time.Duration(d.rc)*250*time.Millisecond
	}
	d.t1v = d.srt
}

// flush drains the output buffer into I frames while the window allows:
// up to mtu bytes per frame, stopping at k outstanding or on peer busy.
func (d *connData) flush() []returnEvent {
	var events []returnEvent
	for len(d.obuf) > 0 && d.vs != (d.va+d.k)%d.modulus && !d.peerReceiverBusy {
		var n = d.mtu
		if n > len(d.obuf) {
			n = len(d.obuf)
		}
		var payload = make([]byte, n)
		copy(payload, d.obuf)
		d.obuf = d.obuf[n:]

		events = append(events, d.send(IFrame{
			NS:      d.vs,
			NR:      d.vr,
			PID:     PIDNoLayer3,
			Payload: payload,
		}, true))
		d.resendQueue = append(d.resendQueue, payload)
		d.vs = (d.vs + 1) % d.modulus

		if !d.t1.running {
			d.t3.stop()
			d.t1.start(d.srt)
		}
		// Each I frame carries N(R)=V(R), so nothing is left pending.
		d.acknowledgePending = false
	}
	return events
}

// updateAck advances V(A) one step at a time toward nr, dropping one
// resend queue entry per step, then refills the window from obuf.
func (d *connData) updateAck(nr byte) []returnEvent {
	for d.va != nr {
		d.va = (d.va + 1) % d.modulus
		if len(d.resendQueue) > 0 {
			d.resendQueue = d.resendQueue[1:]
		}
	}
	return d.flush()
}

// checkIframeAcked processes an in-range N(R) from any I or S frame.
func (d *connData) checkIframeAcked(nr byte) []returnEvent {
	if d.peerReceiverBusy {
		d.t3.stop()
		if !d.t1.running {
			d.t1.start(d.t1v)
		}
		return d.updateAck(nr)
	}
	if nr == d.vs {
		// Everything outstanding is acknowledged.
		d.t1.stop()
		d.t3.start(d.t3v)
		d.selectT1Value()
		return d.updateAck(nr)
	}
	if nr != d.va {
		// Partial progress keeps T1 fresh.
		d.t1.restart(d.t1v)
		return d.updateAck(nr)
	}
	return nil
}

// retransmit re-emits every unacknowledged I frame, with current V(R).
func (d *connData) retransmit() []returnEvent {
	var events []returnEvent
	var ns = d.va
	for _, payload := range d.resendQueue {
		events = append(events, d.send(IFrame{
			NS:      ns,
			NR:      d.vr,
			PID:     PIDNoLayer3,
			Payload: payload,
		}, true))
		ns = (ns + 1) % d.modulus
	}
	return events
}

// transmitEnquiry sends an RR (or RNR when our receiver is busy) as a
// command with P=1, and arms T1 for the reply.
func (d *connData) transmitEnquiry() []returnEvent {
	d.acknowledgePending = false
	d.t1.start(d.t1v)
	if d.ownReceiverBusy {
		return []returnEvent{d.send(RNR{Poll: true, NR: d.vr}, true)}
	}
	return []returnEvent{d.send(RR{Poll: true, NR: d.vr}, true)}
}

// enquiryResponse answers a received P=1 with an RR/RNR response, F=1.
// The 1998 text says to send a command here, which deadlocks against the
// Linux implementation; the 2017 edition agrees on response.
func (d *connData) enquiryResponse() []returnEvent {
	d.acknowledgePending = false
	if d.ownReceiverBusy {
		return []returnEvent{d.send(RNR{Poll: true, NR: d.vr}, false)}
	}
	return []returnEvent{d.send(RR{Poll: true, NR: d.vr}, false)}
}

// nextTimerRemaining is the engine's wait bound: the nearer of the two
// running timers.
func (d *connData) nextTimerRemaining() (time.Duration, bool) {
	var r1, ok1 = d.t1.remaining()
	var r3, ok3 = d.t3.remaining()
	switch {
	case ok1 && ok3:
		if r3 < r1 {
			return r3, true
		}
		return r1, true
	case ok1:
		return r1, true
	case ok3:
		return r3, true
	}
	return 0, false
}
