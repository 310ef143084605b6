package malamute

/*------------------------------------------------------------------
 *
 * Purpose:	The AX.25 data link state machine.
 *
 * Description: A pure transition function over (state, connection data,
 *		event). Events are incoming frames or local requests
 *		(connect, disconnect, data, timer expiry). The function
 *		mutates only the connection data it is handed and returns
 *		the next state plus an ordered list of side effects:
 *		frames to transmit, payload to deliver, protocol error
 *		indications and EOF.
 *
 *		States follow the specification: Disconnected, Awaiting
 *		Connection, Awaiting Release, Connected, Timer Recovery.
 *		Timer Recovery shares almost all of its event table with
 *		Connected; the exceptions are T1, T3 and the S frame final
 *		handling.
 *
 *------------------------------------------------------------------*/

type connState int

const (
	stateDisconnected connState = iota
	stateAwaitingConnection
	stateAwaitingRelease
	stateConnected
	stateTimerRecovery
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "Disconnected"
	case stateAwaitingConnection:
		return "AwaitingConnection"
	case stateAwaitingRelease:
		return "AwaitingRelease"
	case stateConnected:
		return "Connected"
	case stateTimerRecovery:
		return "TimerRecovery"
	}
	return "invalid"
}

/*
 * Events.
 */

type event interface {
	eventName() string
}

type evConnect struct {
	peer     Addr
	extended bool
}

type evDisconnect struct{}

type evData struct {
	payload []byte
}

type evT1 struct{}

type evT3 struct{}

type evFrame struct {
	packet *Packet
}

func (evConnect) eventName() string    { return "Connect" }
func (evDisconnect) eventName() string { return "Disconnect" }
func (evData) eventName() string       { return "Data" }
func (evT1) eventName() string         { return "T1" }
func (evT3) eventName() string         { return "T3" }
func (e evFrame) eventName() string    { return e.packet.Type.FrameName() }

/*
 * Return events: what the caller must do.
 */

type returnEvent interface{}

type sendPacket struct {
	packet Packet
}

type reportError struct {
	code DlError
}

type deliverData struct {
	payload []byte
}

type reportEOF struct{}

// handle runs one event through the state machine.
func handle(s connState, d *connData, ev event) (connState, []returnEvent) {
	switch s {
	case stateDisconnected:
		return disconnectedEvent(d, ev)
	case stateAwaitingConnection:
		return awaitingConnectionEvent(d, ev)
	case stateAwaitingRelease:
		return awaitingReleaseEvent(d, ev)
	case stateConnected:
		return connectedEvent(d, ev, false)
	case stateTimerRecovery:
		return connectedEvent(d, ev, true)
	}
	return s, nil
}

// uiCheck validates a received UI frame. A UI response, or an oversize
// payload, is a protocol error; otherwise the frame is acceptable.
// Error assignment follows 4.3.3.6 semantics rather than the spec's
// error table, which swaps them.
func uiCheck(d *connData, p *Packet, ui UI) []returnEvent {
	if !p.Command() {
		return []returnEvent{reportError{code: DlErrorQ}}
	}
	if len(ui.Payload) > d.n1 {
		return []returnEvent{reportError{code: DlErrorK}}
	}
	return nil
}

/*------------------------------------------------------------------
 *
 * Disconnected.
 *
 *------------------------------------------------------------------*/

func disconnectedEvent(d *connData, ev event) (connState, []returnEvent) {
	switch e := ev.(type) {
	case evConnect:
		var peer = e.peer
		d.peer = &peer
		if e.extended {
			d.setVersion22()
		} else {
			d.setVersion2()
		}
		d.srt = d.srtDefault
		d.t1v = 2 * d.srt
		d.layer3Initiated = true
		return stateAwaitingConnection, d.establishDataLink()

	case evDisconnect:
		// Already disconnected.
		return stateDisconnected, nil

	case evT1:
		d.t1.stop()
		return stateDisconnected, nil

	case evT3:
		d.t3.stop()
		return stateDisconnected, nil

	case evFrame:
		return disconnectedFrame(d, e.packet)
	}
	return stateDisconnected, nil
}

func disconnectedFrame(d *connData, p *Packet) (connState, []returnEvent) {
	switch t := p.Type.(type) {
	case SABM:
		return incomingConnection(d, p, false, t.Poll)
	case SABME:
		return incomingConnection(d, p, true, t.Poll)
	case DISC:
		return stateDisconnected, []returnEvent{d.reply(p.Src, DM{Poll: t.Poll}, false)}
	case UA:
		return stateDisconnected, []returnEvent{reportError{code: DlErrorC}}
	case DM:
		return stateDisconnected, nil
	case UI:
		var events = uiCheck(d, p, t)
		if t.Push {
			events = append(events, d.reply(p.Src, DM{Poll: true}, false))
		}
		return stateDisconnected, events
	case TEST:
		if p.Command() && t.Poll {
			return stateDisconnected, []returnEvent{d.reply(p.Src, TEST{Poll: true, Payload: t.Payload}, false)}
		}
		return stateDisconnected, nil
	case IFrame:
		if p.Command() {
			return stateDisconnected, []returnEvent{d.reply(p.Src, DM{Poll: t.Poll}, false)}
		}
	case RR:
		if p.Command() {
			return stateDisconnected, []returnEvent{d.reply(p.Src, DM{Poll: t.Poll}, false)}
		}
	case RNR:
		if p.Command() {
			return stateDisconnected, []returnEvent{d.reply(p.Src, DM{Poll: t.Poll}, false)}
		}
	case REJ:
		if p.Command() {
			return stateDisconnected, []returnEvent{d.reply(p.Src, DM{Poll: t.Poll}, false)}
		}
	case SREJ:
		if p.Command() {
			return stateDisconnected, []returnEvent{d.reply(p.Src, DM{Poll: t.Poll}, false)}
		}
	}
	return stateDisconnected, nil
}

// incomingConnection accepts (or refuses) a SABM/SABME heard while
// disconnected.
func incomingConnection(d *connData, p *Packet, extended bool, poll bool) (connState, []returnEvent) {
	if !d.ableToEstablish {
		return stateDisconnected, []returnEvent{d.reply(p.Src, DM{Poll: poll}, false)}
	}
	if extended {
		d.setVersion22()
	} else {
		d.setVersion2()
	}
	d.clearExceptionConditions()
	d.vs = 0
	d.va = 0
	d.vr = 0
	d.srt = d.srtDefault
	d.t1v = 2 * d.srt
	d.t3.start(d.t3v)
	var peer = p.Src
	peer.HighBit = false
	peer.LowBit = false
	peer.RBitExt = false
	peer.RBitDAMA = false
	d.peer = &peer
	return stateConnected, []returnEvent{d.send(UA{Poll: poll}, false)}
}

/*------------------------------------------------------------------
 *
 * Awaiting connection. SABM(E) sent, waiting for the UA.
 *
 *------------------------------------------------------------------*/

func awaitingConnectionEvent(d *connData, ev event) (connState, []returnEvent) {
	switch e := ev.(type) {
	case evT1:
		if d.rc == d.n2 {
			d.clearIframeQueues()
			d.t1.stop()
			d.t3.stop()
			d.peer = nil
			return stateDisconnected, []returnEvent{reportError{code: DlErrorG}}
		}
		d.rc++
		d.selectT1Value()
		d.t1.restart(d.t1v)
		if d.ext() {
			return stateAwaitingConnection, []returnEvent{d.send(SABME{Poll: true}, true)}
		}
		return stateAwaitingConnection, []returnEvent{d.send(SABM{Poll: true}, true)}

	case evDisconnect:
		d.t1.stop()
		var events = []returnEvent{d.send(DISC{Poll: true}, true)}
		d.peer = nil
		return stateDisconnected, events

	case evData:
		// Buffered; the window opens once the UA arrives.
		d.obuf = append(d.obuf, e.payload...)
		return stateAwaitingConnection, nil

	case evFrame:
		return awaitingConnectionFrame(d, e.packet)
	}
	return stateAwaitingConnection, nil
}

func awaitingConnectionFrame(d *connData, p *Packet) (connState, []returnEvent) {
	switch t := p.Type.(type) {
	case UA:
		if !t.Poll {
			return stateAwaitingConnection, []returnEvent{reportError{code: DlErrorD}}
		}
		d.t1.stop()
		d.t3.start(d.t3v)
		d.vs = 0
		d.va = 0
		d.vr = 0
		d.rc = 0
		d.selectT1Value()
		return stateConnected, d.flush()

	case SABM:
		// Collision: both sides connecting. Agree.
		return stateAwaitingConnection, []returnEvent{d.send(UA{Poll: t.Poll}, false)}

	case SABME:
		return stateAwaitingConnection, []returnEvent{d.send(DM{Poll: t.Poll}, false)}

	case DM:
		if t.Poll {
			d.t1.stop()
			d.clearIframeQueues()
			d.peer = nil
			return stateDisconnected, nil
		}

	case DISC:
		return stateAwaitingConnection, []returnEvent{d.send(DM{Poll: t.Poll}, false)}

	case UI:
		var events = uiCheck(d, p, t)
		if t.Push {
			events = append(events, d.send(DM{Poll: true}, false))
		}
		return stateAwaitingConnection, events

	case TEST:
		if p.Command() && t.Poll {
			return stateAwaitingConnection, []returnEvent{d.reply(p.Src, TEST{Poll: true, Payload: t.Payload}, false)}
		}
	}
	return stateAwaitingConnection, nil
}

/*------------------------------------------------------------------
 *
 * Awaiting release. DISC sent, waiting for the UA (or DM).
 *
 *------------------------------------------------------------------*/

func awaitingReleaseEvent(d *connData, ev event) (connState, []returnEvent) {
	switch e := ev.(type) {
	case evT1:
		if d.rc == d.n2 {
			d.t1.stop()
			d.t3.stop()
			d.peer = nil
			return stateDisconnected, []returnEvent{reportError{code: DlErrorH}}
		}
		d.rc++
		d.t1.restart(d.t1v)
		return stateAwaitingRelease, []returnEvent{d.send(DISC{Poll: true}, true)}

	case evDisconnect:
		d.t1.stop()
		var events = []returnEvent{d.send(DM{Poll: true}, false)}
		d.peer = nil
		return stateDisconnected, events

	case evFrame:
		return awaitingReleaseFrame(d, e.packet)
	}
	return stateAwaitingRelease, nil
}

func awaitingReleaseFrame(d *connData, p *Packet) (connState, []returnEvent) {
	switch t := p.Type.(type) {
	case UA:
		if !t.Poll {
			return stateAwaitingRelease, []returnEvent{reportError{code: DlErrorD}}
		}
		d.t1.stop()
		d.peer = nil
		return stateDisconnected, nil

	case DM:
		if t.Poll {
			d.t1.stop()
			d.peer = nil
			return stateDisconnected, nil
		}

	case DISC:
		return stateAwaitingRelease, []returnEvent{d.send(UA{Poll: t.Poll}, false)}

	case SABM:
		return stateAwaitingRelease, []returnEvent{d.send(DM{Poll: t.Poll}, false)}

	case SABME:
		return stateAwaitingRelease, []returnEvent{d.send(DM{Poll: t.Poll}, false)}

	case TEST:
		if p.Command() && t.Poll {
			return stateAwaitingRelease, []returnEvent{d.reply(p.Src, TEST{Poll: true, Payload: t.Payload}, false)}
		}
	}
	return stateAwaitingRelease, nil
}

/*------------------------------------------------------------------
 *
 * Connected and Timer Recovery. The event tables are identical except
 * for T1, T3 and the S frame final-bit handling, so both run through
 * here with a flag.
 *
 *------------------------------------------------------------------*/

func connectedEvent(d *connData, ev event, recovery bool) (connState, []returnEvent) {
	var self = stateConnected
	if recovery {
		self = stateTimerRecovery
	}

	switch e := ev.(type) {
	case evData:
		d.obuf = append(d.obuf, e.payload...)
		return self, d.flush()

	case evDisconnect:
		d.clearIframeQueues()
		d.rc = 1
		d.t3.stop()
		d.t1.restart(d.t1v)
		return stateAwaitingRelease, []returnEvent{d.send(DISC{Poll: true}, true)}

	case evT1:
		if !recovery {
			d.t1.stop()
			d.rc = 1
			return stateTimerRecovery, d.transmitEnquiry()
		}
		d.rc++
		if d.rc == d.n2 {
			var code = DlErrorI
			if d.vs == d.va {
				code = DlErrorT
				if d.peerReceiverBusy {
					code = DlErrorU
				}
			}
			var events = []returnEvent{
				reportError{code: code},
				d.send(DM{Poll: false}, false),
				reportEOF{},
			}
			d.clearIframeQueues()
			d.t1.stop()
			d.t3.stop()
			d.peer = nil
			return stateDisconnected, events
		}
		return stateTimerRecovery, d.transmitEnquiry()

	case evT3:
		if recovery {
			// T3 should not run here at all; treat as a soft bug.
			d.t3.stop()
			return self, nil
		}
		d.t3.stop()
		d.rc = 1
		return stateTimerRecovery, d.transmitEnquiry()

	case evFrame:
		return connectedFrame(d, e.packet, self, recovery)
	}
	return self, nil
}

func connectedFrame(d *connData, p *Packet, self connState, recovery bool) (connState, []returnEvent) {
	switch t := p.Type.(type) {
	case IFrame:
		return connectedIframe(d, p, t, self)

	case RR:
		d.peerReceiverBusy = false
		return connectedSFrame(d, p, t.NR, t.Poll, self, recovery, nil)

	case RNR:
		d.peerReceiverBusy = true
		return connectedSFrame(d, p, t.NR, t.Poll, self, recovery, nil)

	case REJ:
		d.peerReceiverBusy = false
		return connectedSFrame(d, p, t.NR, t.Poll, self, recovery, d.retransmitAfterAck)

	case SREJ:
		return connectedSrej(d, p, t, self)

	case SABM:
		return connectedReset(d, t.Poll)

	case SABME:
		return connectedReset(d, t.Poll)

	case DISC:
		d.clearIframeQueues()
		d.t1.stop()
		d.t3.stop()
		var events = []returnEvent{
			d.send(UA{Poll: t.Poll}, false),
			reportEOF{},
		}
		d.peer = nil
		return stateDisconnected, events

	case DM:
		d.clearIframeQueues()
		d.t1.stop()
		d.t3.stop()
		var events = []returnEvent{reportError{code: DlErrorE}, reportEOF{}}
		d.peer = nil
		return stateDisconnected, events

	case UA:
		d.layer3Initiated = false
		var events = []returnEvent{reportError{code: DlErrorC}}
		events = append(events, d.establishDataLink()...)
		return stateAwaitingConnection, events

	case FRMR:
		d.layer3Initiated = false
		var events = []returnEvent{reportError{code: DlErrorK}}
		events = append(events, d.establishDataLink()...)
		return stateAwaitingConnection, events

	case UI:
		var events = uiCheck(d, p, t)
		if t.Push {
			events = append(events, d.send(RR{Poll: true, NR: d.vr}, false))
			d.acknowledgePending = false
		}
		return self, events

	case TEST:
		if p.Command() && t.Poll {
			return self, []returnEvent{d.send(TEST{Poll: true, Payload: t.Payload}, false)}
		}
		return self, nil

	case XID:
		// Parameter negotiation is not implemented; ignore.
		return self, nil
	}
	return self, nil
}

// connectedIframe is the I frame receive path, common to Connected and
// Timer Recovery.
func connectedIframe(d *connData, p *Packet, t IFrame, self connState) (connState, []returnEvent) {
	if !p.Command() {
		return self, []returnEvent{reportError{code: DlErrorS}}
	}
	if len(t.Payload) > d.n1 {
		d.layer3Initiated = false
		var events = []returnEvent{reportError{code: DlErrorO}}
		events = append(events, d.establishDataLink()...)
		return stateAwaitingConnection, events
	}
	if !d.validNR(t.NR) {
		return nrErrorRecovery(d)
	}

	var events = d.checkIframeAcked(t.NR)

	if d.ownReceiverBusy {
		// Discard the information.
		if t.Poll {
			events = append(events, d.send(RNR{Poll: true, NR: d.vr}, false))
			d.acknowledgePending = false
		}
		return self, events
	}

	if t.NS == d.vr {
		d.vr = (d.vr + 1) % d.modulus
		d.rejectException = false
		events = append(events, deliverData{payload: t.Payload})
		if t.Poll {
			events = append(events, d.send(RR{Poll: true, NR: d.vr}, false))
			d.acknowledgePending = false
		} else {
			d.acknowledgePending = true
		}
		return self, events
	}

	if d.rejectException {
		// Already asked for a resend; drop the duplicate quietly.
		if t.Poll {
			events = append(events, d.send(RR{Poll: true, NR: d.vr}, false))
			d.acknowledgePending = false
		}
		return self, events
	}

	// Out of sequence, no SREJ in this implementation: reject from V(R).
	d.rejectException = true
	events = append(events, d.send(REJ{Poll: t.Poll, NR: d.vr}, false))
	d.acknowledgePending = false
	return self, events
}

// connectedSFrame is the RR/RNR/REJ receive path. retransmitAfter, when
// non-nil, re-sends the outstanding queue once the ack is processed
// (the REJ behaviour).
func connectedSFrame(d *connData, p *Packet, nr byte, poll bool, self connState, recovery bool, retransmitAfter func(byte) []returnEvent) (connState, []returnEvent) {
	if recovery {
		return recoverySFrame(d, p, nr, poll, retransmitAfter)
	}

	var events []returnEvent
	if p.Command() && poll {
		events = append(events, d.enquiryResponse()...)
	}
	if !d.validNR(nr) {
		var next, recoveryEvents = nrErrorRecovery(d)
		return next, append(events, recoveryEvents...)
	}
	if retransmitAfter != nil {
		return self, append(events, retransmitAfter(nr)...)
	}
	return self, append(events, d.checkIframeAcked(nr)...)
}

// recoverySFrame is the Timer Recovery S frame handling: a final bit
// ends the recovery probe, everything else just updates the ack state.
func recoverySFrame(d *connData, p *Packet, nr byte, poll bool, retransmitAfter func(byte) []returnEvent) (connState, []returnEvent) {
	if !p.Command() && poll {
		// The enquiry response we were waiting for.
		d.t1.stop()
		d.selectT1Value()
		if !d.validNR(nr) {
			return nrErrorRecovery(d)
		}
		var events = d.updateAck(nr)
		if d.vs == d.va {
			d.rc = 0
			d.t3.start(d.t3v)
			return stateConnected, events
		}
		events = append(events, d.retransmit()...)
		d.t1.restart(d.t1v)
		return stateTimerRecovery, events
	}

	var events []returnEvent
	if p.Command() && poll {
		events = append(events, d.enquiryResponse()...)
	}
	if !d.validNR(nr) {
		var next, recoveryEvents = nrErrorRecovery(d)
		return next, append(events, recoveryEvents...)
	}
	if retransmitAfter != nil {
		return stateTimerRecovery, append(events, retransmitAfter(nr)...)
	}
	return stateTimerRecovery, append(events, d.updateAck(nr)...)
}

// connectedSrej resends the single requested frame. Only the receive
// side of SREJ is supported; we never generate them.
func connectedSrej(d *connData, p *Packet, t SREJ, self connState) (connState, []returnEvent) {
	if !d.validNR(t.NR) {
		return nrErrorRecovery(d)
	}
	var events []returnEvent
	if t.Poll {
		// F=1 acknowledges everything below N(R).
		events = d.updateAck(t.NR)
	}
	var idx = int((t.NR - d.va + d.modulus) % d.modulus)
	if idx < len(d.resendQueue) {
		events = append(events, d.send(IFrame{
			NS:      t.NR,
			NR:      d.vr,
			PID:     PIDNoLayer3,
			Payload: d.resendQueue[idx],
		}, true))
	}
	return self, events
}

// retransmitAfterAck is the REJ ack path: advance V(A), resend what is
// left, and rearm the timers for the outcome.
func (d *connData) retransmitAfterAck(nr byte) []returnEvent {
	var events = d.updateAck(nr)
	events = append(events, d.retransmit()...)
	if len(d.resendQueue) > 0 {
		d.t3.stop()
		d.t1.restart(d.t1v)
	} else {
		d.t1.stop()
		d.t3.start(d.t3v)
	}
	return events
}

// connectedReset handles a SABM(E) heard while connected: the peer has
// reset the link under us.
func connectedReset(d *connData, poll bool) (connState, []returnEvent) {
	d.clearExceptionConditions()
	d.vs = 0
	d.va = 0
	d.vr = 0
	d.rc = 0
	d.t1.stop()
	d.t3.start(d.t3v)
	return stateConnected, []returnEvent{
		reportError{code: DlErrorF},
		d.send(UA{Poll: poll}, false),
	}
}

// nrErrorRecovery resets the link after an impossible N(R).
func nrErrorRecovery(d *connData) (connState, []returnEvent) {
	d.layer3Initiated = false
	var events = []returnEvent{reportError{code: DlErrorJ}}
	events = append(events, d.establishDataLink()...)
	return stateAwaitingConnection, events
}
