package malamute

/*------------------------------------------------------------------
 *
 * Purpose:	AX.25 frame assembly and disassembly, all frame types.
 *
 * Description: A frame is laid out as
 *
 *			dst address   (7 bytes)
 *			src address   (7 bytes)
 *			[digipeater addresses]
 *			control       (1 byte, or 2 for mod-128 S and I)
 *			[PID]         (I frames)
 *			[payload]
 *
 *		The low two bits of the first control octet classify the
 *		frame: x0 is I, 01 is S, 11 is U. U frames always use a
 *		single control octet, even in extended mode.
 *
 *		The FCS is assumed stripped by the KISS transport, so it
 *		is neither generated nor checked here.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
)

// U frame control octets, poll/final bit masked off.
const controlSABM = 0b0010_1111
const controlSABME = 0b0110_1111
const controlUI = 0b0000_0011
const controlDISC = 0b0100_0011
const controlDM = 0b0000_1111
const controlUA = 0b0110_0011
const controlTEST = 0b1110_0011
const controlXID = 0b1010_1111
const controlFRMR = 0b1000_0111

// S frame control octets.
const controlRR = 0b0000_0001
const controlRNR = 0b0000_0101
const controlREJ = 0b0000_1001
const controlSREJ = 0b0000_1101

const controlIFrame = 0b0000_0000

const controlPoll = 0b0001_0000
const nrMask = 0b1110_0000
const frameTypeMask = 0b0000_0011

// PIDNoLayer3 is the protocol ID for text/no-layer-3 I frames.
const PIDNoLayer3 = 0xF0

const minFrameLen = 15

// PacketType is the tagged frame-type variant of a Packet.
type PacketType interface {
	// FrameName is the conventional short name, e.g. "SABM" or "I".
	FrameName() string
}

// SABM - Set Asynchronous Balanced Mode. Mod-8 connection request.
type SABM struct {
	Poll bool
}

// SABME - SABM Extended. Mod-128 connection request.
type SABME struct {
	Poll bool
}

// UA - Unnumbered Acknowledge. Reply to SABM(E) and DISC.
type UA struct {
	Poll bool
}

// DM - Disconnected Mode. The "no connection here" response.
type DM struct {
	Poll bool
}

// DISC - Disconnect request.
type DISC struct {
	Poll bool
}

// UI - Unnumbered Information, outside the sequenced flow. APRS lives here.
type UI struct {
	Push    bool
	Payload []byte
}

// TEST - loopback probe. The payload is mirrored back.
type TEST struct {
	Poll    bool
	Payload []byte
}

// XID - Exchange Identification. Parameter negotiation, not implemented
// beyond recognising the frame.
type XID struct {
	Poll bool
}

// FRMR - Frame Reject. Deprecated by AX.25 2.2; parsed but never generated.
type FRMR struct {
	Poll bool
}

// RR - Receiver Ready. Acknowledges everything below NR.
type RR struct {
	Poll bool
	NR   byte
}

// RNR - Receiver Not Ready. Like RR but asks the peer to hold off.
type RNR struct {
	Poll bool
	NR   byte
}

// REJ - Reject. Requests retransmission from NR onward.
type REJ struct {
	Poll bool
	NR   byte
}

// SREJ - Selective Reject. Requests retransmission of frame NR only.
type SREJ struct {
	Poll bool
	NR   byte
}

// IFrame - Information frame carrying sequenced payload.
type IFrame struct {
	NS      byte
	NR      byte
	Poll    bool
	PID     byte
	Payload []byte
}

func (SABM) FrameName() string   { return "SABM" }
func (SABME) FrameName() string  { return "SABME" }
func (UA) FrameName() string     { return "UA" }
func (DM) FrameName() string     { return "DM" }
func (DISC) FrameName() string   { return "DISC" }
func (UI) FrameName() string     { return "UI" }
func (TEST) FrameName() string   { return "TEST" }
func (XID) FrameName() string    { return "XID" }
func (FRMR) FrameName() string   { return "FRMR" }
func (RR) FrameName() string     { return "RR" }
func (RNR) FrameName() string    { return "RNR" }
func (REJ) FrameName() string    { return "REJ" }
func (SREJ) FrameName() string   { return "SREJ" }
func (IFrame) FrameName() string { return "I" }

// Packet is one AX.25 frame of any type.
//
// The command/response bits of the two addresses are denormalised onto
// the packet: CommandResponse is the destination H bit, CommandResponseLA
// the source H bit. A well formed frame sets exactly one of them.
type Packet struct {
	Dst Addr
	Src Addr

	// Digipeater path. Always empty here; addresses pass through opaquely.
	Digipeater []Addr

	CommandResponse   bool
	CommandResponseLA bool
	// Extended (mod-128) sequence numbers, mirrored from the source
	// address reserved bit, Linux style.
	RRExtSeq bool
	RRDist1  bool

	Type PacketType
}

// Command reports whether the frame is a command (vs response).
func (p *Packet) Command() bool {
	return p.CommandResponse
}

func uControl(control byte, poll bool) byte {
	if poll {
		return control | controlPoll
	}
	return control
}

// sControl emits the one- or two-octet control field of an S frame.
func sControl(out []byte, control byte, nr byte, poll bool, ext bool) []byte {
	if ext {
		var c2 = (nr << 1) & 0xFE
		if poll {
			c2 |= 1
		}
		return append(out, control, c2)
	}
	var c = control | ((nr << 5) & nrMask)
	if poll {
		c |= controlPoll
	}
	return append(out, c)
}

// Serialize encodes the packet, in standard mod-8 or extended mod-128
// layout. KISS framing and FCS belong to the transport, not here.
func (p *Packet) Serialize(ext bool) []byte {
	var out = make([]byte, 0, minFrameLen+2+payloadLen(p.Type))

	out = append(out, p.Dst.Serialize(false, p.CommandResponse, p.RRDist1, false)...)
	// Setting the first reserved bit of src for extended mode is a de
	// facto standard (the Linux kernel does the same).
	out = append(out, p.Src.Serialize(len(p.Digipeater) == 0, p.CommandResponseLA, ext, false)...)

	switch t := p.Type.(type) {
	case SABM:
		if ext {
			out = append(out, uControl(controlSABME, t.Poll))
		} else {
			out = append(out, uControl(controlSABM, t.Poll))
		}
	case SABME:
		out = append(out, uControl(controlSABME, t.Poll))
	case UA:
		out = append(out, uControl(controlUA, t.Poll))
	case DM:
		out = append(out, uControl(controlDM, t.Poll))
	case DISC:
		out = append(out, uControl(controlDISC, t.Poll))
	case FRMR:
		out = append(out, uControl(controlFRMR, t.Poll))
	case XID:
		out = append(out, uControl(controlXID, t.Poll))
	case UI:
		out = append(out, uControl(controlUI, t.Push))
		out = append(out, t.Payload...)
	case TEST:
		out = append(out, uControl(controlTEST, t.Poll))
		out = append(out, t.Payload...)
	case RR:
		out = sControl(out, controlRR, t.NR, t.Poll, ext)
	case RNR:
		out = sControl(out, controlRNR, t.NR, t.Poll, ext)
	case REJ:
		out = sControl(out, controlREJ, t.NR, t.Poll, ext)
	case SREJ:
		out = sControl(out, controlSREJ, t.NR, t.Poll, ext)
	case IFrame:
		if ext {
			var c2 = (t.NR << 1) & 0xFE
			if t.Poll {
				c2 |= 1
			}
			out = append(out, (t.NS<<1)&0xFE, c2)
		} else {
			var c = byte(controlIFrame) | ((t.NR << 5) & nrMask) | ((t.NS << 1) & 0b0000_1110)
			if t.Poll {
				c |= controlPoll
			}
			out = append(out, c)
		}
		out = append(out, t.PID)
		out = append(out, t.Payload...)
	}
	return out
}

func payloadLen(t PacketType) int {
	switch t := t.(type) {
	case IFrame:
		return len(t.Payload) + 1
	case UI:
		return len(t.Payload)
	case TEST:
		return len(t.Payload)
	}
	return 0
}

// ParsePacket decodes a raw AX.25 frame, without KISS framing or FCS.
//
// The source address reserved bit selects the extended (mod-128) layout,
// the same heuristic the Linux kernel uses.
func ParsePacket(b []byte) (*Packet, error) {
	if len(b) < minFrameLen {
		return nil, fmt.Errorf("packet too short: %d bytes", len(b))
	}
	var dst, dstErr = ParseAddr(b[0:7])
	if dstErr != nil {
		return nil, dstErr
	}
	var src, srcErr = ParseAddr(b[7:14])
	if srcErr != nil {
		return nil, srcErr
	}

	var ext = src.RBitExt

	var control1 = b[14]
	var poll bool
	var nr, ns byte
	var rest []byte
	if !ext || control1&frameTypeMask == 3 {
		// One control octet. For U frames nr/ns are nonsense, for S
		// frames ns is nonsense; the dispatch below ignores them.
		poll = control1&controlPoll != 0
		nr = (control1 >> 5) & 7
		ns = (control1 >> 1) & 7
		rest = b[15:]
	} else {
		if len(b) < minFrameLen+1 {
			return nil, fmt.Errorf("extended mode S/I frame too short: %d bytes", len(b))
		}
		var control2 = b[15]
		poll = control2&1 != 0
		nr = (control2 >> 1) & 127
		ns = (control1 >> 1) & 127
		rest = b[16:]
	}

	var packetType PacketType
	switch control1 & frameTypeMask {
	case 0, 2:
		if len(rest) < 1 {
			return nil, fmt.Errorf("I frame missing PID")
		}
		packetType = IFrame{
			NS:      ns,
			NR:      nr,
			Poll:    poll,
			PID:     rest[0],
			Payload: rest[1:],
		}
	case 1:
		switch control1 &^ byte(nrMask) &^ byte(controlPoll) {
		case controlRR:
			packetType = RR{NR: nr, Poll: poll}
		case controlRNR:
			packetType = RNR{NR: nr, Poll: poll}
		case controlREJ:
			packetType = REJ{NR: nr, Poll: poll}
		case controlSREJ:
			packetType = SREJ{NR: nr, Poll: poll}
		}
	case 3:
		switch control1 &^ byte(controlPoll) {
		case controlSABM:
			packetType = SABM{Poll: poll}
		case controlSABME:
			packetType = SABME{Poll: poll}
		case controlUA:
			packetType = UA{Poll: poll}
		case controlDISC:
			packetType = DISC{Poll: poll}
		case controlDM:
			packetType = DM{Poll: poll}
		case controlFRMR:
			packetType = FRMR{Poll: poll}
		case controlXID:
			packetType = XID{Poll: poll}
		case controlUI:
			packetType = UI{Push: poll, Payload: rest}
		case controlTEST:
			packetType = TEST{Poll: poll, Payload: rest}
		default:
			return nil, fmt.Errorf("unimplemented U frame control 0x%02x", control1)
		}
	}

	return &Packet{
		Src:               src,
		Dst:               dst,
		CommandResponse:   dst.HighBit,
		CommandResponseLA: src.HighBit,
		RRDist1:           dst.RBitExt,
		RRExtSeq:          ext,
		Type:              packetType,
	}, nil
}
