package malamute

/*------------------------------------------------------------------
 *
 * Purpose:	KISS framing for the byte port to the TNC.
 *
 * Description: The KISS TNC protocol is described in
 *		http://www.ka9q.net/papers/kiss.html
 *
 *		Briefly, a frame is composed of
 *
 *			* FEND (0xC0)
 *			* type/channel indicator byte (0 for a data frame)
 *			* Contents - with escape sequences so a 0xC0 byte
 *			  in the data is not taken as end of frame.
 *			* FEND
 *
 *		Only data frames (type 0) are generated here. Anything
 *		else a TNC sends is dropped when the AX.25 parse fails.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"net"
	"time"
)

/*
 * Special characters used by SLIP protocol.
 */

const FEND = 0xC0
const FESC = 0xDB
const TFEND = 0xDC
const TFESC = 0xDD

const kissCmdDataFrame = 0

// kissEncapsulate wraps a raw AX.25 frame in KISS framing: FEND, the
// type/channel byte, the escaped frame bytes, FEND.
func kissEncapsulate(in []byte) []byte {
	// Leave a little room for escapes.
	var out = make([]byte, 0, (3+len(in))*110/100)

	out = append(out, FEND, kissCmdDataFrame)

	for _, b := range in {
		switch b {
		case FEND:
			out = append(out, FESC, TFEND)
		case FESC:
			out = append(out, FESC, TFESC)
		default:
			out = append(out, b)
		}
	}

	return append(out, FEND)
}

// kissUnwrap reverses the escaping of a KISS frame body (the bytes
// between the FENDs, type indicator already stripped).
func kissUnwrap(in []byte) ([]byte, error) {
	var out = make([]byte, 0, len(in))
	var escaped = false
	for _, b := range in {
		switch {
		case escaped && b == TFESC:
			out = append(out, FESC)
			escaped = false
		case escaped && b == TFEND:
			out = append(out, FEND)
			escaped = false
		case escaped:
			return nil, fmt.Errorf("KISS protocol error: found 0x%02x after FESC", b)
		case b == FESC:
			escaped = true
		case b == FEND:
			return nil, fmt.Errorf("KISS protocol error: FEND inside frame")
		default:
			out = append(out, b)
		}
	}
	if escaped {
		return nil, fmt.Errorf("KISS protocol error: frame ends mid escape")
	}
	return out, nil
}

// findFrame locates the first pair of FEND bytes in the buffer.
func findFrame(buf []byte) (int, int, bool) {
	var start = -1
	for i, b := range buf {
		if b != FEND {
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		return start, i, true
	}
	return 0, 0, false
}

// kissDrain extracts as many complete frames as possible from buf,
// returning the unescaped AX.25 frame contents and the remaining buffer.
// Noise between frames, runts, and bad escapes are discarded; the
// closing FEND is kept as the opening FEND of the next frame.
func kissDrain(buf []byte) ([][]byte, []byte) {
	var frames [][]byte
	for {
		var a, b, found = findFrame(buf)
		if !found {
			return frames, buf
		}
		if b-a < 2 {
			// Back to back FENDs, keep searching from the second.
			buf = buf[a+1:]
			continue
		}
		// Skip the opening FEND and the type/channel byte.
		var body = buf[a+2 : b]
		buf = buf[b:]
		var frame, err = kissUnwrap(body)
		if err != nil || len(frame) == 0 {
			continue
		}
		frames = append(frames, frame)
	}
}

// Port is the full duplex byte stream to the KISS TNC. The engine owns
// it exclusively and uses the read deadline to multiplex port reads with
// the T1/T3 timers.
type Port interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// NewTCPPort connects to a network KISS TNC, such as Dire Wolf's
// default port 8001.
func NewTCPPort(addr string) (Port, error) {
	var conn, err = net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to KISS TNC %s: %w", addr, err)
	}
	return conn.(*net.TCPConn), nil
}
