package malamute

/*------------------------------------------------------------------
 *
 * Purpose:	Write exchanged frames to a pcap file.
 *
 * Description: The pcap format is simple enough that linking libpcap
 *		would be overkill. Files are little endian pcap 2.4 with
 *		LINKTYPE_AX25, one record per frame, no KISS framing.
 *
 *		https://wiki.wireshark.org/Development/LibpcapFileFormat
 *		https://www.tcpdump.org/linktypes.html
 *
 *------------------------------------------------------------------*/

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

const pcapVersionMajor = 2
const pcapVersionMinor = 4
const linktypeAX25 = 3
const pcapSnaplen = 65535

var pcapMagic = []byte{0xD4, 0xC3, 0xB2, 0xA1}

// PcapWriter records raw AX.25 frames. Writes are buffered; a crash can
// lose the tail of the file.
type PcapWriter struct {
	f *os.File
	w *bufio.Writer
}

// NewPcapWriter creates a capture file. The path may contain strftime
// patterns ("%Y-%m-%d.pcap"), expanded at creation time. Fails if the
// file already exists.
func NewPcapWriter(path string) (*PcapWriter, error) {
	if strings.Contains(path, "%") {
		var expanded, err = strftime.Format(path, time.Now())
		if err != nil {
			return nil, fmt.Errorf("capture path %q: %w", path, err)
		}
		path = expanded
	}

	var f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	var w = bufio.NewWriter(f)

	var header [24]byte
	copy(header[0:4], pcapMagic)
	binary.LittleEndian.PutUint16(header[4:6], pcapVersionMajor)
	binary.LittleEndian.PutUint16(header[6:8], pcapVersionMinor)
	// Timezone offset and timestamp accuracy: everybody writes zero.
	binary.LittleEndian.PutUint32(header[16:20], pcapSnaplen)
	binary.LittleEndian.PutUint32(header[20:24], linktypeAX25)
	if _, err := w.Write(header[:]); err != nil {
		f.Close()
		return nil, err
	}
	return &PcapWriter{f: f, w: w}, nil
}

// Write appends one frame as a new record.
func (p *PcapWriter) Write(frame []byte) error {
	var now = time.Now()
	var header [16]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(now.Unix()))
	binary.LittleEndian.PutUint32(header[4:8], uint32(now.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(frame)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(frame)))
	if _, err := p.w.Write(header[:]); err != nil {
		return err
	}
	var _, err = p.w.Write(frame)
	return err
}

// Close flushes and closes the file.
func (p *PcapWriter) Close() error {
	if err := p.w.Flush(); err != nil {
		p.f.Close()
		return err
	}
	return p.f.Close()
}
