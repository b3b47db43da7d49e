package commands

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/keepkey/hostcore/internal/proto"
	"github.com/keepkey/hostcore/internal/registry"
	"github.com/keepkey/hostcore/internal/transport"
)

// Conn is the host-side HID connection: write one report to the device and
// block for the next one back. A concrete implementation is supplied by a
// platform build (see platformConn in root.go); this module never opens a
// real USB handle, matching cmd/hostcored's platformHID seam.
type Conn interface {
	WriteReport(report []byte) error
	ReadReport() ([]byte, error)
}

// errShortReport indicates a Conn returned a report of the wrong length.
var errShortReport = errors.New("hostcorectl: report must be 64 bytes")

// Client is the host-side complement to transport.Writer and
// transport.Assembler. Those types are fixed to the device's side of the
// wire on purpose -- Writer only ever emits DirectionOutToHost schemas,
// Assembler only ever reassembles DirectionInFromHost ones, because exactly
// one of each exists per channel on the device. hostcorectl sits on the
// opposite side of the same wire format, so it carries its own small
// mirror-image codec rather than bending the device-side types to a role
// they were not built for.
type Client struct {
	conn         Conn
	channel      registry.Channel
	maxFrameSize uint32
}

// NewClient constructs a Client bound to one channel of a Conn.
func NewClient(conn Conn, channel registry.Channel, maxFrameSize uint32) *Client {
	return &Client{conn: conn, channel: channel, maxFrameSize: maxFrameSize}
}

// Call writes one request frame and blocks for one full response frame.
func (c *Client) Call(id proto.MessageID, encoded []byte) (proto.MessageID, []byte, error) {
	if err := c.write(id, encoded); err != nil {
		return 0, nil, err
	}
	return c.read()
}

func (c *Client) write(id proto.MessageID, encoded []byte) error {
	header := make([]byte, 9)
	header[0] = '?'
	header[1] = '#'
	header[2] = '#'
	binary.BigEndian.PutUint16(header[3:5], uint16(id))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(encoded)))

	report := make([]byte, transport.ReportSize)
	n := copy(report, header)
	n += copy(report[n:], encoded)
	for i := n; i < transport.ReportSize; i++ {
		report[i] = 0
	}
	if err := c.conn.WriteReport(report); err != nil {
		return fmt.Errorf("hostcorectl: write first report: %w", err)
	}

	rest := encoded[min(len(encoded), transport.ReportSize-9):]
	for len(rest) > 0 {
		report := make([]byte, transport.ReportSize)
		report[0] = '?'
		n := copy(report[1:], rest)
		for i := 1 + n; i < transport.ReportSize; i++ {
			report[i] = 0
		}
		if err := c.conn.WriteReport(report); err != nil {
			return fmt.Errorf("hostcorectl: write continuation report: %w", err)
		}
		rest = rest[n:]
	}
	return nil
}

func (c *Client) read() (proto.MessageID, []byte, error) {
	report, err := c.conn.ReadReport()
	if err != nil {
		return 0, nil, fmt.Errorf("hostcorectl: read report: %w", err)
	}
	if len(report) != transport.ReportSize {
		return 0, nil, errShortReport
	}
	if report[0] != '?' || report[1] != '#' || report[2] != '#' {
		return 0, nil, fmt.Errorf("hostcorectl: malformed response frame header")
	}

	id := proto.MessageID(binary.BigEndian.Uint16(report[3:5]))
	declaredLen := binary.BigEndian.Uint32(report[5:9])
	if declaredLen > c.maxFrameSize {
		return 0, nil, fmt.Errorf("hostcorectl: response declares %d bytes, exceeds max frame size %d", declaredLen, c.maxFrameSize)
	}

	buf := append([]byte(nil), report[9:]...)
	if uint32(len(buf)) > declaredLen {
		buf = buf[:declaredLen]
	}

	for uint32(len(buf)) < declaredLen {
		report, err := c.conn.ReadReport()
		if err != nil {
			return 0, nil, fmt.Errorf("hostcorectl: read continuation report: %w", err)
		}
		if len(report) != transport.ReportSize || report[0] != '?' {
			return 0, nil, fmt.Errorf("hostcorectl: malformed continuation report")
		}
		remaining := declaredLen - uint32(len(buf))
		chunk := report[1:]
		if uint32(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		buf = append(buf, chunk...)
	}

	return id, buf, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
