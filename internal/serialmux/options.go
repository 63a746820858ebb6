package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// NMEA 0183 line defaults.
const (
	DefaultBaudRate = 4800
	DefaultFraming  = "8N1"
)

// PortOptions are the line settings of a GPS receiver's serial port.
type PortOptions struct {
	BaudRate int
	// Framing is data bits, parity letter and stop bits, as in "8N1" or
	// "7E2". Empty means DefaultFraming.
	Framing string
}

var parities = map[byte]serial.Parity{
	'N': serial.NoParity,
	'E': serial.EvenParity,
	'O': serial.OddParity,
	'M': serial.MarkParity,
	'S': serial.SpaceParity,
}

// Mode validates the options and converts them for go.bug.st/serial.
func (o PortOptions) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: o.BaudRate}
	if mode.BaudRate <= 0 {
		mode.BaudRate = DefaultBaudRate
	}

	framing := strings.ToUpper(strings.TrimSpace(o.Framing))
	if framing == "" {
		framing = DefaultFraming
	}
	if len(framing) != 3 {
		return nil, fmt.Errorf("invalid framing %q: want data bits, parity, stop bits (e.g. 8N1)", o.Framing)
	}

	bits := int(framing[0] - '0')
	if bits < 5 || bits > 8 {
		return nil, fmt.Errorf("invalid framing %q: data bits must be 5 to 8", o.Framing)
	}
	mode.DataBits = bits

	parity, ok := parities[framing[1]]
	if !ok {
		return nil, fmt.Errorf("invalid framing %q: parity must be one of N, E, O, M, S", o.Framing)
	}
	mode.Parity = parity

	switch framing[2] {
	case '1':
		mode.StopBits = serial.OneStopBit
	case '2':
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid framing %q: stop bits must be 1 or 2", o.Framing)
	}
	return mode, nil
}
