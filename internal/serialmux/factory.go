package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenPort opens the device at path with go.bug.st/serial.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return port, nil
}

// RealOpener is the SerialPortOpener for hardware.
func RealOpener(path string, opts PortOptions) (SerialPorter, error) {
	return OpenPort(path, opts)
}
