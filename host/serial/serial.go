package serial

import (
	"io"
	"time"

	"deltastage/stage"
)

// Port represents a serial port interface. The GRBL link only needs a
// byte stream, which keeps it testable with pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM1", "COM3")
	Device string

	// Baud rate; GRBL ships at 115200
	Baud int

	// Read timeout; the reader polls at this interval (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultConfig returns a default configuration for a GRBL controller
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// FromSettings converts the machine serial section
func FromSettings(s stage.SerialConfig) *Config {
	cfg := DefaultConfig(s.Device)
	if s.Baud > 0 {
		cfg.Baud = s.Baud
	}
	if s.ReadTimeoutMs > 0 {
		cfg.ReadTimeout = time.Duration(s.ReadTimeoutMs) * time.Millisecond
	}
	return cfg
}
