// Package framing appends and verifies the CRC-32 integrity trailer that
// wraps every protocol.Frame before it reaches the datagram transport.
package framing

import (
	"fmt"
	"hash/crc32"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

// ErrTooShort is returned by Verify when a frame is too short to contain a
// CRC-32 trailer.
var ErrTooShort = fmt.Errorf("framing: frame too short to contain a CRC-32 trailer")

// ErrChecksumMismatch is returned by Verify when the trailing CRC-32 does
// not match the recomputed checksum of the frame body.
var ErrChecksumMismatch = fmt.Errorf("framing: CRC-32 mismatch, transmission error detected")

// Framer appends and strips the CRC-32 trailer, enforcing the size bounds
// derived from a ValidationConfig.
type Framer struct {
	cfg *config.ValidationConfig
}

// New builds a Framer bound to cfg's frame size limits.
func New(cfg *config.ValidationConfig) *Framer {
	return &Framer{cfg: cfg}
}

// Append computes the CRC-32 (IEEE, reflected, polynomial 0xEDB88320) of
// frame's body and returns a new Frame with the checksum appended
// big-endian. It rejects frames longer than the configured limit.
func (f *Framer) Append(frame *protocol.Frame) (*protocol.Frame, error) {
	if len(frame.Data) > f.cfg.MaxFrameBytesWithoutCRC() {
		return nil, fmt.Errorf("framing: frame of %d bytes exceeds maxFrameBytesWithoutCrc of %d",
			len(frame.Data), f.cfg.MaxFrameBytesWithoutCRC())
	}

	sum := crc32.ChecksumIEEE(frame.Data)
	out := make([]byte, len(frame.Data)+config.CRCFieldBytes)
	copy(out, frame.Data)
	out[len(frame.Data)+0] = byte(sum >> 24)
	out[len(frame.Data)+1] = byte(sum >> 16)
	out[len(frame.Data)+2] = byte(sum >> 8)
	out[len(frame.Data)+3] = byte(sum)

	return &protocol.Frame{Data: out}, nil
}

// Verify splits the trailing 4 bytes off frame as a CRC-32, recomputes the
// checksum over the remaining body, and returns the body with the trailer
// removed. It returns ErrTooShort or ErrChecksumMismatch on failure.
func (f *Framer) Verify(frame *protocol.Frame) (*protocol.Frame, error) {
	data := frame.Data
	if len(data) < config.CRCFieldBytes {
		return nil, ErrTooShort
	}
	if len(data) > f.cfg.MaxFrameBytesWithCRC() {
		return nil, fmt.Errorf("framing: frame of %d bytes exceeds maxFrameBytesWithCrc of %d",
			len(data), f.cfg.MaxFrameBytesWithCRC())
	}

	body := data[:len(data)-config.CRCFieldBytes]
	trailer := data[len(data)-config.CRCFieldBytes:]
	received := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])

	computed := crc32.ChecksumIEEE(body)
	if received != computed {
		return nil, ErrChecksumMismatch
	}

	out := make([]byte, len(body))
	copy(out, body)
	return &protocol.Frame{Data: out}, nil
}
