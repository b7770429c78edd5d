// Package transport carries already-framed bytes between peers. It knows
// nothing about packages, messages, or the codec above it: an Endpoint just
// moves Frame-sized byte slices in and out, the same separation of concerns
// AbstractPhysicalLayer draws around CodingModule.
package transport

import (
	"context"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

// Endpoint sends and receives already-CRC-framed byte slices. Implementations
// do not interpret the bytes; framing.Framer and protocol.Codec run above.
type Endpoint interface {
	// Send transmits one frame. It may block under backpressure.
	Send(ctx context.Context, frame *protocol.Frame) error

	// Frames returns the channel of frames received from the peer. It is
	// closed when the endpoint is closed or the underlying medium fails.
	Frames() <-chan *protocol.Frame

	// Close releases any underlying resources. Safe to call more than once.
	Close() error
}
