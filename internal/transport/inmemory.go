package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

// Medium is a shared in-process broadcast bus: every frame posted by one
// participant is delivered to every other participant at most once (it is
// dropped for a participant whose inbox is full). It is
// the Go analogue of InMemoryMedium, used to exercise the full pipeline in
// tests without touching a real socket.
type Medium struct {
	mu           sync.Mutex
	participants map[int64]chan *protocol.Frame
}

// NewMedium creates an empty shared medium.
func NewMedium() *Medium {
	return &Medium{participants: make(map[int64]chan *protocol.Frame)}
}

// Join registers deviceID on the medium and returns an Endpoint bound to it.
// bufferSize sets the inbound channel capacity.
func (m *Medium) Join(deviceID int64, bufferSize int) (*InMemoryEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.participants[deviceID]; exists {
		return nil, fmt.Errorf("transport: device %d already joined medium", deviceID)
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	inbox := make(chan *protocol.Frame, bufferSize)
	m.participants[deviceID] = inbox
	return &InMemoryEndpoint{medium: m, selfID: deviceID, inbox: inbox}, nil
}

func (m *Medium) leave(deviceID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inbox, ok := m.participants[deviceID]; ok {
		delete(m.participants, deviceID)
		close(inbox)
	}
}

// broadcast delivers frame to every participant other than senderID.
// Delivery to a full inbox is dropped rather than blocking the sender,
// mirroring an unreliable physical medium.
func (m *Medium) broadcast(senderID int64, frame *protocol.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inbox := range m.participants {
		if id == senderID {
			continue
		}
		cp := &protocol.Frame{Data: append([]byte(nil), frame.Data...)}
		select {
		case inbox <- cp:
		default:
		}
	}
}

// InMemoryEndpoint is one participant's view of a Medium.
type InMemoryEndpoint struct {
	medium *Medium
	selfID int64
	inbox  chan *protocol.Frame

	closeOnce sync.Once
}

// Send broadcasts frame to every other participant on the medium.
func (e *InMemoryEndpoint) Send(ctx context.Context, frame *protocol.Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	e.medium.broadcast(e.selfID, frame)
	return nil
}

// Frames returns the channel of frames addressed to this participant.
func (e *InMemoryEndpoint) Frames() <-chan *protocol.Frame {
	return e.inbox
}

// Close leaves the medium, closing the inbound channel for any readers.
func (e *InMemoryEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.medium.leave(e.selfID)
	})
	return nil
}
