package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

func TestUDPEndpointRoundTrip(t *testing.T) {
	a, err := NewUDPEndpoint(0, "127.0.0.1", 0, nil)
	if err != nil {
		t.Fatalf("new endpoint a: %v", err)
	}
	defer a.Close()

	b, err := NewUDPEndpoint(0, "127.0.0.1", a.conn.LocalAddr().(*net.UDPAddr).Port, nil)
	if err != nil {
		t.Fatalf("new endpoint b: %v", err)
	}
	defer b.Close()

	// Point a at b's actual ephemeral port now that it's known.
	a.remoteAddr.Port = b.conn.LocalAddr().(*net.UDPAddr).Port

	ctx := context.Background()
	if err := a.Send(ctx, &protocol.Frame{Data: []byte("ping")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case frame := <-b.Frames():
		if string(frame.Data) != "ping" {
			t.Fatalf("expected ping, got %q", frame.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("b never received datagram")
	}
}

func TestUDPEndpointRejectsOversizedFrame(t *testing.T) {
	a, err := NewUDPEndpoint(0, "127.0.0.1", 1, nil)
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}
	defer a.Close()

	big := make([]byte, maxDatagramBytes+1)
	if err := a.Send(context.Background(), &protocol.Frame{Data: big}); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}
