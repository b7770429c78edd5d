package transport

import (
	"context"
	"testing"
	"time"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

func TestMediumDeliversToOtherParticipantsOnly(t *testing.T) {
	medium := NewMedium()
	a, err := medium.Join(1, 8)
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	b, err := medium.Join(2, 8)
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	if err := a.Send(ctx, &protocol.Frame{Data: []byte("hello")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case frame := <-b.Frames():
		if string(frame.Data) != "hello" {
			t.Fatalf("expected hello, got %q", frame.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("b never received frame")
	}

	select {
	case frame := <-a.Frames():
		t.Fatalf("sender should not receive its own frame, got %q", frame.Data)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMediumRejectsDuplicateJoin(t *testing.T) {
	medium := NewMedium()
	if _, err := medium.Join(1, 8); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := medium.Join(1, 8); err == nil {
		t.Fatal("expected error on duplicate join")
	}
}

func TestMediumClosesInboxOnLeave(t *testing.T) {
	medium := NewMedium()
	a, err := medium.Join(1, 8)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	a.Close()

	select {
	case _, ok := <-a.Frames():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("frames channel never closed")
	}
}

func TestMediumThreeWayBroadcast(t *testing.T) {
	medium := NewMedium()
	a, _ := medium.Join(1, 8)
	b, _ := medium.Join(2, 8)
	c, _ := medium.Join(3, 8)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	ctx := context.Background()
	if err := a.Send(ctx, &protocol.Frame{Data: []byte("x")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for name, ep := range map[string]*InMemoryEndpoint{"b": b, "c": c} {
		select {
		case frame := <-ep.Frames():
			if string(frame.Data) != "x" {
				t.Fatalf("%s got wrong payload %q", name, frame.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s never received broadcast frame", name)
		}
	}
}
