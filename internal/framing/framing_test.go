package framing

import (
	"bytes"
	"errors"
	"testing"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

func TestAppendVerifyRoundTrip(t *testing.T) {
	framer := New(config.Default())

	testCases := []struct {
		name string
		body []byte
	}{
		{"empty body", []byte{}},
		{"short body", []byte("hello")},
		{"binary body", []byte{0x00, 0xFF, 0x10, 0xAB, 0xCD}},
		{"16KB body", make([]byte, 16*1024)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			framed, err := framer.Append(&protocol.Frame{Data: tc.body})
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if len(framed.Data) != len(tc.body)+config.CRCFieldBytes {
				t.Fatalf("expected framed length %d, got %d", len(tc.body)+config.CRCFieldBytes, len(framed.Data))
			}

			recovered, err := framer.Verify(framed)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if !bytes.Equal(recovered.Data, tc.body) {
				t.Errorf("body mismatch after round trip: got %v, want %v", recovered.Data, tc.body)
			}
		})
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	framer := New(config.Default())
	framed, err := framer.Append(&protocol.Frame{Data: []byte("integrity matters")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	framed.Data[0] ^= 0xFF

	_, err = framer.Verify(framed)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestVerifyRejectsTooShort(t *testing.T) {
	framer := New(config.Default())
	_, err := framer.Verify(&protocol.Frame{Data: []byte{0x01, 0x02}})
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestAppendRejectsOversizedFrame(t *testing.T) {
	cfg := config.Default()
	framer := New(cfg)
	oversized := make([]byte, cfg.MaxFrameBytesWithoutCRC()+1)
	if _, err := framer.Append(&protocol.Frame{Data: oversized}); err == nil {
		t.Fatal("expected rejection of frame exceeding maxFrameBytesWithoutCrc")
	}
}

func TestKnownChecksumVector(t *testing.T) {
	framer := New(config.Default())
	framed, err := framer.Append(&protocol.Frame{Data: []byte("123456789")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// CRC-32/ISO-HDLC of the ASCII string "123456789" is the well-known
	// check value 0xCBF43926.
	trailer := framed.Data[len(framed.Data)-4:]
	got := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
	if got != 0xCBF43926 {
		t.Fatalf("expected known check value 0xCBF43926, got 0x%08X", got)
	}
}
