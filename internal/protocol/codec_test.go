package protocol

import (
	"bytes"
	"testing"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := NewCodec(config.Default())

	testCases := []struct {
		name string
		pkg  *Package
	}{
		{
			name: "JSON package with small payload",
			pkg: &Package{
				PackageID:      1,
				MessageID:      1,
				ConnID:         1,
				FragmentID:     0,
				FragmentsCount: 1,
				Payload:        []byte("hello world"),
				Format:         FormatJSON,
				Priority:       2,
				RequireAck:     true,
			},
		},
		{
			name: "video fragment, no ack, empty payload",
			pkg: &Package{
				PackageID:      42,
				MessageID:      7,
				ConnID:         99,
				FragmentID:     0,
				FragmentsCount: 3,
				Payload:        []byte{},
				Format:         FormatVideo,
				Priority:       0,
				RequireAck:     false,
			},
		},
		{
			name: "handshake package, large priority-adjacent fields",
			pkg: &Package{
				PackageID:      1<<24 - 1,
				MessageID:      1<<24 - 1,
				ConnID:         1<<16 - 1,
				FragmentID:     254,
				FragmentsCount: 255,
				Payload:        []byte(`{"deviceId":5}`),
				Format:         FormatHandshake,
				Priority:       15,
				RequireAck:     true,
			},
		},
		{
			name: "confirmation package with 16KB payload",
			pkg: &Package{
				PackageID:      1000,
				MessageID:      1000,
				ConnID:         1,
				FragmentID:     0,
				FragmentsCount: 1,
				Payload:        make([]byte, 16*1024),
				Format:         FormatConfirmation,
				Priority:       1,
				RequireAck:     false,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := codec.Encode(tc.pkg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			decoded, err := codec.Decode(frame)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.PackageID != tc.pkg.PackageID {
				t.Errorf("PackageID mismatch: got %d, want %d", decoded.PackageID, tc.pkg.PackageID)
			}
			if decoded.MessageID != tc.pkg.MessageID {
				t.Errorf("MessageID mismatch: got %d, want %d", decoded.MessageID, tc.pkg.MessageID)
			}
			if decoded.ConnID != tc.pkg.ConnID {
				t.Errorf("ConnID mismatch: got %d, want %d", decoded.ConnID, tc.pkg.ConnID)
			}
			if decoded.FragmentID != tc.pkg.FragmentID || decoded.FragmentsCount != tc.pkg.FragmentsCount {
				t.Errorf("fragment mismatch: got %d/%d, want %d/%d",
					decoded.FragmentID, decoded.FragmentsCount, tc.pkg.FragmentID, tc.pkg.FragmentsCount)
			}
			if decoded.Format != tc.pkg.Format {
				t.Errorf("Format mismatch: got %s, want %s", decoded.Format, tc.pkg.Format)
			}
			if decoded.Priority != tc.pkg.Priority {
				t.Errorf("Priority mismatch: got %d, want %d", decoded.Priority, tc.pkg.Priority)
			}
			if decoded.RequireAck != tc.pkg.RequireAck {
				t.Errorf("RequireAck mismatch: got %v, want %v", decoded.RequireAck, tc.pkg.RequireAck)
			}
			if !bytes.Equal(decoded.Payload, tc.pkg.Payload) {
				t.Errorf("Payload mismatch: got %v bytes, want %v bytes", len(decoded.Payload), len(tc.pkg.Payload))
			}
		})
	}
}

func TestDecodeTooShort(t *testing.T) {
	codec := NewCodec(config.Default())

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"1 byte", []byte{0x01}},
		{"header minus one", make([]byte, codec.cfg.TransportHeaderBytes()-1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Decode(&Frame{Data: tc.data})
			if err == nil {
				t.Fatal("expected error for truncated frame, got nil")
			}
		})
	}
}

func TestEncodeRejectsInvalidFragmentID(t *testing.T) {
	codec := NewCodec(config.Default())
	pkg := &Package{
		PackageID:      1,
		MessageID:      1,
		ConnID:         1,
		FragmentID:     3,
		FragmentsCount: 3,
		Payload:        []byte("x"),
		Format:         FormatJSON,
	}
	if _, err := codec.Encode(pkg); err == nil {
		t.Fatal("expected rejection when fragmentId >= fragmentsCount")
	}
}

func TestEncodeRejectsOutOfWidthPriority(t *testing.T) {
	codec := NewCodec(config.Default())
	pkg := &Package{
		PackageID:      1,
		MessageID:      1,
		ConnID:         1,
		FragmentID:     0,
		FragmentsCount: 1,
		Payload:        []byte("x"),
		Format:         FormatJSON,
		Priority:       16, // 4-bit width caps at 15
	}
	if _, err := codec.Encode(pkg); err == nil {
		t.Fatal("expected rejection of priority exceeding 4-bit width")
	}
}

func TestDecodePreservesPayload(t *testing.T) {
	codec := NewCodec(config.Default())
	pkg := &Package{
		PackageID:      1,
		MessageID:      1,
		ConnID:         1,
		FragmentID:     0,
		FragmentsCount: 1,
		Payload:        []byte("original"),
		Format:         FormatJSON,
	}
	frame, err := codec.Encode(pkg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	header := codec.cfg.TransportHeaderBytes()
	frame.Data[header] = 0xFF

	if !bytes.Equal(decoded.Payload, []byte("original")) {
		t.Errorf("payload was incorrectly aliased: got %v", decoded.Payload)
	}
}

func TestEncodeExactHeaderSizeWithEmptyPayload(t *testing.T) {
	cfg := config.Default()
	codec := NewCodec(cfg)
	pkg := &Package{
		PackageID:      1,
		MessageID:      1,
		ConnID:         1,
		FragmentID:     0,
		FragmentsCount: 1,
		Payload:        nil,
		Format:         FormatJSON,
	}
	frame, err := codec.Encode(pkg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(frame.Data) != cfg.TransportHeaderBytes() {
		t.Fatalf("expected encoded size %d, got %d", cfg.TransportHeaderBytes(), len(frame.Data))
	}
}
