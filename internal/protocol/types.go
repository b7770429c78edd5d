// Package protocol defines the message/package/frame value types shared by
// the session, handshake, and framing layers, plus the fixed-width binary
// codec that turns a Package into a Frame and back.
package protocol

// Format identifies the payload encoding carried by a Package or Message.
type Format uint8

const (
	FormatJSON Format = iota
	FormatVideo
	FormatHandshake
	FormatConfirmation
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatVideo:
		return "VIDEO"
	case FormatHandshake:
		return "HANDSHAKE"
	case FormatConfirmation:
		return "CONFIRMATION"
	default:
		return "UNKNOWN"
	}
}

// Status tracks a Package's lifecycle from the sender's point of view.
type Status uint8

const (
	StatusQueued Status = iota
	StatusSent
	StatusAcked
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusSent:
		return "SENT"
	case StatusAcked:
		return "ACKED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Message is an application-level payload submitted to a connection's
// outgoing queue. A message with more than one fragment's worth of payload
// is split into several Packages by the session layer.
type Message struct {
	ID          int64
	ConnID      int64
	Payload     []byte
	Format      Format
	Priority    int
	RequireAck  bool
	OnDelivered func()
}

// Package is one on-wire unit: either a whole Message or one fragment of it.
type Package struct {
	PackageID      int64
	MessageID      int64
	ConnID         int64
	FragmentID     int
	FragmentsCount int
	Payload        []byte
	Format         Format
	Priority       int
	RequireAck     bool
	Status         Status
}

// Frame is the fully encoded byte form of a Package, ready for the framing
// layer to append (or verify) its CRC-32 trailer.
type Frame struct {
	Data []byte
}
