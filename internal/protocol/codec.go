package protocol

import (
	"fmt"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
)

// Codec encodes and decodes Packages into fixed-width Frames according to a
// ValidationConfig's bit widths. Field order on the wire: packageId,
// messageId, connId, fragmentId, fragmentsCount, format, priority,
// requireAck, payloadLength, payload.
type Codec struct {
	cfg *config.ValidationConfig
}

// NewCodec builds a Codec bound to cfg's field widths.
func NewCodec(cfg *config.ValidationConfig) *Codec {
	return &Codec{cfg: cfg}
}

// Encode serializes pkg into a Frame, validating every field against the
// codec's bit widths first.
func (c *Codec) Encode(pkg *Package) (*Frame, error) {
	if err := c.validate(pkg); err != nil {
		return nil, err
	}
	maxPayload := 1<<(config.PayloadLengthFieldBytes*8) - 1
	if len(pkg.Payload) > maxPayload {
		return nil, fmt.Errorf("protocol: payload of %d bytes exceeds maximum of %d", len(pkg.Payload), maxPayload)
	}

	size := c.cfg.TransportHeaderBytes() + len(pkg.Payload)
	buf := make([]byte, 0, size)
	buf = appendBytes(buf, uint64(pkg.PackageID), c.cfg.PackageIDBytes())
	buf = appendBytes(buf, uint64(pkg.MessageID), c.cfg.MessageIDBytes())
	buf = appendBytes(buf, uint64(pkg.ConnID), c.cfg.ConnectionIDBytes())
	buf = appendBytes(buf, uint64(pkg.FragmentID), c.cfg.FragmentIDBytes())
	buf = appendBytes(buf, uint64(pkg.FragmentsCount), c.cfg.FragmentsCountBytes())
	buf = appendBytes(buf, uint64(pkg.Format), config.FormatFieldBytes)
	buf = appendBytes(buf, uint64(pkg.Priority), c.cfg.PriorityBytes())
	buf = appendBytes(buf, boolToUint64(pkg.RequireAck), config.RequireAckFieldBytes)
	buf = appendBytes(buf, uint64(len(pkg.Payload)), config.PayloadLengthFieldBytes)
	buf = append(buf, pkg.Payload...)

	return &Frame{Data: buf}, nil
}

// Decode parses a Frame's Data back into a Package, rejecting anything
// truncated or out of range for the codec's bit widths.
func (c *Codec) Decode(frame *Frame) (*Package, error) {
	data := frame.Data
	offset := 0

	packageID, err := readBytes(data, &offset, c.cfg.PackageIDBytes())
	if err != nil {
		return nil, fmt.Errorf("protocol: packageId: %w", err)
	}
	messageID, err := readBytes(data, &offset, c.cfg.MessageIDBytes())
	if err != nil {
		return nil, fmt.Errorf("protocol: messageId: %w", err)
	}
	connID, err := readBytes(data, &offset, c.cfg.ConnectionIDBytes())
	if err != nil {
		return nil, fmt.Errorf("protocol: connId: %w", err)
	}
	fragmentID, err := readBytes(data, &offset, c.cfg.FragmentIDBytes())
	if err != nil {
		return nil, fmt.Errorf("protocol: fragmentId: %w", err)
	}
	fragmentsCount, err := readBytes(data, &offset, c.cfg.FragmentsCountBytes())
	if err != nil {
		return nil, fmt.Errorf("protocol: fragmentsCount: %w", err)
	}
	format, err := readBytes(data, &offset, config.FormatFieldBytes)
	if err != nil {
		return nil, fmt.Errorf("protocol: format: %w", err)
	}
	priority, err := readBytes(data, &offset, c.cfg.PriorityBytes())
	if err != nil {
		return nil, fmt.Errorf("protocol: priority: %w", err)
	}
	requireAck, err := readBytes(data, &offset, config.RequireAckFieldBytes)
	if err != nil {
		return nil, fmt.Errorf("protocol: requireAck: %w", err)
	}
	payloadLen, err := readBytes(data, &offset, config.PayloadLengthFieldBytes)
	if err != nil {
		return nil, fmt.Errorf("protocol: payloadLength: %w", err)
	}
	if offset+int(payloadLen) != len(data) {
		return nil, fmt.Errorf("protocol: frame size mismatch: header declares %d payload bytes, %d bytes remain", payloadLen, len(data)-offset)
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[offset:offset+int(payloadLen)])

	pkg := &Package{
		PackageID:      int64(packageID),
		MessageID:      int64(messageID),
		ConnID:         int64(connID),
		FragmentID:     int(fragmentID),
		FragmentsCount: int(fragmentsCount),
		Payload:        payload,
		Format:         Format(format),
		Priority:       int(priority),
		RequireAck:     requireAck != 0,
		Status:         StatusQueued,
	}
	if err := c.validate(pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func (c *Codec) validate(pkg *Package) error {
	if err := c.cfg.ValidatePackageID(pkg.PackageID); err != nil {
		return err
	}
	if err := c.cfg.ValidateMessageID(pkg.MessageID); err != nil {
		return err
	}
	if err := c.cfg.ValidateConnectionID(pkg.ConnID); err != nil {
		return err
	}
	if err := c.cfg.ValidateFragmentID(pkg.FragmentID); err != nil {
		return err
	}
	if err := c.cfg.ValidateFragmentsCount(pkg.FragmentsCount); err != nil {
		return err
	}
	if err := c.cfg.ValidatePriority(pkg.Priority); err != nil {
		return err
	}
	if pkg.FragmentID >= pkg.FragmentsCount {
		return fmt.Errorf("protocol: fragmentId %d out of range for fragmentsCount %d", pkg.FragmentID, pkg.FragmentsCount)
	}
	return nil
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func appendBytes(buf []byte, value uint64, byteCount int) []byte {
	for i := byteCount - 1; i >= 0; i-- {
		buf = append(buf, byte(value>>(uint(i)*8)))
	}
	return buf
}

func readBytes(data []byte, offset *int, byteCount int) (uint64, error) {
	if *offset+byteCount > len(data) {
		return 0, fmt.Errorf("frame truncated: need %d bytes at offset %d, have %d total", byteCount, *offset, len(data))
	}
	var value uint64
	for i := 0; i < byteCount; i++ {
		value = (value << 8) | uint64(data[*offset])
		*offset++
	}
	return value, nil
}
