package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

// ackPayload is the strict JSON shape carried by a CONFIRMATION package.
// Unlike the token search this replaces, an unrecognized field or a missing
// ackPackageId is rejected outright rather than silently ignored.
type ackPayload struct {
	AckPackageID int64 `json:"ackPackageId"`
}

func encodeAckPayload(packageID int64) []byte {
	out, err := json.Marshal(ackPayload{AckPackageID: packageID})
	if err != nil {
		panic("session: ack payload marshal failed: " + err.Error())
	}
	return out
}

func decodeAckPayload(payload []byte) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var body ackPayload
	if err := dec.Decode(&body); err != nil {
		return 0, fmt.Errorf("session: malformed ack payload: %w", err)
	}
	if body.AckPackageID <= 0 {
		return 0, fmt.Errorf("session: ack payload has non-positive packageId %d", body.AckPackageID)
	}
	return body.AckPackageID, nil
}

// ReceivePackage routes an incoming decoded package: CONFIRMATION packages
// are treated as acknowledgements, everything else is buffered for
// reassembly. It is safe to call from the transport's read goroutine.
func (s *Session) ReceivePackage(pkg *protocol.Package) {
	if pkg.Format == protocol.FormatConfirmation {
		s.handleAckPackage(pkg)
		return
	}
	s.receiveDataPackage(pkg)
}

func (s *Session) handleAckPackage(pkg *protocol.Package) {
	if err := s.validatePackage(pkg); err != nil {
		s.logger.Warn("ignoring invalid ack package: %v", err)
		return
	}

	ackID, err := decodeAckPayload(pkg.Payload)
	if err != nil {
		s.logger.Warn("failed to parse ack payload: %v", err)
		return
	}

	var callback func()
	s.mu.Lock()
	msgID, ok := s.packageToMessage[ackID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("ack for unknown packageId=%d", ackID)
		return
	}
	delete(s.packageToMessage, ackID)

	pending, ok := s.pendingMessages[msgID]
	if ok {
		delete(pending.packages, ackID)
		if len(pending.packages) == 0 {
			callback = pending.message.OnDelivered
			delete(s.pendingMessages, msgID)
		}
	}
	s.mu.Unlock()

	if callback != nil {
		callback()
	}
}

func (s *Session) sendAckForPackageLocked(pkg *protocol.Package, now time.Time) {
	ackPriority := pkg.Priority + 1
	if uint64(ackPriority) > s.validation.MaxPriority() {
		ackPriority = int(s.validation.MaxPriority())
	}
	if err := s.validation.ValidatePriority(ackPriority); err != nil {
		s.logger.Warn("failed to build ack package: %v", err)
		return
	}

	packageID, err := s.allocatePackageID()
	if err != nil {
		s.logger.Warn("failed to allocate ack packageId: %v", err)
		return
	}
	messageID, err := s.allocateAckMessageID()
	if err != nil {
		s.logger.Warn("failed to allocate ack messageId: %v", err)
		return
	}

	ack := &protocol.Package{
		PackageID:      packageID,
		MessageID:      messageID,
		ConnID:         pkg.ConnID,
		FragmentID:     0,
		FragmentsCount: 1,
		Payload:        encodeAckPayload(pkg.PackageID),
		Format:         protocol.FormatConfirmation,
		Priority:       ackPriority,
		RequireAck:     false,
		Status:         protocol.StatusQueued,
	}
	if err := s.validatePackage(ack); err != nil {
		s.logger.Warn("built an invalid ack package: %v", err)
		return
	}

	select {
	case s.outgoing <- ack:
	default:
		s.logger.Warn("outgoing queue full, dropping ack for package %d", pkg.PackageID)
	}
}

func (s *Session) receiveDataPackage(pkg *protocol.Package) {
	var toDeliver protocol.Message
	shouldDeliver := false

	s.mu.Lock()
	if pkg.RequireAck {
		s.sendAckForPackageLocked(pkg, time.Now())
	}

	fragments := append(s.receivedPackages[pkg.MessageID], pkg)
	s.receivedPackages[pkg.MessageID] = fragments

	if len(fragments) < pkg.FragmentsCount {
		s.mu.Unlock()
		return
	}

	sort.Slice(fragments, func(i, j int) bool { return fragments[i].FragmentID < fragments[j].FragmentID })

	payload := make([]byte, 0, len(fragments)*s.cfg.MaxPacketSize)
	consistent := true
	mismatchIndex, mismatchFragmentID := -1, -1
	for i, frag := range fragments[:pkg.FragmentsCount] {
		if frag.FragmentID != i {
			s.logger.Warn("fragment index mismatch at i=%d, got %d", i, frag.FragmentID)
			consistent = false
			mismatchIndex, mismatchFragmentID = i, frag.FragmentID
			break
		}
		payload = append(payload, frag.Payload...)
	}

	var troubleConnID int64
	troubleReason := ""
	if consistent {
		delete(s.receivedPackages, pkg.MessageID)
		toDeliver = protocol.Message{
			ID:         pkg.MessageID,
			ConnID:     pkg.ConnID,
			Payload:    payload,
			Format:     pkg.Format,
			Priority:   pkg.Priority,
			RequireAck: pkg.RequireAck,
		}
		shouldDeliver = true
	} else {
		delete(s.receivedPackages, pkg.MessageID)
		troubleConnID = pkg.ConnID
		troubleReason = fmt.Sprintf("message %d: fragment index mismatch at position %d, got fragmentId %d", pkg.MessageID, mismatchIndex, mismatchFragmentID)
	}
	s.mu.Unlock()

	if shouldDeliver && s.onMessage != nil {
		s.onMessage(toDeliver)
	}
	if troubleReason != "" && s.onTrouble != nil {
		s.onTrouble(troubleConnID, troubleReason)
	}
}
