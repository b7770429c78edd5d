package handshake

import (
	"fmt"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

// HandleMessage routes one fully-reassembled message from the session
// layer. JSON and VIDEO formats are delivered straight to the addressed
// connection's observer; HANDSHAKE messages drive the state machine.
func (m *Manager) HandleMessage(msg protocol.Message) {
	switch msg.Format {
	case protocol.FormatJSON, protocol.FormatVideo:
		m.deliverMessage(msg)
	case protocol.FormatHandshake:
		m.handleHandshakeMessage(msg)
	default:
		m.logger.Warn("unknown message format %s for connection %d", msg.Format, msg.ConnID)
	}
}

func (m *Manager) deliverMessage(msg protocol.Message) {
	m.mu.Lock()
	entry, ok := m.connections[msg.ConnID]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("message for unknown connectionId=%d", msg.ConnID)
		return
	}
	if entry.observer == nil {
		m.logger.Warn("no observer registered for connection %d", entry.id)
		return
	}
	entry.observer(Event{Kind: EventMessage, ConnID: entry.id, RemoteID: entry.remoteID, Message: msg})
}

func (m *Manager) handleHandshakeMessage(msg protocol.Message) {
	payload, err := decodeHandshakePayload(msg.Payload)
	if err != nil {
		m.logger.Warn("failed to parse handshake payload: %v", err)
		return
	}

	switch {
	case payload.FinalConfirmation != nil && *payload.FinalConfirmation:
		m.handleFinalConfirmation(msg, payload)
	case payload.NewID != nil:
		m.handleResponse(msg, payload)
	default:
		m.handleRequest(msg, payload)
	}
}

// handleRequest processes an inbound handshake opening: the peer is
// proposing msg.ConnID as their half of the connection id product.
func (m *Manager) handleRequest(msg protocol.Message, payload *wirePayload) {
	if err := m.validation.ValidateConnectionID(msg.ConnID); err != nil {
		m.logger.Warn("handshake request rejected: %v", err)
		return
	}
	if payload.DeviceID == nil || payload.SpecialCode == nil {
		m.logger.Warn("handshake request missing required fields")
		return
	}
	if err := m.validation.ValidateDeviceID(*payload.DeviceID); err != nil {
		m.logger.Warn("handshake request rejected: %v", err)
		return
	}
	if err := m.validation.ValidateSpecialCode(int(*payload.SpecialCode)); err != nil {
		m.logger.Warn("handshake request rejected: %v", err)
		return
	}

	accepted := m.onIncomingDecision == nil || m.onIncomingDecision(*payload.DeviceID, msg.Payload)
	if !accepted {
		m.logger.Info("handshake connId=%d rejected by decision", msg.ConnID)
		return
	}

	m.mu.Lock()
	myConnID, err := m.nextPrimeLocked()
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("handshake combined connection id allocation failed: %v", err)
		return
	}
	combinedID, err := m.combine(msg.ConnID, myConnID)
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("handshake combined connection id invalid: %v", err)
		return
	}
	if existing, exists := m.connections[combinedID]; exists {
		observer, existingID, existingRemote := existing.observer, existing.id, existing.remoteID
		m.mu.Unlock()
		reason := fmt.Sprintf("combined connection id %d collides with an existing connection", combinedID)
		m.logger.Warn("handshake rejected: %s", reason)
		if observer != nil {
			observer(Event{Kind: EventTrouble, ConnID: existingID, RemoteID: existingRemote, Trouble: reason})
		}
		return
	}

	entry := &connectionEntry{
		id:          combinedID,
		remoteID:    *payload.DeviceID,
		specialCode: *payload.SpecialCode,
		status:      StatusAccepted,
	}
	m.connections[combinedID] = entry
	m.logger.Info("connection %d status set to ACCEPTED", combinedID)

	respID, err := m.nextMessageIDLocked()
	if err != nil {
		delete(m.connections, combinedID)
		m.mu.Unlock()
		m.logger.Warn("failed to queue handshake response: %v", err)
		return
	}
	m.mu.Unlock()

	resp := protocol.Message{
		ID:       respID,
		ConnID:   msg.ConnID,
		Payload:  encodeResponsePayload(m.deviceID, entry.specialCode, myConnID),
		Format:   protocol.FormatHandshake,
		Priority: 0,
	}
	m.outgoing(resp)
}

// handleResponse processes the peer's response to a request we initiated:
// it carries their half (newId) of the connection id product.
func (m *Manager) handleResponse(msg protocol.Message, payload *wirePayload) {
	if err := m.validation.ValidateConnectionID(msg.ConnID); err != nil {
		m.logger.Warn("handshake response invalid: %v", err)
		return
	}
	if payload.DeviceID == nil || payload.SpecialCode == nil {
		m.logger.Warn("handshake response missing required fields")
		return
	}
	if err := m.validation.ValidateDeviceID(*payload.DeviceID); err != nil {
		m.logger.Warn("handshake response invalid: %v", err)
		return
	}
	if err := m.validation.ValidateSpecialCode(int(*payload.SpecialCode)); err != nil {
		m.logger.Warn("handshake response invalid: %v", err)
		return
	}
	if err := m.validation.ValidateConnectionID(*payload.NewID); err != nil {
		m.logger.Warn("handshake response invalid: %v", err)
		return
	}

	m.mu.Lock()
	entry, ok := m.connections[msg.ConnID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("handshake response for unknown connectionId=%d", msg.ConnID)
		return
	}
	delete(m.connections, msg.ConnID)

	combinedID, err := m.combine(msg.ConnID, *payload.NewID)
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("handshake response combined connection id invalid: %v", err)
		return
	}
	if existing, exists := m.connections[combinedID]; exists && existing != entry {
		observer, entryID, entryRemote := entry.observer, entry.id, entry.remoteID
		m.mu.Unlock()
		reason := fmt.Sprintf("combined connection id %d collides with an existing connection", combinedID)
		m.logger.Warn("handshake rejected: %s", reason)
		if observer != nil {
			observer(Event{Kind: EventTrouble, ConnID: entryID, RemoteID: entryRemote, Trouble: reason})
		}
		return
	}

	entry.id = combinedID
	entry.remoteID = *payload.DeviceID
	entry.specialCode = *payload.SpecialCode
	entry.status = StatusActive
	m.connections[combinedID] = entry

	ackID, err := m.nextMessageIDLocked()
	if err != nil {
		delete(m.connections, combinedID)
		m.mu.Unlock()
		m.logger.Warn("failed to queue final handshake ack: %v", err)
		return
	}
	observer := entry.observer
	m.mu.Unlock()

	m.logger.Info("connection %d is now ACTIVE", combinedID)
	if observer != nil {
		observer(Event{Kind: EventConnected, ConnID: combinedID, RemoteID: entry.remoteID})
	}

	finalAck := protocol.Message{
		ID:       ackID,
		ConnID:   combinedID,
		Payload:  encodeFinalConfirmationPayload(m.deviceID, entry.specialCode),
		Format:   protocol.FormatHandshake,
		Priority: 0,
	}
	m.outgoing(finalAck)
}

// handleFinalConfirmation completes the handshake on the side that accepted
// the original request: it marks the connection ACTIVE and fires the
// established callback exactly once, idempotently on any duplicate
// confirmation that arrives afterward.
func (m *Manager) handleFinalConfirmation(msg protocol.Message, payload *wirePayload) {
	if err := m.validation.ValidateConnectionID(msg.ConnID); err != nil {
		m.logger.Warn("final confirmation invalid: %v", err)
		return
	}
	if payload.DeviceID != nil {
		if err := m.validation.ValidateDeviceID(*payload.DeviceID); err != nil {
			m.logger.Warn("final confirmation invalid: %v", err)
			return
		}
	}
	if payload.SpecialCode != nil {
		if err := m.validation.ValidateSpecialCode(int(*payload.SpecialCode)); err != nil {
			m.logger.Warn("final confirmation invalid: %v", err)
			return
		}
	}

	m.mu.Lock()
	entry, ok := m.connections[msg.ConnID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("final confirmation for unknown connectionId=%d", msg.ConnID)
		return
	}
	if payload.DeviceID != nil {
		entry.remoteID = *payload.DeviceID
	}
	if payload.SpecialCode != nil {
		entry.specialCode = *payload.SpecialCode
	}
	wasActive := entry.status == StatusActive
	entry.status = StatusActive
	observer := entry.observer
	connID, remoteID := entry.id, entry.remoteID
	m.mu.Unlock()

	if !wasActive {
		m.logger.Info("connection %d marked ACTIVE after final confirmation", connID)
		if m.onEstablished != nil {
			m.onEstablished(connID, remoteID)
		}
	}
	if observer != nil {
		observer(Event{Kind: EventConnected, ConnID: connID, RemoteID: remoteID})
	}
}
