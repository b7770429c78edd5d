package handshake

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/util"
)

// connectionEntry is one row of the connection table.
type connectionEntry struct {
	id              int64
	remoteID        int64
	defaultPriority int
	specialCode     int64
	status          Status
	observer        Observer
}

// Manager owns the connection table and the prime-product handshake state
// machine. It never holds a reference to the SDK façade above it: outgoing
// handshake messages are handed to the outgoing sink injected at
// construction, and top-level lifecycle notifications go through
// onIncomingDecision/onEstablished, also injected.
type Manager struct {
	validation         *config.ValidationConfig
	deviceID           int64
	outgoing           func(protocol.Message)
	onIncomingDecision func(remoteDeviceID int64, payload []byte) bool
	onEstablished      func(connID, remoteID int64)
	logger             util.Logger

	mu               sync.Mutex
	nextConnectionID int64
	nextMessageID    int64
	connections      map[int64]*connectionEntry
}

// New builds a Manager for deviceID. onIncomingDecision gates inbound
// handshake requests (return true to accept); onEstablished fires once per
// accepted connection, when the initiator's final confirmation makes it
// ACTIVE. The initiating side's own transition to ACTIVE does not fire it.
func New(deviceID int64, validation *config.ValidationConfig, outgoing func(protocol.Message),
	onIncomingDecision func(remoteDeviceID int64, payload []byte) bool,
	onEstablished func(connID, remoteID int64), logger util.Logger) (*Manager, error) {
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return nil, fmt.Errorf("handshake: invalid device id: %w", err)
	}
	if logger == nil {
		logger = util.NopLogger{}
	}
	return &Manager{
		validation:         validation,
		deviceID:           deviceID,
		outgoing:           outgoing,
		onIncomingDecision: onIncomingDecision,
		onEstablished:      onEstablished,
		logger:             logger,
		nextConnectionID:   2,
		connections:        make(map[int64]*connectionEntry),
	}, nil
}

// Connect starts a handshake toward targetDeviceID. observer receives every
// subsequent event for the connection. onSuccess fires once, for this call
// only, when the peer acknowledges delivery of the handshake request;
// onFailure fires only when the request cannot be built or queued
// (validation or id allocation failure).
func (m *Manager) Connect(targetDeviceID int64, defaultPriority int, observer Observer,
	onSuccess func(connID int64), onFailure func(err error)) error {
	if err := m.validation.ValidateDeviceID(targetDeviceID); err != nil {
		if onFailure != nil {
			onFailure(err)
		}
		return err
	}
	if err := m.validation.ValidatePriority(defaultPriority); err != nil {
		if onFailure != nil {
			onFailure(err)
		}
		return err
	}

	m.mu.Lock()
	connID, err := m.nextPrimeLocked()
	if err != nil {
		m.mu.Unlock()
		if onFailure != nil {
			onFailure(err)
		}
		return err
	}
	specialCode, err := m.generateSpecialCodeLocked()
	if err != nil {
		m.mu.Unlock()
		if onFailure != nil {
			onFailure(err)
		}
		return err
	}

	entry := &connectionEntry{
		id:              connID,
		remoteID:        targetDeviceID,
		defaultPriority: defaultPriority,
		specialCode:     specialCode,
		status:          StatusPending,
		observer:        observer,
	}
	m.connections[connID] = entry

	msgID, err := m.nextMessageIDLocked()
	if err != nil {
		delete(m.connections, connID)
		m.mu.Unlock()
		if onFailure != nil {
			onFailure(err)
		}
		return err
	}
	m.mu.Unlock()

	msg := protocol.Message{
		ID:         msgID,
		ConnID:     connID,
		Payload:    encodeRequestPayload(m.deviceID, specialCode),
		Format:     protocol.FormatHandshake,
		Priority:   defaultPriority,
		RequireAck: true,
		OnDelivered: func() {
			if onSuccess != nil {
				onSuccess(connID)
			}
		},
	}
	m.logger.Info("initiating handshake to device %d, connectionId=%d", targetDeviceID, connID)
	m.outgoing(msg)
	return nil
}

// Close removes id from the table and fires its observer's Disconnected
// event, mirroring EminentSdk::close.
func (m *Manager) Close(id int64) {
	m.mu.Lock()
	entry, ok := m.connections[id]
	if ok {
		delete(m.connections, id)
	}
	m.mu.Unlock()

	if ok {
		m.logger.Info("connection %d closed", id)
		if entry.observer != nil {
			entry.observer(Event{Kind: EventDisconnected, ConnID: id, RemoteID: entry.remoteID})
		}
	}
}

// SetDefaultPriority updates a live connection's default outgoing priority.
func (m *Manager) SetDefaultPriority(id int64, priority int) error {
	if err := m.validation.ValidatePriority(priority); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.connections[id]
	if !ok {
		return fmt.Errorf("handshake: connection %d not found", id)
	}
	entry.defaultPriority = priority
	return nil
}

// SetObserver swaps a live connection's observer, e.g. to attach a handler
// lazily after Connect returns.
func (m *Manager) SetObserver(id int64, observer Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.connections[id]
	if !ok {
		return fmt.Errorf("handshake: connection %d not found", id)
	}
	entry.observer = observer
	return nil
}

// NotifyTrouble reports a non-fatal trouble condition on connID, surfaced
// by a layer below the handshake state machine (retransmission exhaustion,
// a reassembly mismatch). It is a no-op if the connection is unknown or has
// no observer attached.
func (m *Manager) NotifyTrouble(connID int64, reason string) {
	m.mu.Lock()
	entry, ok := m.connections[connID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("trouble reported for unknown connection %d: %s", connID, reason)
		return
	}
	observer, id, remoteID := entry.observer, entry.id, entry.remoteID
	m.mu.Unlock()

	if observer != nil {
		observer(Event{Kind: EventTrouble, ConnID: id, RemoteID: remoteID, Trouble: reason})
	}
}

// ConnectionInfo is a read-only snapshot of one connection table row, used
// by the façade's diagnostic dump and stats surface.
type ConnectionInfo struct {
	ID              int64
	RemoteID        int64
	DefaultPriority int
	SpecialCode     int64
	Status          Status
}

// Connections returns a snapshot of every row currently in the table.
func (m *Manager) Connections() []ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConnectionInfo, 0, len(m.connections))
	for _, entry := range m.connections {
		out = append(out, ConnectionInfo{
			ID:              entry.id,
			RemoteID:        entry.remoteID,
			DefaultPriority: entry.defaultPriority,
			SpecialCode:     entry.specialCode,
			Status:          entry.status,
		})
	}
	return out
}

// Connection looks up one row by id.
func (m *Manager) Connection(id int64) (ConnectionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.connections[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		ID: entry.id, RemoteID: entry.remoteID, DefaultPriority: entry.defaultPriority,
		SpecialCode: entry.specialCode, Status: entry.status,
	}, true
}

// NextMessageID allocates the next ascending application message id,
// independent of the session layer's package-id and ack-message-id
// counters.
func (m *Manager) NextMessageID() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextMessageIDLocked()
}

func (m *Manager) nextMessageIDLocked() (int64, error) {
	if err := m.validation.ValidateMessageID(m.nextMessageID + 1); err != nil {
		return 0, fmt.Errorf("handshake: unable to allocate message id: %w", err)
	}
	m.nextMessageID++
	return m.nextMessageID, nil
}

func (m *Manager) nextPrimeLocked() (int64, error) {
	candidate := m.nextConnectionID
	for {
		if err := m.validation.ValidateConnectionID(candidate); err != nil {
			return 0, fmt.Errorf("handshake: unable to allocate connection id: %w", err)
		}
		if isPrime(candidate) {
			m.nextConnectionID = candidate + 1
			return candidate, nil
		}
		if uint64(candidate) >= m.validation.MaxConnectionID() {
			return 0, fmt.Errorf("handshake: unable to allocate connection id: exhausted range")
		}
		candidate++
	}
}

func isPrime(n int64) bool {
	if n <= 1 {
		return false
	}
	for i := int64(2); i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

func (m *Manager) generateSpecialCodeLocked() (int64, error) {
	max := m.validation.MaxSpecialCode()
	bound := new(big.Int).SetUint64(max + 1)
	for {
		n, err := rand.Int(rand.Reader, bound)
		if err != nil {
			return 0, fmt.Errorf("handshake: failed to generate special code: %w", err)
		}
		candidate := n.Int64()
		if err := m.validation.ValidateSpecialCode(int(candidate)); err == nil {
			return candidate, nil
		}
	}
}

// combine multiplies two connection ids and validates the product fits the
// configured width, mirroring EminentSdk's overflow-checked prime product.
func (m *Manager) combine(a, b int64) (int64, error) {
	product := uint64(a) * uint64(b)
	if product == 0 || product > m.validation.MaxConnectionID() {
		return 0, fmt.Errorf("handshake: combined connection id %d out of range", product)
	}
	combined := int64(product)
	if err := m.validation.ValidateConnectionID(combined); err != nil {
		return 0, err
	}
	return combined, nil
}
