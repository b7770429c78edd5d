package handshake

import (
	"sync"
	"testing"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
)

// wiredPair links two Managers directly, bypassing session/transport, so
// the handshake state machine can be exercised deterministically.
type wiredPair struct {
	a, b *Manager
}

func newWiredPair(t *testing.T) *wiredPair {
	t.Helper()
	p := &wiredPair{}

	var err error
	p.a, err = New(1, config.Default(), func(msg protocol.Message) { p.b.HandleMessage(msg) }, nil, nil, nil)
	if err != nil {
		t.Fatalf("New(a) failed: %v", err)
	}
	p.b, err = New(2, config.Default(), func(msg protocol.Message) { p.a.HandleMessage(msg) }, func(int64, []byte) bool { return true }, nil, nil)
	if err != nil {
		t.Fatalf("New(b) failed: %v", err)
	}
	return p
}

func TestHandshakeEstablishesMatchingConnectionID(t *testing.T) {
	p := newWiredPair(t)

	var mu sync.Mutex
	var aConnID, bConnID int64
	var aConnected, bConnected bool

	err := p.a.Connect(2, 0, func(ev Event) {
		if ev.Kind == EventConnected {
			mu.Lock()
			aConnID = ev.ConnID
			aConnected = true
			mu.Unlock()
		}
	}, nil, func(err error) { t.Fatalf("a.Connect failed: %v", err) })
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !aConnected {
		t.Fatal("initiator never observed EventConnected")
	}

	for _, info := range p.b.Connections() {
		bConnID = info.ID
		bConnected = true
	}
	if !bConnected {
		t.Fatal("acceptor has no connection entry")
	}
	if aConnID != bConnID {
		t.Fatalf("connection ids diverged: initiator=%d acceptor=%d", aConnID, bConnID)
	}
	if aConnID <= 0 {
		t.Fatalf("expected positive combined connection id, got %d", aConnID)
	}
}

func TestHandshakeRejectedByDecisionLeavesNoConnection(t *testing.T) {
	p := newWiredPair(t)
	p.b.onIncomingDecision = func(int64, []byte) bool { return false }

	called := false
	err := p.a.Connect(2, 0, nil, func(int64) { called = true }, func(error) {})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	if called {
		t.Fatal("onSuccess should not fire when the peer rejects the handshake")
	}
	if len(p.b.Connections()) != 0 {
		t.Fatalf("expected no connection on acceptor after rejection, got %d", len(p.b.Connections()))
	}
}

func TestDuplicateFinalConfirmationIsIdempotent(t *testing.T) {
	p := newWiredPair(t)

	establishedCount := 0
	p.b.onEstablished = func(int64, int64) { establishedCount++ }

	err := p.a.Connect(2, 0, nil, nil, func(error) {})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if establishedCount != 1 {
		t.Fatalf("expected exactly one onEstablished call, got %d", establishedCount)
	}

	var connID int64
	for _, info := range p.b.Connections() {
		connID = info.ID
	}

	// Replay to the acceptor the final confirmation the initiator already
	// sent once.
	p.b.handleFinalConfirmation(protocol.Message{
		ConnID:  connID,
		Format:  protocol.FormatHandshake,
		Payload: encodeFinalConfirmationPayload(1, 0),
	}, &wirePayload{})

	if establishedCount != 1 {
		t.Fatalf("duplicate final confirmation re-fired onEstablished, count=%d", establishedCount)
	}
}

func TestHandshakeRequestRejectedOnCombinedIDCollision(t *testing.T) {
	p := newWiredPair(t)

	var troubleEvent Event
	troubleFired := false

	// Pre-seed b's table with an entry sitting at the exact combined id the
	// incoming request would produce: connId 2 (a's first allocated prime)
	// combined with connId 2 (b's first allocated prime, independently
	// counted) is 4.
	p.b.connections[4] = &connectionEntry{id: 4, remoteID: 99, status: StatusActive, observer: func(ev Event) {
		troubleEvent = ev
		troubleFired = true
	}}

	err := p.a.Connect(2, 0, nil, nil, func(error) {})
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	if len(p.b.Connections()) != 1 {
		t.Fatalf("expected the pre-seeded entry to remain the only one, got %d", len(p.b.Connections()))
	}
	if !troubleFired {
		t.Fatal("expected the collided-with connection's observer to receive a trouble event")
	}
	if troubleEvent.Kind != EventTrouble || troubleEvent.ConnID != 4 {
		t.Fatalf("unexpected trouble event: %+v", troubleEvent)
	}
}

func TestHandshakeResponseRejectedOnCombinedIDCollisionFiresTroubleOnOwnPendingEntry(t *testing.T) {
	m, err := New(1, config.Default(), func(protocol.Message) {}, nil, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var troubleEvent Event
	troubleFired := false
	pending := &connectionEntry{id: 2, remoteID: 7, status: StatusPending, observer: func(ev Event) {
		troubleEvent = ev
		troubleFired = true
	}}
	m.connections[2] = pending
	m.connections[6] = &connectionEntry{id: 6, remoteID: 99, status: StatusActive}

	deviceID, specialCode, newID := int64(7), int64(123), int64(3)
	m.handleResponse(protocol.Message{ConnID: 2, Format: protocol.FormatHandshake}, &wirePayload{
		DeviceID:    &deviceID,
		SpecialCode: &specialCode,
		NewID:       &newID,
	})

	if !troubleFired {
		t.Fatal("expected the failing handshake's own pending entry to receive a trouble event")
	}
	if troubleEvent.Kind != EventTrouble || troubleEvent.ConnID != 2 {
		t.Fatalf("unexpected trouble event: %+v", troubleEvent)
	}
	if _, stillPending := m.connections[2]; stillPending {
		t.Fatal("pending entry should have been removed from the table under its old key")
	}
	if len(m.connections) != 1 {
		t.Fatalf("expected only the pre-existing entry to remain, got %d", len(m.connections))
	}
}

func TestIsPrime(t *testing.T) {
	primes := []int64{2, 3, 5, 7, 11, 13, 97, 7919}
	for _, p := range primes {
		if !isPrime(p) {
			t.Errorf("expected %d to be prime", p)
		}
	}
	composites := []int64{0, 1, 4, 6, 8, 9, 100, 121}
	for _, c := range composites {
		if isPrime(c) {
			t.Errorf("expected %d to not be prime", c)
		}
	}
}

func TestNextPrimeAllocatesAscendingPrimes(t *testing.T) {
	m, err := New(1, config.Default(), func(protocol.Message) {}, nil, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var seen []int64
	for i := 0; i < 5; i++ {
		id, err := m.nextPrimeLocked()
		if err != nil {
			t.Fatalf("nextPrimeLocked failed: %v", err)
		}
		if !isPrime(id) {
			t.Errorf("allocated non-prime connection id %d", id)
		}
		seen = append(seen, id)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("expected strictly ascending primes, got %v", seen)
		}
	}
}
