// Package session turns outgoing Messages into fragmented, retransmitted
// Packages and reassembles incoming Packages back into Messages. It is the
// layer between the SDK façade and the transport codec.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/util"
)

// Config holds the tunables that are not part of ValidationConfig's
// bit-width schema: fragmentation size and the retransmission schedule.
type Config struct {
	MaxPacketSize         int
	RetransmitInterval    time.Duration
	MaxRetransmitAttempts int
	WorkerSleepInterval   time.Duration
}

// DefaultConfig returns the defaults of record.
func DefaultConfig() Config {
	return Config{
		MaxPacketSize:         256,
		RetransmitInterval:    500 * time.Millisecond,
		MaxRetransmitAttempts: 5,
		WorkerSleepInterval:   20 * time.Millisecond,
	}
}

type pendingPackage struct {
	pkg      *protocol.Package
	lastSent time.Time
	attempts int
}

type pendingMessage struct {
	message  protocol.Message
	packages map[int64]*pendingPackage
}

// Session owns fragmentation, retransmission bookkeeping, and reassembly
// for the traffic of every connection, keyed by the ConnID each Message and
// Package carries. It never holds a reference to the
// component above it: outgoing packages are written to outgoing, and fully
// reassembled messages are handed to onMessage, both injected at
// construction.
type Session struct {
	validation *config.ValidationConfig
	cfg        Config
	outgoing   chan<- *protocol.Package
	onMessage  func(protocol.Message)
	onTrouble  func(connID int64, reason string)
	logger     util.Logger

	mu               sync.Mutex
	inbox            []protocol.Message
	nextPackageID    int64
	nextAckMessageID int64
	pendingMessages  map[int64]*pendingMessage
	packageToMessage map[int64]int64
	receivedPackages map[int64][]*protocol.Package
}

// New builds a Session. onMessage is invoked outside the internal lock once
// a message is fully reassembled, so it may itself call
// back into the session (e.g. to send a reply) without deadlocking.
// onTrouble is invoked the same way, for non-fatal delivery failures the
// session itself cannot resolve: retransmission exhaustion and reassembly
// mismatches. It may be nil.
func New(validation *config.ValidationConfig, cfg Config, outgoing chan<- *protocol.Package, onMessage func(protocol.Message), onTrouble func(connID int64, reason string), logger util.Logger) (*Session, error) {
	if cfg.MaxPacketSize <= 0 {
		return nil, fmt.Errorf("session: maxPacketSize must be positive, got %d", cfg.MaxPacketSize)
	}
	if validation.MaxFragmentsCount() == 0 {
		return nil, fmt.Errorf("session: fragmentsCount bit width must allow at least one fragment")
	}
	if logger == nil {
		logger = util.NopLogger{}
	}
	return &Session{
		validation:       validation,
		cfg:              cfg,
		outgoing:         outgoing,
		onMessage:        onMessage,
		onTrouble:        onTrouble,
		logger:           logger,
		nextPackageID:    1,
		nextAckMessageID: int64(validation.MaxMessageID()),
		pendingMessages:  make(map[int64]*pendingMessage),
		packageToMessage: make(map[int64]int64),
		receivedPackages: make(map[int64][]*protocol.Package),
	}, nil
}

// Enqueue submits an application message for fragmentation and sending. It
// is safe to call from any goroutine.
func (s *Session) Enqueue(msg protocol.Message) {
	s.mu.Lock()
	s.inbox = append(s.inbox, msg)
	s.mu.Unlock()
}

// Run drives fragmentation and retransmission until ctx is cancelled. It is
// meant to be started with `go session.Run(ctx)`.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WorkerSleepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Tick processes one round of queued messages and due retransmissions. Run
// calls this on a timer; tests call it directly to avoid sleeping.
func (s *Session) Tick() {
	s.tick()
}

func (s *Session) tick() {
	now := time.Now()
	s.mu.Lock()
	callbacks := s.processInboxLocked(now)
	callbacks = append(callbacks, s.retransmitPendingLocked(now)...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb()
		}
	}
}

func (s *Session) processInboxLocked(now time.Time) []func() {
	var callbacks []func()
	inbox := s.inbox
	s.inbox = nil

	for _, msg := range inbox {
		if err := s.validateMessage(msg); err != nil {
			s.logger.Warn("dropping message id=%d: %v", msg.ID, err)
			continue
		}

		total := (len(msg.Payload) + s.cfg.MaxPacketSize - 1) / s.cfg.MaxPacketSize
		if total <= 0 {
			total = 1
		}

		if !s.ensureFragmentsFit(total) {
			s.logger.Warn("dropping message id=%d: %d fragments exceed configured bit width", msg.ID, total)
			if msg.OnDelivered != nil {
				callbacks = append(callbacks, msg.OnDelivered)
			}
			continue
		}

		trackForAck := msg.RequireAck
		pending := &pendingMessage{message: msg, packages: make(map[int64]*pendingPackage)}

		aborted := false
		for frag := 0; frag < total; frag++ {
			start := frag * s.cfg.MaxPacketSize
			end := start + s.cfg.MaxPacketSize
			if end > len(msg.Payload) {
				end = len(msg.Payload)
			}

			pkg := &protocol.Package{
				PackageID:      0,
				MessageID:      msg.ID,
				ConnID:         msg.ConnID,
				FragmentID:     frag,
				FragmentsCount: total,
				Payload:        msg.Payload[start:end],
				Format:         msg.Format,
				Priority:       msg.Priority,
				RequireAck:     msg.RequireAck,
				Status:         protocol.StatusQueued,
			}

			id, err := s.allocatePackageID()
			if err != nil {
				s.logger.Warn("failed to allocate packageId for message id=%d: %v", msg.ID, err)
				trackForAck = false
				aborted = true
				break
			}
			pkg.PackageID = id

			if err := s.validatePackage(pkg); err != nil {
				s.logger.Warn("package validation failed: %v", err)
				trackForAck = false
				aborted = true
				break
			}

			info := &pendingPackage{pkg: pkg}
			s.sendPackageLocked(info, now)

			if trackForAck {
				pending.packages[pkg.PackageID] = info
				s.packageToMessage[pkg.PackageID] = msg.ID
			}
		}
		if aborted {
			for id := range pending.packages {
				delete(s.packageToMessage, id)
			}
			continue
		}

		if trackForAck && len(pending.packages) > 0 {
			s.pendingMessages[msg.ID] = pending
		} else if msg.OnDelivered != nil {
			callbacks = append(callbacks, msg.OnDelivered)
		}
	}
	return callbacks
}

func (s *Session) retransmitPendingLocked(now time.Time) []func() {
	var callbacks []func()
	for msgID, pending := range s.pendingMessages {
		exhausted := false
		for pkgID, info := range pending.packages {
			if now.Sub(info.lastSent) < s.cfg.RetransmitInterval {
				continue
			}
			if info.attempts >= s.cfg.MaxRetransmitAttempts {
				s.logger.Warn("dropping package %d after reaching max retransmits", pkgID)
				delete(s.packageToMessage, pkgID)
				delete(pending.packages, pkgID)
				exhausted = true
				continue
			}
			s.sendPackageLocked(info, now)
		}
		if len(pending.packages) == 0 {
			delete(s.pendingMessages, msgID)
			if exhausted && s.onTrouble != nil {
				connID := pending.message.ConnID
				reason := fmt.Sprintf("message %d exhausted retransmission attempts", msgID)
				callbacks = append(callbacks, func() { s.onTrouble(connID, reason) })
			}
		}
	}
	return callbacks
}

func (s *Session) sendPackageLocked(info *pendingPackage, now time.Time) {
	select {
	case s.outgoing <- info.pkg:
		info.lastSent = now
		info.attempts++
	default:
		s.logger.Warn("outgoing queue full, package %d will retry on next tick", info.pkg.PackageID)
	}
}

func (s *Session) allocatePackageID() (int64, error) {
	if uint64(s.nextPackageID) > s.validation.MaxPackageID() {
		return 0, fmt.Errorf("session: packageId overflow, exceeds configured bit width")
	}
	id := s.nextPackageID
	s.nextPackageID++
	if err := s.validation.ValidatePackageID(id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Session) allocateAckMessageID() (int64, error) {
	if s.nextAckMessageID <= 0 {
		return 0, fmt.Errorf("session: ack messageId underflow, exceeds configured bit width")
	}
	id := s.nextAckMessageID
	s.nextAckMessageID--
	if err := s.validation.ValidateMessageID(id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Session) ensureFragmentsFit(total int) bool {
	if total <= 0 {
		return false
	}
	if uint64(total) > s.validation.MaxFragmentsCount() {
		return false
	}
	if uint64(total-1) > s.validation.MaxFragmentID() {
		return false
	}
	return true
}

func (s *Session) validateMessage(msg protocol.Message) error {
	if err := s.validation.ValidateMessageID(msg.ID); err != nil {
		return err
	}
	if err := s.validation.ValidateConnectionID(msg.ConnID); err != nil {
		return err
	}
	return s.validation.ValidatePriority(msg.Priority)
}

func (s *Session) validatePackage(pkg *protocol.Package) error {
	if err := s.validation.ValidatePackageID(pkg.PackageID); err != nil {
		return err
	}
	if err := s.validation.ValidateMessageID(pkg.MessageID); err != nil {
		return err
	}
	if err := s.validation.ValidateConnectionID(pkg.ConnID); err != nil {
		return err
	}
	if err := s.validation.ValidateFragmentID(pkg.FragmentID); err != nil {
		return err
	}
	if err := s.validation.ValidateFragmentsCount(pkg.FragmentsCount); err != nil {
		return err
	}
	return s.validation.ValidatePriority(pkg.Priority)
}
