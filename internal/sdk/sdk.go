// Package sdk wires the connection handshake, session, codec, framing, and
// transport layers into one façade: construct, then Connect/Send/Close.
// Nothing in the layers below holds a reference back up to SDK — every
// layer receives its downward sink at construction and reports upward
// through callbacks or channels supplied by the caller.
package sdk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/config"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/framing"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/handshake"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/session"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/transport"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/util"
)

// Options configures an SDK instance beyond the required device id and
// transport endpoint.
type Options struct {
	Validation         *config.ValidationConfig
	Session            session.Config
	Logger             util.Logger
	OutgoingBufferSize int

	OnIncomingDecision func(remoteDeviceID int64, payload []byte) bool
	OnEstablished       func(connID, remoteID int64)
}

// SDK is a single device's endpoint on the network: one handshake table,
// one session layer, one codec/framing pair, and one transport.Endpoint.
type SDK struct {
	deviceID   int64
	validation *config.ValidationConfig
	codec      *protocol.Codec
	framer     *framing.Framer
	session    *session.Session
	manager    *handshake.Manager
	endpoint   transport.Endpoint
	logger     util.Logger
	stats      *util.Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds and starts an SDK for deviceID, bound to endpoint. The returned
// SDK is immediately able to originate and accept handshakes; call Shutdown
// to release its background goroutines.
func New(ctx context.Context, deviceID int64, endpoint transport.Endpoint, opts Options) (*SDK, error) {
	validation := opts.Validation
	if validation == nil {
		validation = config.Default()
	}
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return nil, fmt.Errorf("sdk: invalid device id: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NopLogger{}
	}
	sessionCfg := opts.Session
	if sessionCfg == (session.Config{}) {
		sessionCfg = session.DefaultConfig()
	}
	outgoingBuf := opts.OutgoingBufferSize
	if outgoingBuf <= 0 {
		outgoingBuf = 256
	}

	sdkCtx, cancel := context.WithCancel(ctx)
	outgoingPackages := make(chan *protocol.Package, outgoingBuf)

	s := &SDK{
		deviceID:   deviceID,
		validation: validation,
		codec:      protocol.NewCodec(validation),
		framer:     framing.New(validation),
		endpoint:   endpoint,
		logger:     logger,
		stats:      &util.Stats{},
		ctx:        sdkCtx,
		cancel:     cancel,
	}

	var manager *handshake.Manager
	onMessage := func(msg protocol.Message) {
		manager.HandleMessage(msg)
	}
	onTrouble := func(connID int64, reason string) {
		manager.NotifyTrouble(connID, reason)
	}
	sess, err := session.New(validation, sessionCfg, outgoingPackages, onMessage, onTrouble, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sdk: failed to build session: %w", err)
	}
	s.session = sess

	onEstablished := func(connID, remoteID int64) {
		s.stats.AddConn()
		if opts.OnEstablished != nil {
			opts.OnEstablished(connID, remoteID)
		}
	}
	manager, err = handshake.New(deviceID, validation, func(msg protocol.Message) {
		s.session.Enqueue(msg)
	}, opts.OnIncomingDecision, onEstablished, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sdk: failed to build handshake manager: %w", err)
	}
	s.manager = manager

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.session.Run(sdkCtx) }()
	go func() { defer s.wg.Done(); s.writeLoop(sdkCtx, outgoingPackages) }()
	go func() { defer s.wg.Done(); s.readLoop(sdkCtx) }()

	logger.Info("sdk initialized for device %d", deviceID)
	return s, nil
}

// writeLoop drains packages the session wants sent, encodes and frames
// them, and hands the result to the transport endpoint.
func (s *SDK) writeLoop(ctx context.Context, outgoing <-chan *protocol.Package) {
	for {
		select {
		case pkg, ok := <-outgoing:
			if !ok {
				return
			}
			frame, err := s.codec.Encode(pkg)
			if err != nil {
				s.logger.Warn("failed to encode package %d: %v", pkg.PackageID, err)
				continue
			}
			framed, err := s.framer.Append(frame)
			if err != nil {
				s.logger.Warn("failed to frame package %d: %v", pkg.PackageID, err)
				continue
			}
			if err := s.endpoint.Send(ctx, framed); err != nil {
				s.logger.Warn("failed to send package %d: %v", pkg.PackageID, err)
				continue
			}
			s.stats.AddSent(len(framed.Data))
		case <-ctx.Done():
			return
		}
	}
}

// readLoop decodes inbound frames and feeds packages to the session.
func (s *SDK) readLoop(ctx context.Context) {
	for {
		select {
		case frame, ok := <-s.endpoint.Frames():
			if !ok {
				return
			}
			s.stats.AddRecv(len(frame.Data))
			verified, err := s.framer.Verify(frame)
			if err != nil {
				s.logger.Warn("frame checksum rejected: %v", err)
				continue
			}
			pkg, err := s.codec.Decode(verified)
			if err != nil {
				s.logger.Warn("failed to decode package: %v", err)
				continue
			}
			s.session.ReceivePackage(pkg)
		case <-ctx.Done():
			return
		}
	}
}

// Connect starts a handshake toward targetDeviceID. observer receives every
// subsequent event for the connection once it exists.
func (s *SDK) Connect(targetDeviceID int64, defaultPriority int, observer handshake.Observer,
	onSuccess func(connID int64), onFailure func(err error)) error {
	return s.manager.Connect(targetDeviceID, defaultPriority, observer, onSuccess, onFailure)
}

// Send queues payload for delivery on an established connection. It returns
// an error immediately if the connection does not exist, is still pending,
// or priority fails validation; actual delivery is asynchronous.
func (s *SDK) Send(connID int64, payload []byte, format protocol.Format, priority int,
	requireAck bool, onDelivered func()) error {
	info, ok := s.manager.Connection(connID)
	if !ok {
		return fmt.Errorf("sdk: send failed: connection %d not found", connID)
	}
	if info.Status == handshake.StatusPending {
		return fmt.Errorf("sdk: send failed: connection %d is still pending", connID)
	}
	if err := s.validation.ValidatePriority(priority); err != nil {
		return fmt.Errorf("sdk: send failed: %w", err)
	}

	msgID, err := s.manager.NextMessageID()
	if err != nil {
		return fmt.Errorf("sdk: send failed: %w", err)
	}
	s.session.Enqueue(protocol.Message{
		ID:          msgID,
		ConnID:      connID,
		Payload:     payload,
		Format:      format,
		Priority:    priority,
		RequireAck:  requireAck,
		OnDelivered: onDelivered,
	})
	s.logger.Debug("queued message id=%d connection=%d", msgID, connID)
	return nil
}

// Close tears down one connection, firing its Disconnected event.
func (s *SDK) Close(connID int64) {
	s.manager.Close(connID)
	s.stats.RemoveConn()
}

// Shutdown stops every background goroutine and closes the transport
// endpoint. Call once, when the SDK instance itself is being torn down.
func (s *SDK) Shutdown() error {
	s.cancel()
	s.wg.Wait()
	return s.endpoint.Close()
}

// SetDefaultPriority updates a live connection's default outgoing priority.
func (s *SDK) SetDefaultPriority(connID int64, priority int) error {
	return s.manager.SetDefaultPriority(connID, priority)
}

// SetOnMessageHandler swaps a live connection's observer.
func (s *SDK) SetOnMessageHandler(connID int64, observer handshake.Observer) error {
	return s.manager.SetObserver(connID, observer)
}

// ConnectionStats is a per-connection identity and status snapshot. It holds
// no traffic counters; those are instance-wide, in util.Stats.Snapshot.
type ConnectionStats struct {
	ConnID   int64
	RemoteID int64
	Status   handshake.Status
}

// Stats returns a snapshot for one connection, or false if it doesn't exist.
func (s *SDK) Stats(connID int64) (ConnectionStats, bool) {
	info, ok := s.manager.Connection(connID)
	if !ok {
		return ConnectionStats{}, false
	}
	return ConnectionStats{ConnID: info.ID, RemoteID: info.RemoteID, Status: info.Status}, true
}

// AllStats returns a snapshot for every live connection.
func (s *SDK) AllStats() []ConnectionStats {
	infos := s.manager.Connections()
	out := make([]ConnectionStats, 0, len(infos))
	for _, info := range infos {
		out = append(out, ConnectionStats{ConnID: info.ID, RemoteID: info.RemoteID, Status: info.Status})
	}
	return out
}

// Throughput returns the cumulative traffic counters of this SDK instance.
func (s *SDK) Throughput() util.Snapshot {
	return s.stats.Snapshot()
}

// StartStatsReporter begins logging Throughput() every interval until ctx is
// cancelled or Shutdown is called.
func (s *SDK) StartStatsReporter(ctx context.Context, interval time.Duration) {
	reporterCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.ctx.Done():
		case <-reporterCtx.Done():
		}
		cancel()
	}()
	util.StartReporter(reporterCtx, s.stats, s.logger, interval)
}

// DebugSummary renders a human-readable dump of every connection's id,
// remote device, status, and special code, for interactive CLI use.
func (s *SDK) DebugSummary(title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s (device %d) ===\n", title, s.deviceID)
	infos := s.manager.Connections()
	if len(infos) == 0 {
		b.WriteString("  (no connections)\n")
		return b.String()
	}
	for _, info := range infos {
		fmt.Fprintf(&b, "  conn=%d remote=%d status=%s specialCode=%d priority=%d\n",
			info.ID, info.RemoteID, info.Status, info.SpecialCode, info.DefaultPriority)
	}
	return b.String()
}
