package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/util"
)

// STUN servers for ICE candidate gathering. No TURN — direct P2P connectivity
// only, matching a zero-infrastructure deployment.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: stunServers}}}
	return webrtc.NewPeerConnection(cfg)
}

// newDataChannel creates a pre-negotiated, unordered DataChannel so both
// sides can create it independently without relying on OnDataChannel.
// Unordered mode leaves fragment ordering to the session layer above.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	id := uint16(0)
	return pc.CreateDataChannel("frames", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}

const (
	highWaterMark  = 256 * 1024
	lowWaterMark   = 64 * 1024
	sendBufferSize = 64
)

// WebRTCEndpoint sends and receives frames over a single pre-negotiated
// DataChannel, with backpressure control on the outbound side.
type WebRTCEndpoint struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	logger util.Logger

	outbox      chan *protocol.Frame
	drainSignal chan struct{}
	inbox       chan *protocol.Frame
	openSignal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	state  webrtc.PeerConnectionState
}

// NewWebRTCEndpoint creates a PeerConnection with a pre-negotiated
// DataChannel. Signaling (offer/answer/ICE exchange) is the caller's
// responsibility via the exposed methods; until the channel opens, Send
// queues frames in a buffer of sendBufferSize and blocks once it is full.
func NewWebRTCEndpoint(ctx context.Context, logger util.Logger) (*WebRTCEndpoint, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, err
	}
	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if logger == nil {
		logger = util.NopLogger{}
	}

	eCtx, cancel := context.WithCancel(ctx)
	e := &WebRTCEndpoint{
		pc:          pc,
		dc:          dc,
		logger:      logger,
		outbox:      make(chan *protocol.Frame, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
		inbox:       make(chan *protocol.Frame, sendBufferSize),
		openSignal:  make(chan struct{}),
		ctx:         eCtx,
		cancel:      cancel,
		state:       webrtc.PeerConnectionStateNew,
	}

	var openOnce sync.Once
	dc.OnOpen(func() { openOnce.Do(func() { close(e.openSignal) }) })
	dc.OnClose(func() {
		e.logger.Info("webrtc data channel closed")
		cancel()
	})
	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case e.drainSignal <- struct{}{}:
		default:
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		frame := &protocol.Frame{Data: append([]byte(nil), msg.Data...)}
		select {
		case e.inbox <- frame:
		default:
			e.logger.Warn("webrtc inbox full, dropping frame of %d bytes", len(frame.Data))
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.mu.Lock()
		e.state = state
		e.mu.Unlock()
	})

	go e.sendLoop()

	return e, nil
}

func (e *WebRTCEndpoint) sendLoop() {
	select {
	case <-e.openSignal:
	case <-e.ctx.Done():
		return
	}
	for {
		select {
		case frame := <-e.outbox:
			if e.dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-e.drainSignal:
				case <-e.ctx.Done():
					return
				}
			}
			if err := e.dc.Send(frame.Data); err != nil {
				e.logger.Warn("webrtc send failed: %v", err)
				return
			}
		case <-e.ctx.Done():
			return
		}
	}
}

// Send enqueues frame for transmission once the channel is open.
func (e *WebRTCEndpoint) Send(ctx context.Context, frame *protocol.Frame) error {
	select {
	case e.outbox <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return errors.New("transport: webrtc endpoint closed")
	}
}

// Frames returns the channel of inbound frames. The channel is not closed
// when the endpoint is closed.
func (e *WebRTCEndpoint) Frames() <-chan *protocol.Frame {
	return e.inbox
}

// Ready is closed once the DataChannel is open.
func (e *WebRTCEndpoint) Ready() <-chan struct{} {
	return e.openSignal
}

// Close shuts down the DataChannel and PeerConnection.
func (e *WebRTCEndpoint) Close() error {
	e.cancel()
	return errors.Join(e.dc.Close(), e.pc.Close())
}

// ---------------------------------------------------------------------------
// Signaling surface, exposed for a caller-driven SDP/ICE exchange.
// ---------------------------------------------------------------------------

func (e *WebRTCEndpoint) CreateOffer() (webrtc.SessionDescription, error) { return e.pc.CreateOffer(nil) }
func (e *WebRTCEndpoint) CreateAnswer() (webrtc.SessionDescription, error) {
	return e.pc.CreateAnswer(nil)
}
func (e *WebRTCEndpoint) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return e.pc.SetLocalDescription(sdp)
}
func (e *WebRTCEndpoint) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return e.pc.SetRemoteDescription(sdp)
}
func (e *WebRTCEndpoint) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	e.pc.OnICECandidate(fn)
}
func (e *WebRTCEndpoint) AddICECandidate(c webrtc.ICECandidateInit) error {
	return e.pc.AddICECandidate(c)
}
