package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/util"
)

type signalKind string

const (
	signalOffer     signalKind = "offer"
	signalAnswer    signalKind = "answer"
	signalCandidate signalKind = "candidate"
)

type signalMessage struct {
	Type      signalKind `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
}

// SignalingServer accepts exactly one WebSocket peer, used by the side that
// holds the handshake-initiating role during WebRTC signaling.
type SignalingServer struct {
	listener net.Listener
	connCh   chan *websocket.Conn
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// NewSignalingServer starts listening on a random local port.
func NewSignalingServer() (*SignalingServer, int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, fmt.Errorf("transport: failed to start signaling server: %w", err)
	}
	s := &SignalingServer{listener: listener, connCh: make(chan *websocket.Conn, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handle)
	go func() { _ = http.Serve(listener, mux) }()
	return s, listener.Addr().(*net.TCPAddr).Port, nil
}

func (s *SignalingServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// WaitForClient blocks until a peer connects or ctx is cancelled.
func (s *SignalingServer) WaitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections.
func (s *SignalingServer) Close() error {
	return s.listener.Close()
}

// DialSignaling connects to a peer's SignalingServer.
func DialSignaling(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to dial signaling server: %w", err)
	}
	return conn, nil
}

// EstablishHost performs the offering side of SDP/ICE exchange over ws and
// blocks until the DataChannel opens.
func EstablishHost(ctx context.Context, ws *websocket.Conn, e *WebRTCEndpoint, logger util.Logger) error {
	return exchange(ctx, ws, e, logger, true)
}

// EstablishClient performs the answering side of SDP/ICE exchange over ws
// and blocks until the DataChannel opens.
func EstablishClient(ctx context.Context, ws *websocket.Conn, e *WebRTCEndpoint, logger util.Logger) error {
	return exchange(ctx, ws, e, logger, false)
}

func exchange(ctx context.Context, ws *websocket.Conn, e *WebRTCEndpoint, logger util.Logger, isHost bool) error {
	if logger == nil {
		logger = util.NopLogger{}
	}
	var wsMu sync.Mutex
	send := func(msg signalMessage) {
		wsMu.Lock()
		defer wsMu.Unlock()
		if err := ws.WriteJSON(msg); err != nil {
			select {
			case <-e.Ready():
			default:
				logger.Warn("signaling write failed: %v", err)
			}
		}
	}

	e.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		send(signalMessage{Type: signalCandidate, Candidate: string(data)})
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			var msg signalMessage
			if err := ws.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			switch msg.Type {
			case signalOffer:
				if err := e.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
					logger.Warn("set remote offer failed: %v", err)
					continue
				}
				answer, err := e.CreateAnswer()
				if err != nil {
					logger.Warn("create answer failed: %v", err)
					continue
				}
				if err := e.SetLocalDescription(answer); err != nil {
					logger.Warn("set local answer failed: %v", err)
					continue
				}
				send(signalMessage{Type: signalAnswer, SDP: answer.SDP})
			case signalAnswer:
				if err := e.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
					logger.Warn("set remote answer failed: %v", err)
				}
			case signalCandidate:
				var init webrtc.ICECandidateInit
				if err := json.Unmarshal([]byte(msg.Candidate), &init); err == nil {
					if err := e.AddICECandidate(init); err != nil {
						logger.Warn("add ice candidate failed: %v", err)
					}
				}
			}
		}
	}()

	if isHost {
		offer, err := e.CreateOffer()
		if err != nil {
			return fmt.Errorf("transport: create offer failed: %w", err)
		}
		if err := e.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("transport: set local offer failed: %w", err)
		}
		send(signalMessage{Type: signalOffer, SDP: offer.SDP})
	}

	select {
	case <-e.Ready():
		ws.Close()
		return nil
	case err := <-errCh:
		select {
		case <-e.Ready():
			return nil
		default:
			return fmt.Errorf("transport: signaling read failed: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
