package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/util"
)

// UDPEndpoint sends and receives frames as individual UDP datagrams against
// one fixed remote peer. One datagram carries exactly one frame; a frame
// larger than the path MTU is the caller's problem, same as the original's
// bare sendto/recvfrom pair.
type UDPEndpoint struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	logger     util.Logger

	inbox chan *protocol.Frame

	closeOnce sync.Once
	closed    chan struct{}
}

// NewUDPEndpoint binds localPort and targets remoteHost:remotePort. It starts
// a background read loop immediately; call Close to stop it.
func NewUDPEndpoint(localPort int, remoteHost string, remotePort int, logger util.Logger) (*UDPEndpoint, error) {
	localAddr := &net.UDPAddr{Port: localPort}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to bind udp port %d: %w", localPort, err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", remoteHost, remotePort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: failed to resolve remote %s:%d: %w", remoteHost, remotePort, err)
	}

	if logger == nil {
		logger = util.NopLogger{}
	}

	e := &UDPEndpoint{
		conn:       conn,
		remoteAddr: remoteAddr,
		logger:     logger,
		inbox:      make(chan *protocol.Frame, 64),
		closed:     make(chan struct{}),
	}
	go e.readLoop()
	return e, nil
}

const maxDatagramBytes = 65507

func (e *UDPEndpoint) readLoop() {
	buf := make([]byte, maxDatagramBytes)
	for {
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.closed:
			default:
				e.logger.Warn("udp read failed: %v", err)
			}
			close(e.inbox)
			return
		}
		frame := &protocol.Frame{Data: append([]byte(nil), buf[:n]...)}
		select {
		case e.inbox <- frame:
		default:
			e.logger.Warn("udp inbox full, dropping frame of %d bytes", n)
		}
	}
}

// Send writes frame as a single datagram to the configured remote address.
func (e *UDPEndpoint) Send(ctx context.Context, frame *protocol.Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if len(frame.Data) > maxDatagramBytes {
		return fmt.Errorf("transport: frame of %d bytes exceeds datagram limit %d", len(frame.Data), maxDatagramBytes)
	}
	_, err := e.conn.WriteToUDP(frame.Data, e.remoteAddr)
	return err
}

// Frames returns the channel of frames received from the remote peer.
func (e *UDPEndpoint) Frames() <-chan *protocol.Frame {
	return e.inbox
}

// Close stops the read loop and releases the socket.
func (e *UDPEndpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		err = e.conn.Close()
	})
	return err
}
