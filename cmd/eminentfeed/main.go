// Command eminentfeed is a sample driver for the messaging SDK: two
// instances, each bound to a UDP socket, handshake and exchange
// application messages over the full pipeline (session, codec, framing).
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -device, -peer-device, -local-port, -remote-host,
// -remote-port).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/handshake"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/protocol"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/sdk"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/transport"
	"github.com/KrystianKubicaHub/EminentFeedSystem/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	role := flag.String("role", "", "Role: host or client")
	device := flag.Int64("device", 0, "This instance's device id")
	peerDevice := flag.Int64("peer-device", 0, "Remote device id (client only)")
	localPort := flag.Int("local-port", 0, "UDP port to bind")
	remoteHost := flag.String("remote-host", "127.0.0.1", "Remote peer's host")
	remotePort := flag.Int("remote-port", 0, "Remote peer's UDP port")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := util.NewPtermLogger("eminentfeed")
	if *debugMode {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	}

	pterm.Info.Println(fmt.Sprintf("EminentFeedSystem — v%s", version))
	pterm.Println()

	if *role == "" {
		runInteractive(ctx, logger)
		return
	}

	if *device < 1 {
		logger.Error("missing or invalid -device (must be positive)")
		os.Exit(1)
	}
	if *localPort < 1 || *localPort > 65535 {
		logger.Error("invalid or missing -local-port (must be 1~65535)")
		os.Exit(1)
	}
	if *remotePort < 1 || *remotePort > 65535 {
		logger.Error("invalid or missing -remote-port (must be 1~65535)")
		os.Exit(1)
	}

	switch *role {
	case "host":
		runHost(ctx, logger, *device, *localPort, *remoteHost, *remotePort)
	case "client":
		if *peerDevice < 1 {
			logger.Error("missing -peer-device for client role")
			os.Exit(1)
		}
		runClient(ctx, logger, *device, *peerDevice, *localPort, *remoteHost, *remotePort)
	default:
		logger.Error("invalid -role: must be 'host' or 'client'")
		os.Exit(1)
	}

	logger.Info("shut down cleanly")
}

// runInteractive falls back to interactive prompts when no -role flag is given.
func runInteractive(ctx context.Context, logger util.Logger) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host — wait for an incoming connection", "Client — connect to a host"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	device := int64(askInt("This instance's device id (1~65535)"))
	localPort := askInt("Local UDP port to bind")
	remoteHost, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Remote host").WithDefaultValue("127.0.0.1").Show()
	remotePort := askInt("Remote UDP port")

	if strings.HasPrefix(role, "Host") {
		runHost(ctx, logger, device, localPort, strings.TrimSpace(remoteHost), remotePort)
		return
	}
	peerDevice := int64(askInt("Remote device id"))
	runClient(ctx, logger, device, peerDevice, localPort, strings.TrimSpace(remoteHost), remotePort)
}

func askInt(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(prompt).Show()
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && n > 0 {
			pterm.Println()
			return n
		}
		pterm.Warning.Println("please enter a positive integer")
	}
}

func newSDK(ctx context.Context, logger util.Logger, device int64, localPort int, remoteHost string, remotePort int) *sdk.SDK {
	endpoint, err := transport.NewUDPEndpoint(localPort, remoteHost, remotePort, logger)
	if err != nil {
		logger.Error("failed to bind udp endpoint: %v", err)
		os.Exit(1)
	}

	instance, err := sdk.New(ctx, device, endpoint, sdk.Options{
		Logger:             logger,
		OnIncomingDecision: func(remoteDeviceID int64, payload []byte) bool { return true },
		OnEstablished: func(connID, remoteID int64) {
			logger.Info("connection %d with device %d is now established", connID, remoteID)
		},
	})
	if err != nil {
		logger.Error("failed to initialize sdk: %v", err)
		os.Exit(1)
	}
	instance.StartStatsReporter(ctx, 5*time.Second)
	return instance
}

func printMessage(logger util.Logger, ev handshake.Event) {
	if ev.Kind != handshake.EventMessage {
		return
	}
	logger.Info("received from connection %d: %s", ev.ConnID, string(ev.Message.Payload))
}

// runHost binds a UDP endpoint and waits for an incoming handshake, then
// logs every received message and prints a connection summary every two
// seconds.
func runHost(ctx context.Context, logger util.Logger, device int64, localPort int, remoteHost string, remotePort int) {
	instance := newSDK(ctx, logger, device, localPort, remoteHost, remotePort)
	defer instance.Shutdown()

	logger.Info("device %d listening on udp/%d, expecting peer at %s:%d", device, localPort, remoteHost, remotePort)

	var activeConn int64

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Print(instance.DebugSummary("connections"))
			case <-ctx.Done():
				return
			}
		}
	}()

	// Poll for the first connection so we can attach an observer to it.
	for activeConn == 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
			stats := instance.AllStats()
			if len(stats) > 0 {
				activeConn = stats[0].ConnID
				_ = instance.SetOnMessageHandler(activeConn, func(ev handshake.Event) { printMessage(logger, ev) })
			}
		}
	}

	<-ctx.Done()
}

// runClient connects to a host device and forwards stdin lines as messages.
func runClient(ctx context.Context, logger util.Logger, device, peerDevice int64, localPort int, remoteHost string, remotePort int) {
	instance := newSDK(ctx, logger, device, localPort, remoteHost, remotePort)
	defer instance.Shutdown()

	connected := make(chan int64, 1)
	err := instance.Connect(peerDevice, 0, func(ev handshake.Event) {
		switch ev.Kind {
		case handshake.EventConnected:
			select {
			case connected <- ev.ConnID:
			default:
			}
		case handshake.EventMessage:
			printMessage(logger, ev)
		case handshake.EventDisconnected:
			logger.Warn("connection %d disconnected", ev.ConnID)
		}
	}, func(connID int64) {
		logger.Info("handshake acknowledged for connection %d", connID)
	}, func(err error) {
		logger.Error("handshake failed: %v", err)
	})
	if err != nil {
		logger.Error("connect failed: %v", err)
		os.Exit(1)
	}

	var connID int64
	select {
	case connID = <-connected:
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
		logger.Error("handshake with device %d timed out", peerDevice)
		return
	}
	logger.Info("connected, connection id = %d. type messages and press enter to send.", connID)

	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := instance.Send(connID, []byte(line), protocol.FormatJSON, 0, true, nil); err != nil {
				logger.Warn("send failed: %v", err)
			}
		}
	}()

	<-ctx.Done()
}
