// Command aqua-client connects to an aqua-server control plane, opens a
// UDP media socket, and plays the received audio stream back through the
// host's default output device, adapting to server-initiated format
// changes without restarting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/aquawius/aqua-sub000/internal/audio"
	"github.com/aquawius/aqua-sub000/internal/control"
	"github.com/aquawius/aqua-sub000/internal/netutil"
	"github.com/aquawius/aqua-sub000/internal/playout"
	"github.com/aquawius/aqua-sub000/internal/transport"
	"github.com/aquawius/aqua-sub000/internal/wire"
)

// Version is the build version reported by --version. Set at build time
// via -ldflags.
var Version = "0.1.0-dev"

// DefaultServerPort matches aqua-server's DefaultPort.
const DefaultServerPort = 10120

// randomPortLow and randomPortHigh bound the ephemeral range the client
// draws a UDP listen port from when --client-port is left at 0.
const (
	randomPortLow  = 49152
	randomPortHigh = 65535
)

func main() {
	server := flag.String("server", "", "server address (required)")
	serverPort := flag.Int("server-port", DefaultServerPort, "server control-plane/UDP port")
	clientAddress := flag.String("client-address", "", "client address to advertise (default: auto-detect)")
	clientPort := flag.Int("client-port", 0, "UDP port to listen on (0: random ephemeral port)")
	device := flag.Int("device", -1, "portaudio playback device index (-1: default output device)")
	version := flag.Bool("version", false, "print version and exit")
	verbosity := 0
	flag.BoolFunc("V", "increase log verbosity (repeatable)", func(string) error {
		verbosity++
		return nil
	})
	flag.Parse()

	if *version {
		fmt.Println(Version)
		os.Exit(0)
	}
	configureLogVerbosity(verbosity)

	if *server == "" {
		log.Fatal("[client] --server is required")
	}

	addr := *clientAddress
	if addr == "" {
		addr = netutil.DetectAddress("127.0.0.1")
	}
	port := *clientPort
	if port == 0 {
		port = randomPortLow + rand.Intn(randomPortHigh-randomPortLow+1)
	}

	udpAddr := &net.UDPAddr{IP: net.ParseIP(addr), Port: port}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatalf("[client] listen udp %s: %v", udpAddr, err)
	}
	defer udpConn.Close()
	log.Printf("[client] media socket bound to %s", udpConn.LocalAddr())

	// Placeholder format until Connect returns the server's negotiated
	// format; the playout buffer and playback consumer are reconfigured
	// in place once the real format is known.
	initialFormat := wire.NewFormat(wire.EncodingS16LE, 2, 48000)
	buf := playout.New(initialFormat)
	consumer := audio.NewConsumer(buf, *device, initialFormat)
	receiver := transport.NewReceiver(udpConn, buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[client] shutting down...")
		cancel()
	}()

	onFormatChange := func(f wire.Format) {
		log.Printf("[client] server format changed: %s", f)
		if err := consumer.Reconfigure(f); err != nil {
			log.Printf("[client] reconfigure playback: %v", err)
		}
	}
	onShutdown := func(reason error) {
		log.Printf("[client] control-plane connection lost: %v", reason)
		cancel()
	}

	ctrl := control.NewClient(
		net.JoinHostPort(*server, strconv.Itoa(*serverPort)),
		addr, port,
		onFormatChange, onShutdown,
	)

	hello, err := ctrl.Connect(ctx)
	if err != nil {
		log.Fatalf("[client] connect: %v", err)
	}
	log.Printf("[client] connected: uuid=%s server_format=%s", hello.UUID, hello.Format)

	consumer.SetFormat(hello.Format)
	if err := consumer.Start(); err != nil {
		log.Fatalf("[client] start playback: %v", err)
	}
	defer consumer.Stop()

	go func() {
		if err := receiver.Run(ctx); err != nil {
			log.Printf("[client] receiver: %v", err)
		}
	}()

	ctrl.Run(ctx)
	ctrl.Disconnect(context.Background())
}

func configureLogVerbosity(level int) {
	flags := log.LstdFlags
	if level >= 1 {
		flags |= log.Lmicroseconds
	}
	if level >= 2 {
		flags |= log.Lshortfile
	}
	log.SetFlags(flags)
}
