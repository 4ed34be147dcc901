// Command aqua-server captures the host's default audio output and fans
// it out over UDP to every client that has completed the QUIC
// control-plane handshake. Wiring follows a plain top-to-bottom
// style: parse flags, stand up each subsystem, install a signal-driven
// shutdown, then run until cancelled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"

	"github.com/aquawius/aqua-sub000/internal/audio"
	"github.com/aquawius/aqua-sub000/internal/control"
	"github.com/aquawius/aqua-sub000/internal/diag"
	"github.com/aquawius/aqua-sub000/internal/metrics"
	"github.com/aquawius/aqua-sub000/internal/netutil"
	"github.com/aquawius/aqua-sub000/internal/session"
	"github.com/aquawius/aqua-sub000/internal/transport"
	"github.com/aquawius/aqua-sub000/internal/wire"
)

// Version is the build version reported by --version. Set at build time
// via -ldflags.
var Version = "0.1.0-dev"

// DefaultPort is used for both the control-plane RPC listener and the
// media-plane UDP socket.
const DefaultPort = 10120

func main() {
	bind := flag.String("bind", "", "listen address (default: auto-detect private-range interface)")
	port := flag.Int("port", DefaultPort, "UDP and control-plane port")
	encodingName := flag.String("encoding", "s16le", "audio encoding: s16le, s32le, f32le, s24le, u8")
	channels := flag.Uint("channels", 2, "channel count (1-8)")
	rate := flag.Uint("rate", 48000, "sample rate in Hz (8000-384000)")
	device := flag.Int("device", -1, "portaudio capture device index (-1: default input/loopback device)")
	diagAddr := flag.String("diag-addr", ":9090", "diagnostics HTTP listen address (empty to disable)")
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

	encoding, err := wire.ParseEncoding(*encodingName)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	format := wire.NewFormat(encoding, uint32(*channels), uint32(*rate))
	if !format.Valid() {
		log.Fatalf("[server] invalid format: %s", format)
	}

	host := *bind
	if host == "" {
		host = netutil.DetectAddress("0.0.0.0")
	}
	log.Printf("[server] bind address: %s, format: %s", host, format)

	registry := session.NewRegistry()
	defer registry.Close()

	udpAddr := &net.UDPAddr{IP: net.ParseIP(host), Port: *port}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatalf("[server] listen udp %s: %v", udpAddr, err)
	}
	defer udpConn.Close()

	sender := transport.NewSender(udpConn, registry, format)
	producer := audio.NewProducer(sender, *device, format)

	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	if err := producer.Start(); err != nil {
		log.Fatalf("[server] start capture: %v", err)
	}
	defer producer.Stop()

	go sender.Run(ctx)
	go m.Run(ctx, registry, sender)

	ctrl := control.NewServer(registry, producer, host, *port)
	defer ctrl.Close()

	if *diagAddr != "" {
		diagServer := diag.NewServer(registry)
		diagServer.SetPeakSource(producer)
		go func() {
			if err := diagServer.Run(ctx, *diagAddr); err != nil {
				log.Printf("[diag] server error: %v", err)
			}
		}()
		log.Printf("[diag] listening on %s", *diagAddr)
	}

	if err := ctrl.ListenAndServe(ctx); err != nil {
		log.Fatalf("[server] control plane: %v", err)
	}
}

// configureLogVerbosity adjusts the standard logger's flags with each -V;
// the base level always logs, repeats add source location detail the way
// a plain debug/trace tier would.
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
