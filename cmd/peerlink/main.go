// Command peerlink opens an encrypted link between two peers.
//
// One peer runs as host and listens; the other runs as client, connects
// with retries and sends a payload once the link is secure.
//
// Usage:
//
//	peerlink [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-role string          host or client (default "host")
//	-ip string            Host address for the client (default "127.0.0.1")
//	-port int             Listen and connect port (default 12345)
//	-cert string          Certificate file (default "server.crt")
//	-key string           Private key file (default "server.key")
//	-ca string            Trusted roots for peer verification
//	-server-name string   Name to verify the host certificate against (default: -ip)
//	-verify string        enforce or accept-any (default "enforce")
//	-payload string       Message the client sends
//	-backoff              Grow the retry delay exponentially
//	-framed               Use length-prefixed frames
//	-reaccept             Host accepts again after each session
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-log-level string     debug, info, warn, error (default "info")
//	-interactive          Start the interactive console
//	-gen-identity         Write a self-signed pair to -cert/-key and exit
//	-san string           Extra comma-separated names or addresses for -gen-identity
//	-version              Print the protocol version and exit
//
// Examples:
//
//	# Create an identity shared by both peers. It names this host, its
//	# interface addresses and any -san values.
//	peerlink -gen-identity -san host.lan
//
//	# Host
//	peerlink -role host
//
//	# Client on another machine
//	peerlink -role client -ip 192.168.1.20
//
//	# Client reaching the host through an address the certificate lacks
//	peerlink -role client -ip 10.8.0.3 -server-name host.lan
//
//	# Console with protocol capture
//	peerlink -interactive -protocol-log peer.plog
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peerlink/peerlink-go/cmd/peerlink/interactive"
	"github.com/peerlink/peerlink-go/pkg/cert"
	"github.com/peerlink/peerlink-go/pkg/connection"
	plog "github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/transport"
	"github.com/peerlink/peerlink-go/pkg/version"
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(run(opts))
}

func run(opts *options) int {
	if opts.showVersion {
		fmt.Fprintf(os.Stdout, "peerlink protocol %s (ALPN %s)\n", version.Current, strings.Join(version.SupportedALPNProtocols(), ","))
		return 0
	}

	var console *interactive.Console
	out := io.Writer(os.Stderr)
	if opts.interactive {
		var err error
		if console, err = interactive.New(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer console.Close()
		out = console.Stderr()
	}

	logger := newLogger(opts.logLevel, out)
	slog.SetDefault(logger)

	cfg, err := opts.config()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}

	if opts.genIdentity {
		if err := generateIdentity(cfg, opts.sans); err != nil {
			logger.Error("identity generation failed", "error", err)
			return 1
		}
		logger.Info("identity written", "cert", cfg.CertFile, "key", cfg.KeyFile)
		return 0
	}

	if err := transport.Startup(); err != nil {
		logger.Error("crypto runtime unavailable", "error", err)
		return 1
	}
	defer transport.Shutdown()

	// The console plays both roles, so its events keep their own tags.
	traceRole := cfg.Role.LogRole()
	if opts.interactive {
		traceRole = plog.RoleUnknown
	}
	protocolLogger, closeLog, err := newProtocolLogger(cfg.ProtocolLog, traceRole, logger)
	if err != nil {
		logger.Error("failed to create protocol logger", "path", cfg.ProtocolLog, "error", err)
		return 1
	}
	defer closeLog()

	runner := peer.NewRunner(cfg, nil, logger, protocolLogger)
	defer runner.Close()

	// Identities are loaded up front so a missing or mismatched pair stops
	// the process before any socket is opened.
	roles := []peer.Role{cfg.Role}
	if opts.interactive {
		roles = []peer.Role{peer.RoleHost, peer.RoleClient}
	}
	for _, role := range roles {
		if err := runner.Prepare(role); err != nil {
			logger.Error("cannot offer secure connections", "role", role, "error", err)
			return 1
		}
	}

	if console != nil {
		// Ctrl-C is left to the console so it can abort a running sequence.
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer cancel()
		console.Run(ctx, cancel, runner)
		return 0
	}
	return runOnce(runner, cfg.Role, logger)
}

func runOnce(runner *peer.Runner, role peer.Role, logger *slog.Logger) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner.OnPayload(func(p []byte) {
		fmt.Fprintf(os.Stdout, "received: %s\n", p)
	})

	stop := runner.Board().Watch(ctx, func(s connection.Status) {
		logger.Info("status", "value", s.String())
	})
	defer stop()

	err := runner.Start(ctx, role)
	final := runner.Board().Get()
	if err != nil && ctx.Err() == nil {
		logger.Error("sequence failed", "role", role, "status", final.String(), "error", err)
		return 1
	}

	if role == peer.RoleClient && final.Kind == connection.StatusConnected {
		logger.Info("payload delivered; press Ctrl-C to disconnect")
		<-ctx.Done()
	}
	return 0
}

// generateIdentity writes a self-signed pair named after this host. The
// certificate covers loopback, every interface address and extra.
func generateIdentity(cfg peer.Config, extra []string) error {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "peerlink"
	}
	hosts := append([]string{"localhost", "127.0.0.1", "::1"}, interfaceAddrs()...)
	id, err := cert.GenerateSelfSignedFor(strings.ToLower(name), 0, append(hosts, extra...))
	if err != nil {
		return err
	}
	return cert.WriteIdentity(id, cfg.CertFile, cfg.KeyFile)
}

// interfaceAddrs lists the unicast addresses of the local interfaces.
func interfaceAddrs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || !ipnet.IP.IsGlobalUnicast() {
			continue
		}
		out = append(out, ipnet.IP.String())
	}
	return out
}

// newProtocolLogger sends protocol events to slog at debug level and, when
// path is set, to a CBOR trace whose untagged events get role.
func newProtocolLogger(path string, role plog.Role, logger *slog.Logger) (plog.Logger, func(), error) {
	adapter := plog.NewSlogAdapter(logger).WithLevel(slog.LevelDebug)
	if path == "" {
		return adapter, func() {}, nil
	}

	file, err := plog.NewFileLogger(path, plog.WithRole(role))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("protocol logging", "path", file.Path())

	closeFn := func() {
		if err := file.Err(); err != nil {
			logger.Warn("protocol log incomplete", "path", file.Path(), "events", file.Events(), "error", err)
		}
		if err := file.Close(); err != nil {
			logger.Warn("closing protocol log", "error", err)
		}
	}
	return plog.NewMultiLogger(file, adapter), closeFn, nil
}
