package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/transport"
)

// options holds the parsed command line. Peer settings given on the command
// line override those from the configuration file.
type options struct {
	configFile  string
	logLevel    slog.Level
	interactive bool
	genIdentity bool
	showVersion bool
	sans        []string

	overrides peer.Config
	set       map[string]bool
}

func parseFlags(args []string) (*options, error) {
	def := peer.DefaultConfig()
	o := &options{set: make(map[string]bool)}

	fs := flag.NewFlagSet("peerlink", flag.ContinueOnError)
	fs.StringVar(&o.configFile, "config", "", "YAML configuration file")
	role := fs.String("role", string(def.Role), "host or client")
	fs.StringVar(&o.overrides.PeerIP, "ip", def.PeerIP, "Host address for the client")
	fs.IntVar(&o.overrides.Port, "port", def.Port, "Listen and connect port")
	fs.StringVar(&o.overrides.CertFile, "cert", def.CertFile, "Certificate file")
	fs.StringVar(&o.overrides.KeyFile, "key", def.KeyFile, "Private key file")
	fs.StringVar(&o.overrides.CAFile, "ca", "", "Trusted roots for peer verification")
	fs.StringVar(&o.overrides.ServerName, "server-name", "", "Name to verify the host certificate against (default: -ip)")
	verify := fs.String("verify", def.Verify.String(), "enforce or accept-any")
	fs.StringVar(&o.overrides.Payload, "payload", def.Payload, "Message the client sends")
	fs.BoolVar(&o.overrides.Backoff, "backoff", false, "Grow the retry delay exponentially")
	fs.BoolVar(&o.overrides.Framed, "framed", false, "Use length-prefixed frames")
	fs.BoolVar(&o.overrides.Reaccept, "reaccept", false, "Host accepts again after each session")
	fs.StringVar(&o.overrides.ProtocolLog, "protocol-log", "", "File path for protocol event logging (CBOR format)")
	level := fs.String("log-level", "info", "debug, info, warn, error")
	fs.BoolVar(&o.interactive, "interactive", false, "Start the interactive console")
	fs.BoolVar(&o.genIdentity, "gen-identity", false, "Write a self-signed pair to -cert/-key and exit")
	san := fs.String("san", "", "Extra comma-separated names or addresses for -gen-identity")
	fs.BoolVar(&o.showVersion, "version", false, "Print the protocol version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	var err error
	if o.overrides.Role, err = peer.ParseRole(*role); err != nil {
		return nil, err
	}
	if o.overrides.Verify, err = transport.ParseVerifyPolicy(*verify); err != nil {
		return nil, err
	}
	if o.logLevel, err = parseLevel(*level); err != nil {
		return nil, err
	}
	for _, h := range strings.Split(*san, ",") {
		if h = strings.TrimSpace(h); h != "" {
			o.sans = append(o.sans, h)
		}
	}
	return o, nil
}

// config loads the configuration file, if any, and applies the flags that
// were given explicitly.
func (o *options) config() (peer.Config, error) {
	cfg := peer.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = peer.LoadConfig(o.configFile); err != nil {
			return peer.Config{}, err
		}
	}

	f := o.overrides
	apply := map[string]func(){
		"role":         func() { cfg.Role = f.Role },
		"ip":           func() { cfg.PeerIP = f.PeerIP },
		"port":         func() { cfg.Port = f.Port },
		"cert":         func() { cfg.CertFile = f.CertFile },
		"key":          func() { cfg.KeyFile = f.KeyFile },
		"ca":           func() { cfg.CAFile = f.CAFile },
		"server-name":  func() { cfg.ServerName = f.ServerName },
		"verify":       func() { cfg.Verify = f.Verify },
		"payload":      func() { cfg.Payload = f.Payload },
		"backoff":      func() { cfg.Backoff = f.Backoff },
		"framed":       func() { cfg.Framed = f.Framed },
		"reaccept":     func() { cfg.Reaccept = f.Reaccept },
		"protocol-log": func() { cfg.ProtocolLog = f.ProtocolLog },
	}
	for name, fn := range apply {
		if o.set[name] {
			fn()
		}
	}

	if err := cfg.Validate(); err != nil {
		return peer.Config{}, err
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func newLogger(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
