// Package interactive provides the interactive console for peerlink.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/chzyer/readline"

	"github.com/peerlink/peerlink-go/pkg/connection"
	"github.com/peerlink/peerlink-go/pkg/peer"
)

// Console reads commands and drives a peer.Runner. Host and connect block
// the prompt until their sequence finishes; Ctrl-C aborts a running sequence.
type Console struct {
	rl     *readline.Instance
	out    io.Writer
	errOut io.Writer
	runner *peer.Runner

	// interrupt derives the context a sequence runs under.
	interrupt func(ctx context.Context) (context.Context, context.CancelFunc)
}

// New creates a console on the terminal.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "peerlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(rl.Stdout(), nil)
	c.rl = rl
	c.errOut = rl.Stderr()
	return c, nil
}

func newConsole(out io.Writer, runner *peer.Runner) *Console {
	return &Console{
		out:    out,
		errOut: out,
		runner: runner,
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Stderr returns a writer that coordinates with the prompt.
// Use this for log output.
func (c *Console) Stderr() io.Writer {
	return c.errOut
}

// Close releases the terminal.
func (c *Console) Close() error {
	if c.rl == nil {
		return nil
	}
	return c.rl.Close()
}

// Run starts the command loop. It returns on quit, end of input or when ctx
// ends, and calls cancel in the first two cases.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, runner *peer.Runner) {
	c.runner = runner
	runner.OnPayload(func(p []byte) {
		fmt.Fprintf(c.out, "received %d bytes: %s\n", len(p), p)
	})

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if quit := c.execute(ctx, line); quit {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// execute runs one command line and reports whether the console should exit.
func (c *Console) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "host", "listen":
		c.cmdSequence(ctx, peer.RoleHost)

	case "connect", "c":
		c.cmdSequence(ctx, peer.RoleClient)

	case "ip":
		c.cmdIP(args)

	case "status", "s":
		c.cmdStatus()

	case "disconnect":
		c.cmdDisconnect()

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
peerlink Commands:
  Link:
    host               - Listen for a client (Ctrl-C to stop)
    connect            - Connect to the host and send the payload
    disconnect         - Close the client session
    ip <address>       - Set the host address used by connect

  General:
    status             - Show connection status
    help               - Show this help
    quit               - Exit`)
}

func (c *Console) cmdSequence(ctx context.Context, role peer.Role) {
	seqCtx, stop := c.interrupt(ctx)
	defer stop()

	stopWatch := c.runner.Board().Watch(seqCtx, func(s connection.Status) {
		fmt.Fprintf(c.out, "  status: %s\n", s)
	})
	err := c.runner.Start(seqCtx, role)
	stopWatch()

	switch {
	case errors.Is(err, peer.ErrSequenceActive):
		fmt.Fprintln(c.out, "A connection sequence is already running")
	case err != nil && seqCtx.Err() != nil:
		fmt.Fprintln(c.out, "Stopped")
	case err != nil:
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	fmt.Fprintf(c.out, "Status: %s\n", c.runner.Board().Get())
}

func (c *Console) cmdIP(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: ip <address>")
		return
	}
	addr := args[0]
	if net.ParseIP(addr) == nil && !validHostname(addr) {
		fmt.Fprintf(c.out, "Invalid address: %s\n", addr)
		return
	}
	c.runner.SetPeerIP(addr)
	fmt.Fprintf(c.out, "Host address set to %s\n", addr)
}

func (c *Console) cmdStatus() {
	cfg := c.runner.Config()
	fmt.Fprintln(c.out, "\nConnection Status")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  Status:         %s\n", c.runner.Board().Get())
	fmt.Fprintf(c.out, "  Listen Port:    %d\n", cfg.Port)
	fmt.Fprintf(c.out, "  Host Address:   %s\n", cfg.PeerAddress())
	fmt.Fprintf(c.out, "  Verification:   %s\n", cfg.Verify)
	fmt.Fprintf(c.out, "  Framing:        %t\n", cfg.Framed)
	fmt.Fprintln(c.out)
}

func (c *Console) cmdDisconnect() {
	if err := c.runner.Close(); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Status: %s\n", c.runner.Board().Get())
}

func validHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}
