// Command blackhole-voyager is a headless reference client: it drives the
// transport client and session coordinator against a LAN or relay URL and
// prints session lifecycle events and decoded STDOUT to stdout. Useful for
// scripted end-to-end checks and manual smoke testing.
package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Icyoung/Blackhole/internal/logging"
	"github.com/Icyoung/Blackhole/internal/voyager/coordinator"
	"github.com/Icyoung/Blackhole/internal/voyager/transport"
	"github.com/Icyoung/Blackhole/internal/wire"
)

// localSize reads the attached terminal's cell grid so the reference
// client's initial resize matches the real window instead of a guess.
// Falls back to 80x24 when stdout isn't a terminal (piped output, CI).
func localSize() (cols, rows int) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80, 24
	}
	w, h, err := term.GetSize(fd)
	if err != nil {
		return 80, 24
	}
	return w, h
}

func main() {
	var (
		targetURL string
		relay     bool
		session   string
		token     string
		logLevel  string
	)

	root := &cobra.Command{
		Use:   "blackhole-voyager",
		Short: "Headless reference client for a Blackhole host or relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(targetURL, relay, session, token, logLevel)
		},
	}
	root.Flags().StringVar(&targetURL, "url", "ws://127.0.0.1:9527", "LAN or relay base URL")
	root.Flags().BoolVar(&relay, "relay", false, "connect in relay mode (appends role=voyager)")
	root.Flags().StringVar(&session, "session", "", "relay session id to join")
	root.Flags().StringVar(&token, "token", "", "relay/LAN admin bearer token")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(rawURL string, relayMode bool, session, token, logLevel string) error {
	log := logging.New(logLevel)

	base, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("blackhole-voyager: parse url: %w", err)
	}

	role := ""
	if relayMode {
		role = "voyager"
	}

	var coord *coordinator.Coordinator
	client := transport.New(base, role, session, token, log, func(f wire.Frame, _ bool) {
		switch f.Type {
		case wire.TypePong:
			// heartbeat reply; nothing to print
		case wire.TypeSessionCreated:
			fmt.Printf("session created: %s\n", f.SessionID)
		case wire.TypeSessionClosed:
			fmt.Printf("session closed: %s\n", f.SessionID)
		case wire.TypeError:
			fmt.Printf("error from host: %s: %s\n", f.Code, f.Message)
		}
		coord.HandleFrame(f)
	})

	newEmu := func(cols, rows int) (coordinator.Emulator, error) {
		return newPrintingEmulator(os.Stdout), nil
	}
	cols, rows := localSize()
	coord = coordinator.New(client, newEmu, cols, rows)

	client.Connect()
	defer client.Disconnect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		client.Disconnect()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		coord.SendKeystroke(scanner.Text() + "\n")
	}
	return nil
}

// printingEmulator is a minimal Emulator that writes decoded STDOUT
// straight to an io.Writer instead of maintaining screen state, since this
// client has no UI to render into.
type printingEmulator struct {
	out *os.File
}

func newPrintingEmulator(out *os.File) *printingEmulator {
	return &printingEmulator{out: out}
}

func (e *printingEmulator) Write(data []byte) { _, _ = e.out.Write(data) }
func (e *printingEmulator) Resize(cols, rows int) {}
