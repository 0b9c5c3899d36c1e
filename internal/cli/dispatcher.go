// Package cli translates user commands into chat operations and renders
// session events as terminal output.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"blechat/internal/chat"
)

// Session is the slice of the chat session the dispatcher drives.
type Session interface {
	Connect(ctx context.Context, addr, name string) error
	Disconnect() error
	Send(text string) error
	Status() chat.Status
}

// Scanner is the slice of the discovery engine the dispatcher drives.
type Scanner interface {
	Scan(ctx context.Context, window time.Duration) ([]chat.Peer, error)
	Lookup(addr string) (chat.Peer, bool)
}

// Dispatcher maps command lines to session calls. Anything that is not a
// command is sent to the connected peer as a message.
type Dispatcher struct {
	session    Session
	scanner    Scanner
	out        io.Writer
	scanWindow time.Duration
}

// New creates a dispatcher writing its output to out.
func New(session Session, scanner Scanner, out io.Writer, scanWindow time.Duration) *Dispatcher {
	if scanWindow <= 0 {
		scanWindow = 5 * time.Second
	}
	return &Dispatcher{
		session:    session,
		scanner:    scanner,
		out:        out,
		scanWindow: scanWindow,
	}
}

// Execute runs one line of user input. It returns false when the user asked
// to quit; the caller owns the actual teardown so that it also happens on
// signal-driven exits.
func (d *Dispatcher) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "scan":
		d.scan(ctx)
	case "connect":
		if len(fields) < 2 {
			fmt.Fprintln(d.out, "[-] Usage: connect <address>")
			return true
		}
		d.connect(ctx, fields[1])
	case "status":
		d.status()
	case "disconnect":
		if err := d.session.Disconnect(); err != nil {
			fmt.Fprintf(d.out, "[-] Disconnect failed: %v\n", err)
		}
	case "help":
		d.printHelp()
	case "quit":
		return false
	default:
		d.send(line)
	}
	return true
}

func (d *Dispatcher) scan(ctx context.Context) {
	fmt.Fprintf(d.out, "[*] Scanning for chat peers (%s)...\n", d.scanWindow)
	peers, err := d.scanner.Scan(ctx, d.scanWindow)
	switch {
	case errors.Is(err, chat.ErrScanBusy):
		fmt.Fprintln(d.out, "[-] A scan is already in progress")
		return
	case errors.Is(err, chat.ErrScanUnavailable):
		fmt.Fprintf(d.out, "[-] Scanning unavailable: %v\n", err)
		return
	case err != nil:
		fmt.Fprintf(d.out, "[-] Scan failed: %v\n", err)
		return
	}

	if len(peers) == 0 {
		fmt.Fprintln(d.out, "[*] No chat peers found.")
		return
	}
	fmt.Fprintf(d.out, "[*] Found %d chat peer(s):\n", len(peers))
	for i, p := range peers {
		name := p.Name
		if name == "" {
			name = "Unknown"
		}
		fmt.Fprintf(d.out, "  %d. %s (%s) rssi %d\n", i+1, name, p.Addr, p.RSSI)
	}
}

func (d *Dispatcher) connect(ctx context.Context, addr string) {
	name := ""
	if p, ok := d.scanner.Lookup(addr); ok {
		name = p.Name
	}
	fmt.Fprintf(d.out, "[*] Connecting to %s...\n", addr)
	err := d.session.Connect(ctx, addr, name)
	switch {
	case errors.Is(err, chat.ErrSessionBusy):
		fmt.Fprintln(d.out, "[!] Already connected. Disconnect first.")
	case err != nil:
		fmt.Fprintf(d.out, "[-] Connection failed: %v\n", err)
	}
	// Success is rendered by the PeerConnected event.
}

func (d *Dispatcher) status() {
	st := d.session.Status()
	switch st.State {
	case chat.StateConnected:
		peer := st.PeerName
		if peer == "" {
			peer = st.PeerAddr
		}
		fmt.Fprintf(d.out, "[+] Connected to %s (%s) as %s — sent %d, received %d\n",
			peer, st.PeerAddr, st.Role, st.Sent, st.Received)
	default:
		fmt.Fprintf(d.out, "[-] Not connected (state: %s)\n", st.State)
	}
}

func (d *Dispatcher) send(text string) {
	err := d.session.Send(text)
	switch {
	case errors.Is(err, chat.ErrNotConnected):
		fmt.Fprintln(d.out, "[-] Not connected to any peer")
	case errors.Is(err, chat.ErrMessageTooLong):
		fmt.Fprintf(d.out, "[-] Message too long: %v\n", err)
	case errors.Is(err, chat.ErrWriteFailed):
		fmt.Fprintf(d.out, "[-] Failed to send message: %v\n", err)
	case err != nil:
		fmt.Fprintf(d.out, "[-] Send failed: %v\n", err)
	default:
		fmt.Fprintf(d.out, "[You]: %s\n", text)
	}
}

func (d *Dispatcher) printHelp() {
	fmt.Fprint(d.out, `
Commands:
  scan                 Scan for nearby chat peers
  connect <address>    Connect to a peer by address
  status               Show connection status
  disconnect           Disconnect from the current peer
  help                 Show this help message
  quit                 Exit

Anything else is sent to the connected peer as a message.

`)
}

// RenderEvent prints one user-visible line for a session event.
func (d *Dispatcher) RenderEvent(ev chat.Event) {
	switch ev.Kind {
	case chat.EventMessage:
		fmt.Fprintf(d.out, "[%s]: %s\n", ev.Message.Sender, ev.Message.Text)
	case chat.EventPeerConnected:
		fmt.Fprintf(d.out, "[+] Connected to %s\n", ev.Peer)
	case chat.EventPeerDisconnected:
		fmt.Fprintln(d.out, "[*] Disconnected")
	case chat.EventLinkLost:
		fmt.Fprintf(d.out, "[!] Link to %s lost\n", ev.Peer)
	case chat.EventMalformedMessage:
		fmt.Fprintf(d.out, "[!] Discarded malformed message from %s\n", ev.Peer)
	}
}
