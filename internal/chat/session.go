// Package chat implements the dual-role chat core: peer discovery, the
// single-session state machine, and message exchange over the framed BLE
// transport.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"blechat/internal/ble"
	"blechat/internal/ble/protocol"
)

// AdvertisePrefix is prepended to the display name in advertisements so
// peers can be told apart from unrelated devices by name as well as by
// service UUID.
const AdvertisePrefix = "BitChat-"

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role records which side initiated the active session.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleAcceptor
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleAcceptor:
		return "acceptor"
	default:
		return "none"
	}
}

// EventKind discriminates session events delivered to the dispatcher.
type EventKind int

const (
	EventMessage EventKind = iota
	EventPeerConnected
	EventPeerDisconnected
	EventLinkLost
	EventMalformedMessage
)

// Event is a user-visible occurrence rendered by the dispatcher.
type Event struct {
	Kind    EventKind
	Message Message // set for EventMessage
	Peer    string  // peer display name or address
	Detail  string  // one-line notice detail
}

// Status is a pure read of the session, with no side effects.
type Status struct {
	State    State
	Role     Role
	PeerAddr string
	PeerName string
	Sent     int
	Received int
}

// Options configures the session.
type Options struct {
	LocalName       string        // display name advertised to peers
	ServiceUUID     string        // chat service identifier
	MTU             int           // fallback frame size when the link reports none
	MaxMessageBytes int           // reassembly and send cap
	ConnectTimeout  time.Duration // outbound dial deadline
	InterFrameDelay time.Duration // pause between frame writes
	EventBuffer     int           // pending events before drops
}

// DefaultOptions returns sensible defaults for the given display name.
func DefaultOptions(localName string) Options {
	return Options{
		LocalName:       localName,
		ServiceUUID:     ble.ServiceUUID,
		MTU:             protocol.DefaultMTU,
		MaxMessageBytes: protocol.DefaultMaxMessageBytes,
		ConnectTimeout:  10 * time.Second,
		InterFrameDelay: 5 * time.Millisecond,
		EventBuffer:     16,
	}
}

// Session owns the single allowed connection and arbitrates between the
// initiator and acceptor roles. All state lives in the run loop goroutine;
// public methods and adapter callbacks post onto the loop, so transition
// handlers never race (a LinkLost and a user disconnect cannot both tear
// down the link).
type Session struct {
	adapter ble.Adapter
	opts    Options

	cmds      chan func()
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned state. Only the run goroutine touches these.
	state    State
	role     Role
	peerAddr string
	peerName string
	conn     ble.Connection
	tx       ble.Characteristic
	asm      *protocol.Assembler
	gen      int // connection generation; stale callbacks carry an old one
	sent     int
	received int
}

// New creates a session. Zero-valued Options fields fall back to defaults.
func New(adapter ble.Adapter, opts Options) *Session {
	def := DefaultOptions(opts.LocalName)
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.MTU <= protocol.HeaderSize {
		opts.MTU = def.MTU
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = def.MaxMessageBytes
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	return &Session{
		adapter: adapter,
		opts:    opts,
		cmds:    make(chan func()),
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
		asm:     protocol.NewAssembler(opts.MaxMessageBytes),
	}
}

// Start powers on the adapter, begins advertising, and launches the event
// loop. An adapter that cannot even enable is fatal; a failure to advertise
// only disables inbound connections.
func (s *Session) Start() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("chat: enable adapter: %w", err)
	}

	s.adapter.OnInboundConnect(func(conn ble.Connection) {
		if !s.post(func() { s.handleInbound(conn) }) {
			conn.Disconnect()
		}
	})

	go s.run()

	advName := AdvertisePrefix + s.opts.LocalName
	if err := s.adapter.Advertise(s.opts.ServiceUUID, advName); err != nil {
		slog.Warn("[session] advertising unavailable, peers cannot discover us", "error", err)
	} else {
		slog.Info("[session] advertising", "name", advName)
	}
	return nil
}

// Events delivers messages and link notices for display.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Connect dials the peer at addr. Valid only while idle; any other state
// returns ErrSessionBusy. name is the peer's advertised display name, if
// known from a scan.
func (s *Session) Connect(ctx context.Context, addr, name string) error {
	errc := make(chan error, 1)
	if !s.post(func() { s.startConnect(ctx, addr, name, errc) }) {
		return ErrClosed
	}
	return <-errc
}

// Disconnect tears down the current session. Idempotent: disconnecting
// while idle is a no-op.
func (s *Session) Disconnect() error {
	return s.call(s.disconnect)
}

// Send frames text and writes it to the peer, one frame at a time, each
// write completing before the next.
func (s *Session) Send(text string) error {
	return s.call(func() error { return s.send(text) })
}

// Status reports the current state, role, and peer identity.
func (s *Session) Status() Status {
	ch := make(chan Status, 1)
	if !s.post(func() { ch <- s.snapshot() }) {
		return Status{}
	}
	return <-ch
}

// Close disconnects, stops advertising, and shuts down the event loop.
// Safe to call more than once and on every exit path.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.call(s.disconnect)
		if err := s.adapter.StopAdvertise(); err != nil {
			slog.Warn("[session] stop advertising", "error", err)
		}
		close(s.done)
	})
	return nil
}

// post schedules fn on the run loop. Returns false once closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(fn func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	return <-errc
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-s.done:
			return
		}
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("[session] event buffer full, dropping event", "kind", ev.Kind)
	}
}

func (s *Session) snapshot() Status {
	return Status{
		State:    s.state,
		Role:     s.role,
		PeerAddr: s.peerAddr,
		PeerName: s.peerName,
		Sent:     s.sent,
		Received: s.received,
	}
}

func (s *Session) peerLabel() string {
	if s.peerName != "" {
		return s.peerName
	}
	if s.peerAddr != "" {
		return s.peerAddr
	}
	return "peer"
}

func (s *Session) startConnect(ctx context.Context, addr, name string, errc chan<- error) {
	if s.state != StateIdle {
		errc <- ErrSessionBusy
		return
	}
	s.state = StateConnecting
	s.role = RoleInitiator
	s.peerAddr = addr
	s.peerName = name
	s.gen++

	slog.Info("[session] connecting", "addr", addr)
	go s.dial(ctx, s.gen, addr, errc)
}

// dial runs off the loop: establishing a link and discovering its
// characteristics are slow transport operations. The result is posted back
// with the generation it belongs to.
func (s *Session) dial(ctx context.Context, gen int, addr string, errc chan<- error) {
	conn, tx, err := s.establish(ctx, gen, addr)
	if !s.post(func() { s.finishConnect(gen, conn, tx, err, errc) }) {
		if conn != nil {
			conn.Disconnect()
		}
		errc <- ErrClosed
	}
}

// establish dials addr and prepares the link: outbound characteristic for
// writes, inbound one subscribed with loop-marshaled callbacks.
func (s *Session) establish(ctx context.Context, gen int, addr string) (ble.Connection, ble.Characteristic, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.adapter.Connect(ctx, addr)
	if err != nil {
		return nil, nil, err
	}

	tx, err := conn.DiscoverCharacteristic(s.opts.ServiceUUID, ble.RXCharUUID)
	if err != nil {
		conn.Disconnect()
		return nil, nil, err
	}
	rx, err := conn.DiscoverCharacteristic(s.opts.ServiceUUID, ble.TXCharUUID)
	if err != nil {
		conn.Disconnect()
		return nil, nil, err
	}
	if err := rx.Subscribe(func(data []byte) {
		s.post(func() { s.handleNotify(gen, data) })
	}); err != nil {
		conn.Disconnect()
		return nil, nil, err
	}
	conn.OnDisconnect(func() {
		s.post(func() { s.handleLinkLost(gen) })
	})
	return conn, tx, nil
}

func (s *Session) finishConnect(gen int, conn ble.Connection, tx ble.Characteristic, err error, errc chan<- error) {
	if gen != s.gen || s.state != StateConnecting {
		// The session moved on while we were dialing.
		if conn != nil {
			conn.Disconnect()
		}
		errc <- fmt.Errorf("%w: session state changed during dial", ErrConnectFailed)
		return
	}
	if err != nil {
		s.gen++
		s.reset()
		errc <- fmt.Errorf("%w: %v", ErrConnectFailed, err)
		return
	}

	s.conn = conn
	s.tx = tx
	s.state = StateConnected
	s.asm.Reset()
	slog.Info("[session] connected", "addr", s.peerAddr, "role", s.role)
	s.emit(Event{Kind: EventPeerConnected, Peer: s.peerLabel()})
	errc <- nil
}

// handleInbound deals with a connection initiated by a remote central.
// tinygo's connect handler delivers every inbound link to the application,
// so a busy instance must reject explicitly.
func (s *Session) handleInbound(conn ble.Connection) {
	if s.state != StateIdle {
		slog.Warn("[session] rejecting inbound connection while busy", "addr", conn.Addr(), "state", s.state)
		conn.Disconnect()
		return
	}

	s.gen++
	gen := s.gen

	tx, err := conn.DiscoverCharacteristic(s.opts.ServiceUUID, ble.RXCharUUID)
	if err == nil {
		var rx ble.Characteristic
		rx, err = conn.DiscoverCharacteristic(s.opts.ServiceUUID, ble.TXCharUUID)
		if err == nil {
			err = rx.Subscribe(func(data []byte) {
				s.post(func() { s.handleNotify(gen, data) })
			})
		}
	}
	if err != nil {
		slog.Warn("[session] inbound connection unusable", "addr", conn.Addr(), "error", err)
		conn.Disconnect()
		return
	}
	conn.OnDisconnect(func() {
		s.post(func() { s.handleLinkLost(gen) })
	})

	s.conn = conn
	s.tx = tx
	s.state = StateConnected
	s.role = RoleAcceptor
	s.peerAddr = conn.Addr()
	s.peerName = "" // an acceptor may never learn the initiator's name
	s.asm.Reset()
	slog.Info("[session] accepted inbound connection", "addr", s.peerAddr)
	s.emit(Event{Kind: EventPeerConnected, Peer: s.peerLabel()})
}

func (s *Session) send(text string) error {
	if s.state != StateConnected {
		return ErrNotConnected
	}
	if len(text) > s.opts.MaxMessageBytes {
		return fmt.Errorf("%w (%d > %d bytes)", ErrMessageTooLong, len(text), s.opts.MaxMessageBytes)
	}

	mtu := s.conn.MTU()
	if mtu <= protocol.HeaderSize {
		mtu = s.opts.MTU
	}
	frames, err := protocol.Encode(text, mtu)
	if err != nil {
		return err
	}

	for i, frame := range frames {
		if err := s.tx.Write(frame); err != nil {
			// Aborts this message only; the session stays connected.
			return fmt.Errorf("%w: frame %d/%d: %v", ErrWriteFailed, i+1, len(frames), err)
		}
		if s.opts.InterFrameDelay > 0 && i < len(frames)-1 {
			time.Sleep(s.opts.InterFrameDelay)
		}
	}
	s.sent++
	return nil
}

func (s *Session) handleNotify(gen int, data []byte) {
	if gen != s.gen {
		return
	}
	text, done, err := s.asm.Feed(data)
	if err != nil {
		slog.Warn("[session] discarding malformed message", "error", err)
		s.emit(Event{Kind: EventMalformedMessage, Peer: s.peerLabel(), Detail: err.Error()})
		return
	}
	if !done {
		return
	}
	s.received++
	s.emit(Event{Kind: EventMessage, Message: Message{
		Direction: Received,
		Sender:    s.peerLabel(),
		Text:      text,
		Timestamp: time.Now(),
	}})
}

func (s *Session) disconnect() error {
	if s.state != StateConnected {
		return nil
	}
	s.state = StateDisconnecting
	s.gen++ // teardown must not surface as LinkLost

	conn := s.conn
	peer := s.peerLabel()
	s.reset()

	// Return to idle regardless of teardown success.
	if err := conn.Disconnect(); err != nil {
		slog.Warn("[session] teardown", "error", err)
	}
	slog.Info("[session] disconnected", "peer", peer)
	s.emit(Event{Kind: EventPeerDisconnected, Peer: peer})
	return nil
}

// handleLinkLost processes an unexpected closure reported by the transport.
// No automatic reconnect: the user issues a fresh connect.
func (s *Session) handleLinkLost(gen int) {
	if gen != s.gen {
		return
	}
	peer := s.peerLabel()
	s.gen++
	s.reset()
	slog.Warn("[session] link lost", "peer", peer)
	s.emit(Event{Kind: EventLinkLost, Peer: peer})
}

// reset returns the loop-owned state to idle, dropping any mid-reassembly
// buffer so no partial message survives the link.
func (s *Session) reset() {
	s.state = StateIdle
	s.role = RoleNone
	s.peerAddr = ""
	s.peerName = ""
	s.conn = nil
	s.tx = nil
	s.asm.Reset()
}
