package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"blechat/internal/ble"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	failFrom int // fail writes starting at this index (0 = never)
	onWrite  func([]byte)
	callback func([]byte)
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.failFrom > 0 && len(c.writes) >= c.failFrom {
		c.mu.Unlock()
		return fmt.Errorf("mock: write refused")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	onWrite := c.onWrite
	c.mu.Unlock()

	if onWrite != nil {
		onWrite(cp)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

// SimulateNotification delivers data to the subscriber, if any.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *mockCharacteristic) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// mockConn simulates one side of a BLE link.
type mockConn struct {
	addr string
	mtu  int

	txChar *mockCharacteristic // peer's RX: our write path
	rxChar *mockCharacteristic // peer's TX: our notification source

	mu           sync.Mutex
	disconnects  int
	disconnectCb func()
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		addr:   addr,
		txChar: &mockCharacteristic{},
		rxChar: &mockCharacteristic{},
	}
}

func (c *mockConn) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	switch charUUID {
	case ble.RXCharUUID:
		return c.txChar, nil
	case ble.TXCharUUID:
		return c.rxChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConn) Addr() string { return c.addr }

func (c *mockConn) MTU() int { return c.mtu }

func (c *mockConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *mockConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect reports an unexpected link loss.
func (c *mockConn) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConn) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// mockAdapter simulates the BLE radio.
type mockAdapter struct {
	mu        sync.Mutex
	devices   []ble.Device
	scanErr   error
	scanHold  chan struct{} // when set, Scan blocks until closed or ctx done
	connectFn func(addr string) (ble.Connection, error)
	conn      *mockConn // most recent outbound connection
	inboundCb func(ble.Connection)

	advertising bool
	advName     string
}

func newMockAdapter(devices []ble.Device) *mockAdapter {
	return &mockAdapter{devices: devices}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(ctx context.Context, _ string) ([]ble.Device, error) {
	a.mu.Lock()
	hold := a.scanHold
	scanErr := a.scanErr
	devices := a.devices
	a.mu.Unlock()

	if scanErr != nil {
		return nil, scanErr
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
		}
	}
	return devices, nil
}

func (a *mockAdapter) Connect(_ context.Context, addr string) (ble.Connection, error) {
	a.mu.Lock()
	fn := a.connectFn
	a.mu.Unlock()

	if fn != nil {
		conn, err := fn(addr)
		if mc, ok := conn.(*mockConn); ok {
			a.mu.Lock()
			a.conn = mc
			a.mu.Unlock()
		}
		return conn, err
	}

	conn := newMockConn(addr)
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	return conn, nil
}

func (a *mockAdapter) Advertise(_, localName string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advertising = true
	a.advName = localName
	return nil
}

func (a *mockAdapter) StopAdvertise() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advertising = false
	return nil
}

func (a *mockAdapter) OnInboundConnect(cb func(ble.Connection)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inboundCb = cb
}

// SimulateInbound delivers an inbound connection as a remote central would.
func (a *mockAdapter) SimulateInbound(conn ble.Connection) {
	a.mu.Lock()
	cb := a.inboundCb
	a.mu.Unlock()
	if cb != nil {
		cb(conn)
	}
}

func (a *mockAdapter) latestConn() *mockConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// linkAdapters wires two mock adapters into a loopback pair: dialing
// addrB on a establishes crossed characteristics with an inbound
// connection surfaced on b, so two full sessions can talk.
func linkAdapters(a, b *mockAdapter, addrA, addrB string) {
	a.mu.Lock()
	a.connectFn = func(addr string) (ble.Connection, error) {
		if addr != addrB {
			return nil, fmt.Errorf("mock: no device at %s", addr)
		}
		central := newMockConn(addrB)
		peripheral := newMockConn(addrA)
		// Frames written by one side arrive as notifications on the other.
		central.txChar.onWrite = peripheral.rxChar.SimulateNotification
		peripheral.txChar.onWrite = central.rxChar.SimulateNotification
		b.SimulateInbound(peripheral)
		return central, nil
	}
	a.mu.Unlock()
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ ble.Adapter = (*mockAdapter)(nil)
}

func TestMockConnImplementsInterface(t *testing.T) {
	var _ ble.Connection = (*mockConn)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ ble.Characteristic = (*mockCharacteristic)(nil)
}
