package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth, running the central and
// peripheral roles on the same radio. On Linux this talks to BlueZ; device
// addresses are MAC strings. On macOS they are CoreBluetooth UUIDs.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connection tracking below.
	mu        sync.Mutex
	outbound  map[string]*centralConn // links we dialed, keyed by address
	dialing   map[string]bool         // addresses with a dial in flight
	inbound   *peripheralConn         // current inbound link, nil when none
	inboundCb func(Connection)

	adv         *bluetooth.Advertisement
	advertising bool
	served      bool // GATT service registered
	txHandle    bluetooth.Characteristic
}

// NewTinyGoAdapter creates an adapter over the default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:  bluetooth.DefaultAdapter,
		outbound: make(map[string]*centralConn),
		dialing:  make(map[string]bool),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// One adapter-level handler covers both directions: it fires with
	// connected=true when a remote central attaches to our GATT server,
	// and with connected=false when any link drops.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		if connected {
			a.handleConnected(device, addr)
			return
		}
		a.handleDropped(addr)
	})

	return nil
}

func (a *TinyGoAdapter) handleConnected(device bluetooth.Device, addr string) {
	a.mu.Lock()
	if a.dialing[addr] || a.outbound[addr] != nil || !a.served {
		// Our own outgoing dial; the Connect path owns it.
		a.mu.Unlock()
		return
	}
	conn := &peripheralConn{a: a, device: device, addr: addr}
	if a.inbound == nil {
		a.inbound = conn
	}
	cb := a.inboundCb
	a.mu.Unlock()

	if cb != nil {
		cb(conn)
	}
}

func (a *TinyGoAdapter) handleDropped(addr string) {
	a.mu.Lock()
	var cb func()
	if conn, ok := a.outbound[addr]; ok {
		delete(a.outbound, addr)
		cb = conn.disconnectCb
	} else if a.inbound != nil && a.inbound.addr == addr {
		cb = a.inbound.disconnectCb
		a.inbound = nil
	}
	a.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var devices []Device
	index := make(map[string]int)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		dev := Device{
			Name: result.LocalName(),
			Addr: result.Address.String(),
			RSSI: int(result.RSSI),
		}
		mu.Lock()
		defer mu.Unlock()
		if i, ok := index[dev.Addr]; ok {
			// Repeat sighting supersedes the earlier one.
			devices[i] = dev
			return
		}
		index[dev.Addr] = len(devices)
		devices = append(devices, dev)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, addr string) (Connection, error) {
	var target bluetooth.Address
	target.Set(addr)

	a.mu.Lock()
	a.dialing[addr] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.dialing, addr)
		a.mu.Unlock()
	}()

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(target, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect will eventually time out or succeed on
		// its own; we cannot cancel it, only stop waiting.
		return nil, fmt.Errorf("ble: connect to %s: %w", addr, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", addr, result.err)
		}
		conn := &centralConn{device: &result.device, addr: addr}

		a.mu.Lock()
		a.outbound[addr] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

func (a *TinyGoAdapter) Advertise(serviceUUID, localName string) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.served {
		if err := a.addChatService(uuid); err != nil {
			return err
		}
		a.served = true
	}

	if a.adv == nil {
		a.adv = a.adapter.DefaultAdvertisement()
	}
	if err := a.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    localName,
		ServiceUUIDs: []bluetooth.UUID{uuid},
	}); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := a.adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertisement: %w", err)
	}
	a.advertising = true
	return nil
}

// addChatService registers the GATT server side of the chat service:
// peers write inbound data to RX and subscribe to TX for outbound data.
func (a *TinyGoAdapter) addChatService(serviceUUID bluetooth.UUID) error {
	rxUUID, err := bluetooth.ParseUUID(RXCharUUID)
	if err != nil {
		return fmt.Errorf("ble: parse RX UUID: %w", err)
	}
	txUUID, err := bluetooth.ParseUUID(TXCharUUID)
	if err != nil {
		return fmt.Errorf("ble: parse TX UUID: %w", err)
	}

	return a.adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  rxUUID,
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					data := make([]byte, len(value))
					copy(data, value)
					a.deliverInboundWrite(data)
				},
			},
			{
				UUID:   txUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
				Handle: &a.txHandle,
			},
		},
	})
}

// deliverInboundWrite routes a GATT server write to the active inbound link.
// Only one chat session exists at a time, so no per-client demux is needed.
func (a *TinyGoAdapter) deliverInboundWrite(data []byte) {
	a.mu.Lock()
	conn := a.inbound
	a.mu.Unlock()
	if conn == nil {
		return
	}
	conn.deliver(data)
}

func (a *TinyGoAdapter) StopAdvertise() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adv == nil || !a.advertising {
		return nil
	}
	a.advertising = false
	return a.adv.Stop()
}

func (a *TinyGoAdapter) OnInboundConnect(callback func(Connection)) {
	a.mu.Lock()
	a.inboundCb = callback
	a.mu.Unlock()
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

// centralConn is an outbound link: we dialed, the peer hosts the GATT server.
type centralConn struct {
	device       *bluetooth.Device
	addr         string
	disconnectCb func()

	mu    sync.Mutex
	chars map[string]*centralCharacteristic
}

func (c *centralConn) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chars[charUUID]; ok {
		return ch, nil
	}

	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	ch := &centralCharacteristic{char: &chars[0]}
	if c.chars == nil {
		c.chars = make(map[string]*centralCharacteristic)
	}
	c.chars[charUUID] = ch
	return ch, nil
}

func (c *centralConn) Addr() string { return c.addr }

func (c *centralConn) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.chars {
		if mtu, err := ch.char.GetMTU(); err == nil && mtu > 3 {
			// ATT write-without-response payload is MTU minus the
			// 3-byte attribute header.
			return int(mtu) - 3
		}
	}
	return 0
}

func (c *centralConn) Disconnect() error {
	return c.device.Disconnect()
}

func (c *centralConn) OnDisconnect(cb func()) {
	c.disconnectCb = cb
}

type centralCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *centralCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *centralCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(buf)
	})
}

// peripheralConn is an inbound link: the peer dialed us, we host the GATT
// server. Characteristic roles are mirrored so the chat core sees the same
// surface as on an outbound link: RXCharUUID still yields the write path to
// the peer (implemented as notifications on our TX characteristic) and
// TXCharUUID still yields the inbound data source (writes on our RX).
type peripheralConn struct {
	a      *TinyGoAdapter
	device bluetooth.Device
	addr   string

	mu           sync.Mutex
	notifyCb     func([]byte)
	disconnectCb func()
}

func (c *peripheralConn) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	switch charUUID {
	case RXCharUUID:
		return &peripheralWriter{a: c.a}, nil
	case TXCharUUID:
		return &peripheralReader{conn: c}, nil
	default:
		return nil, fmt.Errorf("ble: characteristic %s not hosted on inbound link", charUUID)
	}
}

func (c *peripheralConn) Addr() string { return c.addr }

// MTU is not exposed for server-side links; callers fall back to a
// configured default.
func (c *peripheralConn) MTU() int { return 0 }

func (c *peripheralConn) Disconnect() error {
	return c.device.Disconnect()
}

func (c *peripheralConn) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *peripheralConn) deliver(data []byte) {
	c.mu.Lock()
	cb := c.notifyCb
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// peripheralWriter sends outbound data by notifying subscribers of the
// local TX characteristic.
type peripheralWriter struct {
	a *TinyGoAdapter
}

func (w *peripheralWriter) Write(data []byte) error {
	_, err := w.a.txHandle.Write(data)
	return err
}

func (w *peripheralWriter) Subscribe(func([]byte)) error {
	return fmt.Errorf("ble: outbound characteristic does not notify locally")
}

// peripheralReader surfaces remote writes on the local RX characteristic
// as if they were notifications.
type peripheralReader struct {
	conn *peripheralConn
}

func (r *peripheralReader) Write([]byte) error {
	return fmt.Errorf("ble: inbound characteristic is not writable locally")
}

func (r *peripheralReader) Subscribe(cb func([]byte)) error {
	r.conn.mu.Lock()
	r.conn.notifyCb = cb
	r.conn.mu.Unlock()
	return nil
}
