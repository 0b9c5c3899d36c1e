// Package ble provides the dual-role Bluetooth Low Energy transport for
// blechat. Each instance is simultaneously a peripheral (advertising the
// chat service, accepting inbound links) and a potential central (scanning
// and dialing out). The hardware stack is hidden behind narrow interfaces
// so the chat core can be driven by mocks in tests.
package ble

import "context"

// Chat GATT UUIDs. Both ends of a link must use the same values. RX is the
// characteristic a server receives writes on; TX is the one it notifies on.
// A central therefore writes to the remote RX and subscribes to the remote TX.
const (
	ServiceUUID = "00001234-0000-1000-8000-00805f9b34fb"
	TXCharUUID  = "00001235-0000-1000-8000-00805f9b34fb"
	RXCharUUID  = "00001236-0000-1000-8000-00805f9b34fb"
)

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	Addr string
	RSSI int
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic. The call completes only
	// after the underlying stack has accepted the write.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this
	// characteristic. The callback may fire on any goroutine.
	Subscribe(callback func(data []byte)) error
}

// Connection represents an active BLE link, outbound or inbound.
//
// Inbound (peripheral-side) connections present the same surface as
// outbound ones: asking for RXCharUUID yields the write path to the peer
// and asking for TXCharUUID yields the notification source, regardless of
// which side hosts the GATT server.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Addr returns the peer's transport address.
	Addr() string
	// MTU returns the negotiated MTU for this link, or 0 if unknown.
	MTU() int
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE radio for testing. Scan, Connect and Advertise
// may be used concurrently; callbacks registered here fire on arbitrary
// goroutines and must be marshaled by the caller.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals advertising the given service UUID until
	// ctx is cancelled, returning them deduplicated by address.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes an outbound connection to the given address.
	Connect(ctx context.Context, addr string) (Connection, error)
	// Advertise makes this device discoverable under localName with the
	// given service UUID, and accepts inbound connections.
	Advertise(serviceUUID, localName string) error
	// StopAdvertise stops advertising. Inbound links already established
	// are unaffected.
	StopAdvertise() error
	// OnInboundConnect registers a callback for connections initiated by
	// a remote central. The callee owns the Connection and must close it
	// if unwanted.
	OnInboundConnect(callback func(Connection))
}
