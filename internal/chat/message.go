package chat

import "time"

// Direction tells whether a message was sent by us or received from the peer.
type Direction int

const (
	Sent Direction = iota
	Received
)

func (d Direction) String() string {
	if d == Sent {
		return "sent"
	}
	return "received"
}

// Message is one completed chat line. Immutable once constructed; handed to
// the dispatcher for display and then released.
type Message struct {
	Direction Direction
	Sender    string
	Text      string
	Timestamp time.Time
}

// Peer is a discovered-but-unconnected advertiser.
type Peer struct {
	Addr     string
	Name     string
	RSSI     int
	LastSeen time.Time
}
