package chat

import "errors"

// Rejected operations surface as sentinel errors so the dispatcher can map
// each to a single status line. None of them terminates the session.
var (
	// ErrScanUnavailable means the radio cannot scan at all. Surfaced,
	// never retried internally.
	ErrScanUnavailable = errors.New("chat: scanning unavailable")

	// ErrScanBusy rejects a scan while another is in progress.
	ErrScanBusy = errors.New("chat: scan already in progress")

	// ErrSessionBusy rejects a connect while a session is connecting or
	// connected.
	ErrSessionBusy = errors.New("chat: session busy")

	// ErrConnectFailed wraps a transport-level failure to establish a link.
	ErrConnectFailed = errors.New("chat: connect failed")

	// ErrNotConnected rejects a send with no connected peer.
	ErrNotConnected = errors.New("chat: not connected")

	// ErrWriteFailed means a specific frame failed to send. The in-flight
	// message is aborted; the session stays up.
	ErrWriteFailed = errors.New("chat: frame write failed")

	// ErrMessageTooLong rejects outgoing text over the configured maximum.
	ErrMessageTooLong = errors.New("chat: message exceeds maximum size")

	// ErrClosed rejects operations on a session that has shut down.
	ErrClosed = errors.New("chat: session closed")
)
