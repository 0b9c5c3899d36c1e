// Package protocol implements the chat wire framing. A message is split
// into frames sized to the link MTU, each carrying a 2-byte header:
//
//	byte 0: flags (bit 0 set on the final frame of a message)
//	byte 1: frame sequence within the message, mod 256
//
// The transport delivers frames of one characteristic in submission order;
// the sequence byte exists to detect violations of that assumption, not to
// reorder.
package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// HeaderSize is the fixed per-frame overhead in bytes.
	HeaderSize = 2

	// DefaultMaxMessageBytes caps reassembly memory for a single message.
	DefaultMaxMessageBytes = 4096

	// DefaultMTU is the usable write payload assumed when the link does
	// not report a negotiated MTU (the BLE minimum of 23 minus the 3-byte
	// attribute header).
	DefaultMTU = 20

	flagFinal = 0x01
)

// ErrMalformed reports an unusable frame or message. The partial message is
// discarded; the link itself is unaffected.
var ErrMalformed = errors.New("protocol: malformed message")

// Encode splits text into frames of at most mtu bytes each. Every frame but
// the last carries a continuation header; the last carries the final flag.
// Returns nil for empty text.
func Encode(text string, mtu int) ([][]byte, error) {
	if mtu <= HeaderSize {
		return nil, fmt.Errorf("protocol: mtu %d leaves no payload room", mtu)
	}
	if len(text) == 0 {
		return nil, nil
	}

	chunk := mtu - HeaderSize
	payload := []byte(text)
	frames := make([][]byte, 0, (len(payload)+chunk-1)/chunk)

	for seq := 0; len(payload) > 0; seq++ {
		n := len(payload)
		if n > chunk {
			n = chunk
		}
		frame := make([]byte, HeaderSize+n)
		if n == len(payload) {
			frame[0] = flagFinal
		}
		frame[1] = byte(seq)
		copy(frame[HeaderSize:], payload[:n])
		frames = append(frames, frame)
		payload = payload[n:]
	}
	return frames, nil
}

// Assembler reassembles one message at a time from incoming frames. Only a
// single peer exists per session, so the buffer is keyed by nothing.
type Assembler struct {
	buf      []byte
	next     byte
	maxBytes int
}

// NewAssembler creates an assembler that rejects messages larger than
// maxBytes (DefaultMaxMessageBytes when maxBytes <= 0).
func NewAssembler(maxBytes int) *Assembler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	return &Assembler{maxBytes: maxBytes}
}

// Feed consumes one raw frame. When the frame completes a message, Feed
// returns its text and done=true. A malformed frame (short, out of
// sequence, oversize payload, or a final frame that is not valid UTF-8)
// discards the partial message and returns an error wrapping ErrMalformed.
func (a *Assembler) Feed(raw []byte) (text string, done bool, err error) {
	if len(raw) < HeaderSize {
		a.Reset()
		return "", false, fmt.Errorf("%w: frame shorter than header (%d bytes)", ErrMalformed, len(raw))
	}
	flags, seq := raw[0], raw[1]
	if seq != a.next {
		want := a.next
		a.Reset()
		return "", false, fmt.Errorf("%w: frame sequence gap (want %d, got %d)", ErrMalformed, want, seq)
	}

	payload := raw[HeaderSize:]
	if len(a.buf)+len(payload) > a.maxBytes {
		a.Reset()
		return "", false, fmt.Errorf("%w: message exceeds %d bytes", ErrMalformed, a.maxBytes)
	}
	a.buf = append(a.buf, payload...)
	a.next++

	if flags&flagFinal == 0 {
		return "", false, nil
	}

	if !utf8.Valid(a.buf) {
		a.Reset()
		return "", false, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformed)
	}
	text = string(a.buf)
	a.Reset()
	return text, true, nil
}

// Pending reports whether a partial message is buffered.
func (a *Assembler) Pending() bool {
	return len(a.buf) > 0 || a.next != 0
}

// Reset discards any partial message.
func (a *Assembler) Reset() {
	a.buf = nil
	a.next = 0
}
