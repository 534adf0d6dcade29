// Package transport owns the message-oriented connections to the
// filter controller. An Adapter pairs one connection with an outbound
// and an inbound FIFO queue and runs independent send and receive
// loops, so a slow consumer never stalls the wire and a stalled wire
// never blocks callers.
package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	// ErrSendUnsupported is returned by connections on channels that
	// carry no outbound traffic (the subscribe pattern).
	ErrSendUnsupported = errors.New("transport: send not supported on this channel")

	// ErrConnClosed is returned when an operation is attempted on a
	// closed connection.
	ErrConnClosed = errors.New("transport: connection closed")
)

// Pattern identifies the messaging pattern of a channel.
type Pattern int

// Channel patterns.
const (
	// RequestReply is the control channel pattern: outbound commands,
	// inbound replies, strict alternation enforced by the peer.
	RequestReply Pattern = iota

	// Subscribe is the event channel pattern: inbound only.
	Subscribe
)

// String returns the pattern name.
func (p Pattern) String() string {
	switch p {
	case RequestReply:
		return "request-reply"
	case Subscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// Conn is one established connection to the peer on a single channel.
// Implementations are safe for one sender and one receiver goroutine.
type Conn interface {
	// Send writes one outbound message to the wire.
	Send(data []byte) error

	// Recv blocks until the next inbound message arrives.
	Recv(ctx context.Context) ([]byte, error)

	// Closed reports whether the connection can no longer carry traffic.
	Closed() bool

	// Close releases the connection. Reentrant.
	Close() error
}

// DialFunc establishes a connection to the peer.
type DialFunc func(ctx context.Context) (Conn, error)
