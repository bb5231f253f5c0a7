// Package channels connects chat platforms to the message bus. Each
// channel normalizes platform events into inbound messages and delivers
// outbound replies, including synthesized voice notes.
package channels

import (
	"context"

	"github.com/mynahbot/mynah/pkg/bus"
)

// Channel is one chat platform connection.
type Channel interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Name() string
	IsRunning() bool
}

// MessageLengthProvider is implemented by channels whose platform caps
// message length; the manager splits longer texts before sending.
type MessageLengthProvider interface {
	MaxMessageLength() int
}
