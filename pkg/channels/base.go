package channels

import (
	"sync/atomic"

	"github.com/mynahbot/mynah/pkg/bus"
	"github.com/mynahbot/mynah/pkg/logger"
)

// BaseChannel carries the state every channel shares: its name, the bus it
// publishes into, an optional sender allowlist and the running flag.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
	running   atomic.Bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) *BaseChannel {
	var allow map[string]bool
	if len(allowFrom) > 0 {
		allow = make(map[string]bool, len(allowFrom))
		for _, id := range allowFrom {
			allow[id] = true
		}
	}
	return &BaseChannel{name: name, bus: b, allowFrom: allow}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

func (c *BaseChannel) setRunning(v bool) { c.running.Store(v) }

// IsAllowed checks senderID against the allowlist. An empty allowlist
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if c.allowFrom == nil {
		return true
	}
	return c.allowFrom[senderID]
}

// HandleMessage publishes a normalized inbound message, dropping senders
// outside the allowlist.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, mediaPaths []string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		logger.DebugCF(c.name, "Message rejected by allowlist", map[string]any{
			"sender": senderID,
		})
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    mediaPaths,
		Metadata: metadata,
	})
}
