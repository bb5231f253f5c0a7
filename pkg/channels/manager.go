package channels

import (
	"context"
	"strings"
	"sync"

	"github.com/mynahbot/mynah/pkg/bus"
	"github.com/mynahbot/mynah/pkg/config"
	"github.com/mynahbot/mynah/pkg/logger"
)

const defaultChannelQueueSize = 100

type channelWorker struct {
	ch    Channel
	queue chan bus.OutboundMessage
	done  chan struct{}
}

// Manager owns the enabled channels, one send worker per channel, and the
// dispatcher that routes outbound bus messages to the right worker.
type Manager struct {
	channels       map[string]Channel
	workers        map[string]*channelWorker
	bus            *bus.MessageBus
	config         *config.Config
	dispatchCancel context.CancelFunc
	mu             sync.RWMutex
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus) *Manager {
	m := &Manager{
		channels: make(map[string]Channel),
		workers:  make(map[string]*channelWorker),
		bus:      messageBus,
		config:   cfg,
	}
	m.initChannels()
	return m
}

func (m *Manager) initChannels() {
	logger.InfoC("channels", "Initializing channel manager")

	if m.config.Channels.Telegram.Enabled && m.config.Channels.Telegram.Token != "" {
		ch, err := NewTelegramChannel(m.config.Channels.Telegram, m.bus)
		if err != nil {
			logger.ErrorCF("channels", "Failed to initialize channel", map[string]any{
				"channel": "telegram", "error": err.Error(),
			})
		} else {
			m.register("telegram", ch)
		}
	}

	if m.config.Channels.Discord.Enabled && m.config.Channels.Discord.Token != "" {
		ch, err := NewDiscordChannel(m.config.Channels.Discord, m.bus)
		if err != nil {
			logger.ErrorCF("channels", "Failed to initialize channel", map[string]any{
				"channel": "discord", "error": err.Error(),
			})
		} else {
			m.register("discord", ch)
		}
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]any{
		"enabled_channels": len(m.channels),
	})
}

func (m *Manager) register(name string, ch Channel) {
	m.channels[name] = ch
	m.workers[name] = &channelWorker{
		ch:    ch,
		queue: make(chan bus.OutboundMessage, defaultChannelQueueSize),
		done:  make(chan struct{}),
	}
	logger.InfoCF("channels", "Channel enabled", map[string]any{"channel": name})
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
		return nil
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchCancel = cancel

	for name, channel := range m.channels {
		logger.InfoCF("channels", "Starting channel", map[string]any{"channel": name})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"channel": name, "error": err.Error(),
			})
		}
	}

	for name, w := range m.workers {
		go m.runWorker(dispatchCtx, name, w)
	}
	go m.dispatchOutbound(dispatchCtx)

	logger.InfoC("channels", "All channels started")
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.InfoC("channels", "Stopping all channels")

	if m.dispatchCancel != nil {
		m.dispatchCancel()
		m.dispatchCancel = nil
	}

	for _, w := range m.workers {
		close(w.queue)
	}
	for _, w := range m.workers {
		<-w.done
	}

	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name, "error": err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels stopped")
	return nil
}

// runWorker delivers outbound messages for one channel, splitting text
// that exceeds the platform's message length.
func (m *Manager) runWorker(ctx context.Context, name string, w *channelWorker) {
	defer close(w.done)
	for {
		select {
		case msg, ok := <-w.queue:
			if !ok {
				return
			}
			maxLen := 0
			if mlp, ok := w.ch.(MessageLengthProvider); ok {
				maxLen = mlp.MaxMessageLength()
			}
			if maxLen > 0 && len([]rune(msg.Content)) > maxLen {
				chunks := splitMessage(msg.Content, maxLen)
				for i, chunk := range chunks {
					chunkMsg := msg
					chunkMsg.Content = chunk
					if i < len(chunks)-1 {
						chunkMsg.Attachments = nil // attachments ride the last chunk
					}
					if err := w.ch.Send(ctx, chunkMsg); err != nil {
						logger.ErrorCF("channels", "Error sending chunk", map[string]any{
							"channel": name, "error": err.Error(),
						})
					}
				}
			} else if err := w.ch.Send(ctx, msg); err != nil {
				logger.ErrorCF("channels", "Error sending message", map[string]any{
					"channel": name, "error": err.Error(),
				})
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("channels", "Outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			logger.InfoC("channels", "Outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		w, exists := m.workers[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}

		select {
		case w.queue <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// splitMessage chunks content at the limit, preferring newline then space
// boundaries near the cut.
func splitMessage(content string, limit int) []string {
	var chunks []string
	runes := []rune(content)

	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}

		cut := limit
		window := runes[:limit]
		if idx := lastIndexRune(window, '\n', 200); idx > 0 {
			cut = idx
		} else if idx := lastIndexRune(window, ' ', 100); idx > 0 {
			cut = idx
		}

		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune, searchWindow int) int {
	start := len(runes) - searchWindow
	if start < 0 {
		start = 0
	}
	for i := len(runes) - 1; i >= start; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
