package channels

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/mynahbot/mynah/pkg/bus"
	"github.com/mynahbot/mynah/pkg/config"
	"github.com/mynahbot/mynah/pkg/logger"
	"github.com/mynahbot/mynah/pkg/utils"
)

const discordMaxMessageLength = 2000

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", b, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) MaxMessageLength() int {
	return discordMaxMessageLength
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	if msg.Content != "" {
		if _, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content); err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		if err := c.sendAttachment(msg.ChatID, att); err != nil {
			return err
		}
	}
	return nil
}

// sendAttachment uploads the audio file; Discord has no separate voice
// note type for bots, so everything goes as a file attachment.
func (c *DiscordChannel) sendAttachment(channelID string, att bus.Attachment) error {
	f, err := os.Open(att.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	_, err = c.session.ChannelFileSend(channelID, att.FileName, f)
	if err != nil {
		return fmt.Errorf("send attachment: %w", err)
	}

	f.Close()
	if err := os.Remove(att.Path); err != nil {
		logger.DebugCF("discord", "Failed to remove sent attachment", map[string]any{
			"path": att.Path, "error": err.Error(),
		})
	}
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}

	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}

	content := m.Content
	var mediaPaths []string
	for _, attachment := range m.Attachments {
		if !isAudioAttachment(attachment.Filename, attachment.ContentType) {
			continue
		}
		localPath := utils.DownloadFile(attachment.URL, attachment.Filename, "discord")
		if localPath == "" {
			logger.WarnCF("discord", "Failed to download audio attachment", map[string]any{
				"url": attachment.URL, "filename": attachment.Filename,
			})
			continue
		}
		mediaPaths = append(mediaPaths, localPath)
	}

	if content == "" && len(mediaPaths) == 0 {
		return
	}

	if err := c.session.ChannelTyping(m.ChannelID); err != nil {
		logger.DebugCF("discord", "Failed to send typing indicator", map[string]any{
			"error": err.Error(),
		})
	}

	logger.DebugCF("discord", "Received message", map[string]any{
		"sender_id": m.Author.ID,
		"media":     len(mediaPaths),
		"preview":   utils.Truncate(content, 50),
	})

	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
		"is_dm":      fmt.Sprintf("%t", m.GuildID == ""),
	}

	c.HandleMessage(m.Author.ID, m.ChannelID, content, mediaPaths, metadata)
}

func isAudioAttachment(filename, contentType string) bool {
	if strings.HasPrefix(contentType, "audio/") {
		return true
	}
	lower := strings.ToLower(filename)
	for _, ext := range []string{".ogg", ".oga", ".opus", ".mp3", ".wav", ".m4a", ".flac"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
