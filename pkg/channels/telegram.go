package channels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mynahbot/mynah/pkg/bus"
	"github.com/mynahbot/mynah/pkg/config"
	"github.com/mynahbot/mynah/pkg/logger"
	"github.com/mynahbot/mynah/pkg/utils"
)

const telegramMaxMessageLength = 4096

type TelegramChannel struct {
	*BaseChannel
	bot    *telego.Bot
	config config.TelegramConfig
}

var telegramCommands = []telego.BotCommand{
	{Command: "gen", Description: "Speak the given text"},
	{Command: "retry", Description: "Regenerate the last request"},
	{Command: "voices", Description: "List available voices"},
	{Command: "voice", Description: "Switch to a voice by name"},
	{Command: "add_voice", Description: "Enroll your own voice"},
	{Command: "del_voice", Description: "Delete one of your voices"},
	{Command: "emotion", Description: "Set the speaking emotion"},
	{Command: "samples", Description: "Takes generated per request"},
	{Command: "settings", Description: "Show your current settings"},
	{Command: "help", Description: "How to use this bot"},
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", b, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	if err := c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: telegramCommands,
	}); err != nil {
		logger.WarnCF("telegram", "Failed to register command menu", map[string]any{
			"error": err.Error(),
		})
	}

	c.setRunning(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(ctx, update)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot...")
	c.setRunning(false)
	return nil
}

func (c *TelegramChannel) MaxMessageLength() int {
	return telegramMaxMessageLength
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChatID, err)
	}

	if msg.Content != "" {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		if err := c.sendAttachment(ctx, chatID, att); err != nil {
			return err
		}
	}
	return nil
}

// sendAttachment delivers audio as a playable voice note where possible,
// falling back to a document upload. The local file is removed after a
// successful send.
func (c *TelegramChannel) sendAttachment(ctx context.Context, chatID int64, att bus.Attachment) error {
	f, err := os.Open(att.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	switch att.Type {
	case "voice":
		_, err = c.bot.SendVoice(ctx, tu.Voice(tu.ID(chatID), tu.File(f)))
	case "audio":
		_, err = c.bot.SendAudio(ctx, tu.Audio(tu.ID(chatID), tu.File(f)))
	default:
		_, err = c.bot.SendDocument(ctx, tu.Document(tu.ID(chatID), tu.File(f)))
	}
	if err != nil {
		return fmt.Errorf("send %s attachment: %w", att.Type, err)
	}

	f.Close()
	if err := os.Remove(att.Path); err != nil {
		logger.DebugCF("telegram", "Failed to remove sent attachment", map[string]any{
			"path": att.Path, "error": err.Error(),
		})
	}
	return nil
}

func (c *TelegramChannel) handleMessage(ctx context.Context, update telego.Update) {
	message := update.Message
	user := message.From
	if user == nil {
		return
	}

	senderID := strconv.FormatInt(user.ID, 10)
	if !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]any{
			"user_id":  senderID,
			"username": user.Username,
		})
		return
	}

	chatID := message.Chat.ID
	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	var mediaPaths []string
	if message.Voice != nil {
		if path := c.downloadFile(ctx, message.Voice.FileID, ".oga"); path != "" {
			mediaPaths = append(mediaPaths, path)
		}
	}
	if message.Audio != nil {
		if path := c.downloadFile(ctx, message.Audio.FileID, ".mp3"); path != "" {
			mediaPaths = append(mediaPaths, path)
		}
	}

	if content == "" && len(mediaPaths) == 0 {
		return
	}

	logger.DebugCF("telegram", "Received message", map[string]any{
		"sender_id": senderID,
		"chat_id":   strconv.FormatInt(chatID, 10),
		"media":     len(mediaPaths),
		"preview":   utils.Truncate(content, 50),
	})

	// Audio work takes a while; show activity right away.
	err := c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionRecordVoice))
	if err != nil {
		logger.DebugCF("telegram", "Failed to send chat action", map[string]any{
			"error": err.Error(),
		})
	}

	metadata := map[string]string{
		"message_id": strconv.Itoa(message.MessageID),
		"username":   user.Username,
		"is_group":   fmt.Sprintf("%t", message.Chat.Type != "private"),
	}

	c.HandleMessage(senderID, strconv.FormatInt(chatID, 10), content, mediaPaths, metadata)
}

func (c *TelegramChannel) downloadFile(ctx context.Context, fileID, ext string) string {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		logger.ErrorCF("telegram", "Failed to get file", map[string]any{
			"error": err.Error(),
		})
		return ""
	}
	if file.FilePath == "" {
		return ""
	}

	url := c.bot.FileDownloadURL(file.FilePath)
	filename := uuid.New().String()[:8] + "_" + filepath.Base(file.FilePath) + ext
	return utils.DownloadFile(url, filename, "telegram")
}
