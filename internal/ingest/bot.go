package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

// BotListener long-polls the Bot API and writes every text message and
// channel post it sees.
type BotListener struct {
	token  string
	writer *Writer
	logger *slog.Logger
}

func NewBotListener(token string, w *Writer, logger *slog.Logger) *BotListener {
	return &BotListener{token: token, writer: w, logger: logger}
}

// Run polls until ctx is cancelled.
func (b *BotListener) Run(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(b.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	b.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := bot.GetUpdatesChan(u)

	b.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("telegram bot listener stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			m, ok := messageFromUpdate(update)
			if !ok {
				continue
			}
			b.writer.Write(ctx, m)
		}
	}
}

// messageFromUpdate maps a message or channel post. It reports false for
// updates that carry neither.
func messageFromUpdate(update tgbotapi.Update) (store.Message, bool) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return store.Message{}, false
	}

	title := msg.Chat.Title
	if title == "" {
		title = msg.Chat.UserName
	}

	var username string
	switch {
	case msg.From != nil:
		username = msg.From.UserName
		if username == "" {
			username = strconv.FormatInt(msg.From.ID, 10)
		}
	case msg.SenderChat != nil:
		username = msg.SenderChat.UserName
		if username == "" {
			username = strconv.FormatInt(msg.SenderChat.ID, 10)
		}
	}

	return store.Message{
		Source:        store.SourceBot,
		TelegramMsgID: strconv.Itoa(msg.MessageID),
		ChatID:        strconv.FormatInt(msg.Chat.ID, 10),
		ChatTitle:     title,
		Username:      username,
		Text:          msg.Text,
		Timestamp:     time.Unix(int64(msg.Date), 0).UTC(),
	}, true
}
