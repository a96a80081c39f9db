package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"gopkg.in/telebot.v3"
)

const telegramMessageLimit = 4096

// TelegramNotifier posts notifications to a Telegram chat through a bot.
type TelegramNotifier struct {
	bot  *telebot.Bot
	chat *telebot.Chat
}

// NewTelegramNotifier creates a send-only bot. apiURL may be empty to use the
// public Bot API.
func NewTelegramNotifier(token string, chatID int64, apiURL string) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is empty")
	}
	bot, err := telebot.NewBot(telebot.Settings{
		URL:     apiURL,
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chat: &telebot.Chat{ID: chatID}}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := title + "\n\n" + body
	if len(text) > telegramMessageLimit {
		text = truncateUTF8(text, telegramMessageLimit-3) + "..."
	}
	if _, err := t.bot.Send(t.chat, text, &telebot.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

// truncateUTF8 cuts s to at most n bytes on a rune boundary; Telegram rejects
// invalid UTF-8.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
