package notify

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/juju/errors"

	"uptime-incident-engine/internal/monitor"
)

// messageSender is the part of *bot.Bot the sink uses.
type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram posts incident messages to one chat.
type Telegram struct {
	bot    messageSender
	chatID int64
}

func NewTelegram(b *bot.Bot, chatID int64) *Telegram {
	return &Telegram{bot: b, chatID: chatID}
}

func (t *Telegram) Send(ctx context.Context, ev monitor.Event) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   message(ev),
	})
	return errors.Annotatef(err, "telegram send for %s", ev.Monitor.Name)
}
