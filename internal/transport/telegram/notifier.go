package telegram

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"osmwatch/internal/i18n"
	"osmwatch/internal/store"
	"osmwatch/internal/watch"
)

// Alert implements watch.Notifier: one localized milestone message per
// recipient. A recipient who blocked the bot surfaces as
// watch.ErrRecipientBlocked so the cycle can clean up the subscription.
func (b *Bot) Alert(ctx context.Context, to store.Recipient, account string, threshold int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := i18n.Printer(to.Locale)
	text := p.Sprintf(i18n.MsgAlert, account, threshold)

	_, err := b.bot.Send(&tele.Chat{ID: to.ChatID}, text)
	if err == nil {
		return nil
	}
	if isBlocked(err) {
		return fmt.Errorf("%w: %v", watch.ErrRecipientBlocked, err)
	}
	return err
}

func isBlocked(err error) bool {
	return errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrChatNotFound)
}
