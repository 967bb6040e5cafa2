package telegram

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"osmwatch/internal/i18n"
	logx "osmwatch/pkg/logx"
)

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/stop", b.handleStop)
	b.bot.Handle("/follow", b.handleFollow)
	b.bot.Handle("/unfollow", b.handleUnfollow)
	b.bot.Handle("/cancel", b.handleCancel)
	b.bot.Handle("/report", b.handleReport)
	b.bot.Handle(tele.OnText, b.handleText)
}

func (b *Bot) handleStart(c tele.Context) error {
	sender := c.Sender()
	p := i18n.Printer(sender.LanguageCode)

	if err := b.st.AddSubscriber(b.ctx(), subscriberID(sender), c.Chat().ID, sender.LanguageCode); err != nil {
		return err
	}
	b.log.Info("subscriber registered",
		logx.String("subscriber", subscriberID(sender)), logx.Int64("chat_id", c.Chat().ID))
	return c.Send(p.Sprintf(i18n.MsgGreeting, sender.FirstName))
}

func (b *Bot) handleStop(c tele.Context) error {
	sender := c.Sender()
	p := i18n.Printer(sender.LanguageCode)

	if err := c.Send(p.Sprintf(i18n.MsgStopping)); err != nil {
		return err
	}
	b.log.Info("subscriber unregistered", logx.String("subscriber", subscriberID(sender)))
	return b.st.RemoveSubscriber(b.ctx(), subscriberID(sender))
}

func (b *Bot) handleFollow(c tele.Context) error {
	p := i18n.Printer(c.Sender().LanguageCode)
	b.setPending(c.Chat().ID, pendingFollow)
	return c.Send(p.Sprintf(i18n.MsgFollowPrompt))
}

func (b *Bot) handleUnfollow(c tele.Context) error {
	p := i18n.Printer(c.Sender().LanguageCode)
	b.setPending(c.Chat().ID, pendingUnfollow)
	return c.Send(p.Sprintf(i18n.MsgUnfollowPrompt))
}

func (b *Bot) handleCancel(c tele.Context) error {
	p := i18n.Printer(c.Sender().LanguageCode)
	b.setPending(c.Chat().ID, pendingNone)
	b.log.Debug("conversation cancelled", logx.String("subscriber", subscriberID(c.Sender())))
	return c.Send(p.Sprintf(i18n.MsgCancel))
}

func (b *Bot) handleReport(c tele.Context) error {
	return b.report(c)
}

// handleText resolves pending conversations; outside of one it brushes off
// chatter from registered users, registers unknown ones and answers unknown
// commands with the feedback hint.
func (b *Bot) handleText(c tele.Context) error {
	sender := c.Sender()
	p := i18n.Printer(sender.LanguageCode)
	text := strings.TrimSpace(c.Text())

	if strings.HasPrefix(text, "/") {
		b.setPending(c.Chat().ID, pendingNone)
		return c.Send(p.Sprintf(i18n.MsgFeedback))
	}

	switch b.takePending(c.Chat().ID) {
	case pendingFollow:
		return b.followAccount(c, text)
	case pendingUnfollow:
		return b.unfollowAccount(c, text)
	}

	registered, err := b.st.IsSubscriber(b.ctx(), subscriberID(sender))
	if err != nil {
		return err
	}
	if !registered {
		b.log.Warn("message from unknown user", logx.String("subscriber", subscriberID(sender)))
		return b.handleStart(c)
	}
	return c.Send(p.Sprintf(i18n.MsgNag))
}

func (b *Bot) followAccount(c tele.Context, account string) error {
	sender := c.Sender()
	p := i18n.Printer(sender.LanguageCode)
	ctx := b.ctx()

	ok, err := b.osm.Exists(ctx, account)
	if err != nil {
		b.log.Warn("account probe failed", logx.String("account", account), logx.Err(err))
		ok = false
	}
	if !ok {
		// A dead API and a typo both read as "not found"; never leak a raw error.
		b.log.Warn("seems not a valid OSM user", logx.String("account", account))
		return c.Send(p.Sprintf(i18n.MsgFollowNotFound))
	}

	sub := subscriberID(sender)
	registered, err := b.st.IsSubscriber(ctx, sub)
	if err != nil {
		return err
	}
	if !registered {
		if err := b.st.AddSubscriber(ctx, sub, c.Chat().ID, sender.LanguageCode); err != nil {
			return err
		}
	}

	if err := c.Send(p.Sprintf(i18n.MsgFollowAdded, account)); err != nil {
		return err
	}
	if err := b.st.Follow(ctx, sub, account); err != nil {
		return err
	}
	b.log.Info("follow added", logx.String("subscriber", sub), logx.String("account", account))
	return b.report(c)
}

func (b *Bot) unfollowAccount(c tele.Context, account string) error {
	sender := c.Sender()
	p := i18n.Printer(sender.LanguageCode)

	removed, err := b.st.Unfollow(b.ctx(), subscriberID(sender), account)
	if err != nil {
		return err
	}
	if !removed {
		return c.Send(p.Sprintf(i18n.MsgUnfollowNotFound))
	}
	b.log.Info("follow removed",
		logx.String("subscriber", subscriberID(sender)), logx.String("account", account))
	return c.Send(p.Sprintf(i18n.MsgUnfollowRemoved, account))
}

// report refreshes the caller's accounts synchronously, then sends the
// stored totals so the reply always reflects this cycle's data.
func (b *Bot) report(c tele.Context) error {
	sender := c.Sender()
	p := i18n.Printer(sender.LanguageCode)
	ctx := b.ctx()
	sub := subscriberID(sender)

	if err := c.Send(p.Sprintf(i18n.MsgReportPending)); err != nil {
		return err
	}

	accounts, err := b.st.AccountsFor(ctx, sub)
	if err != nil {
		return err
	}
	if w := b.currentWatcher(); w != nil && len(accounts) > 0 {
		if err := w.Run(ctx, accounts...); err != nil {
			// Stale totals still beat no reply.
			b.log.Warn("on-demand cycle failed", logx.String("subscriber", sub), logx.Err(err))
		}
	}

	totals, err := b.st.TotalsFor(ctx, sub)
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		return c.Send(p.Sprintf(i18n.MsgReportEmpty))
	}

	lines := make([]string, 0, len(totals))
	for _, t := range totals {
		lines = append(lines, p.Sprintf(i18n.MsgReportLine, t.Account, t.Changes, t.Changesets))
	}
	return c.Send(strings.Join(lines, "\n"))
}
