package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/marketwatch/scanscheduler/internal/models"
)

// TelegramNotifier sends candidate batches to a fixed set of chat IDs,
// following the teacher's NotificationService.sendArbitrageAlert shape:
// one formatted message per batch, sent via bot.SendMessage with markdown.
type TelegramNotifier struct {
	bot     *bot.Bot
	chatIDs []int64
	log     *logrus.Logger
}

// NewTelegramNotifier builds a TelegramNotifier. If token is empty, the
// returned notifier's bot is nil and Notify becomes a no-op logging that
// fact, mirroring the teacher's tolerance for a missing bot token.
func NewTelegramNotifier(token string, chatIDs []int64, log *logrus.Logger) (*TelegramNotifier, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if token == "" {
		log.Warn("notify: no telegram token configured, notifications are disabled")
		return &TelegramNotifier{chatIDs: chatIDs, log: log}, nil
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("notify: create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chatIDs: chatIDs, log: log}, nil
}

// Notify sends one formatted message per configured chat ID.
func (n *TelegramNotifier) Notify(ctx context.Context, epochID string, category models.StrategyCategory, candidates []models.Candidate) error {
	if n.bot == nil {
		n.log.WithField("category", category).Debug("notify: telegram disabled, skipping")
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	message := formatCandidateBatch(epochID, category, candidates)

	var lastErr error
	for _, chatID := range n.chatIDs {
		_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      message,
			ParseMode: tgmodels.ParseModeMarkdown,
		})
		if err != nil {
			n.log.WithFields(logrus.Fields{"chat_id": chatID, "error": err}).Warn("notify: failed to send telegram message")
			lastErr = err
		}
	}
	return lastErr
}

func formatCandidateBatch(epochID string, category models.StrategyCategory, candidates []models.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s candidates* (epoch `%s`)\n", category, epochID)
	limit := len(candidates)
	if limit > 5 {
		limit = 5
	}
	for _, c := range candidates[:limit] {
		fmt.Fprintf(&b, "- %s %s entry %s stop %s target %s conf %s\n",
			c.Side, c.Instrument, c.Entry.StringFixed(2), c.Stop.StringFixed(2), c.Target.StringFixed(2), c.Confidence.StringFixed(2))
	}
	if len(candidates) > limit {
		fmt.Fprintf(&b, "...and %d more\n", len(candidates)-limit)
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
