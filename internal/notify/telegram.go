package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/service"
)

// Sender is satisfied by *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts operator alerts to a chat. Sends run in the background so a
// slow Bot API never holds up a request; Close waits for them.
type Telegram struct {
	api    Sender
	chatID int64
	log    *slog.Logger
	wg     sync.WaitGroup
}

func NewTelegram(api Sender, chatID int64, log *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, log: log}
}

func (t *Telegram) JobFailed(_ context.Context, job *models.Job) {
	reason := "unknown"
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		reason = *job.ErrorMessage
	}
	t.send(fmt.Sprintf("Job failed\njob: %s\nuser: %s\nrefunded: %d credits\nreason: %s",
		job.ID, job.UserID, job.CreditsUsed, truncate(reason, 300)))
}

func (t *Telegram) PaymentCompleted(_ context.Context, payment *models.Payment) {
	t.send(fmt.Sprintf("Payment completed\ntxn: %s\nuser: %s\namount: %s\ncredits: %d",
		payment.ExternalTxnID, payment.UserID, service.PriceDisplay(payment.Amount), payment.CreditsAdded))
}

// Close waits for in-flight sends.
func (t *Telegram) Close() {
	t.wg.Wait()
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if _, err := t.api.Send(msg); err != nil {
			t.log.Error("telegram notification failed", "chat_id", t.chatID, "err", err)
		}
	}()
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}
