package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/mailer"
	pubnub "github.com/pubnub/go"
)

// NotificationService delivers purchase confirmations over PubNub (realtime)
// and email. Every path is best-effort: errors are logged and swallowed so a
// delivery problem can never roll back a sale.
type NotificationService struct {
	app    core.App
	pubnub *pubnub.PubNub
	logger *slog.Logger
}

func NewNotificationService(app core.App, pn *pubnub.PubNub, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		app:    app,
		pubnub: pn,
		logger: logger,
	}
}

// Send implements Notifier.
func (s *NotificationService) Send(ctx context.Context, notice PurchaseNotice) {
	s.publish(notice)
	s.email(notice)
}

func (s *NotificationService) publish(notice PurchaseNotice) {
	if s.pubnub == nil || notice.BuyerID == "" {
		return
	}

	channel := fmt.Sprintf("user-%s", notice.BuyerID)
	_, _, err := s.pubnub.Publish().
		Channel(channel).
		Message(map[string]interface{}{
			"type":             "purchase_confirmed",
			"payment_id":       notice.PaymentID,
			"quantity":         notice.Quantity,
			"amount":           notice.Amount,
			"redemption_codes": notice.RedemptionCodes,
		}).
		Execute()
	if err != nil {
		s.logger.Warn("failed to publish purchase confirmation",
			"payment_id", notice.PaymentID, "error", err)
	}
}

func (s *NotificationService) email(notice PurchaseNotice) {
	if notice.BuyerEmail == "" {
		return
	}

	meta := s.app.Settings().Meta
	message := &mailer.Message{
		From: mail.Address{
			Name:    meta.SenderName,
			Address: meta.SenderAddress,
		},
		To:      []mail.Address{{Address: notice.BuyerEmail}},
		Subject: "Your tickets are confirmed",
		Text: fmt.Sprintf(
			"Payment %s is confirmed.\n\nTickets: %d\nTotal: %s\n\nRedemption codes:\n%s\n",
			notice.PaymentID,
			notice.Quantity,
			notice.Amount,
			strings.Join(notice.RedemptionCodes, "\n"),
		),
	}

	if err := s.app.NewMailClient().Send(message); err != nil {
		s.logger.Warn("failed to send purchase confirmation email",
			"payment_id", notice.PaymentID, "error", err)
	}
}
