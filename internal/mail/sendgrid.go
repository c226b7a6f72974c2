package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid delivers messages through the SendGrid v3 API.
type SendGrid struct {
	client   *sendgrid.Client
	fromName string
	from     string
	logger   *slog.Logger
}

// NewSendGrid constructs a SendGrid sender.
func NewSendGrid(apiKey, fromName, from string, logger *slog.Logger) *SendGrid {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGrid{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		from:     from,
		logger:   logger,
	}
}

// Send implements Sender.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	message := buildMessage(s.fromName, s.from, msg)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("mail: sendgrid send: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		s.logger.Warn("sendgrid rejected message",
			slog.Int("status", response.StatusCode),
			slog.String("body", response.Body),
		)
		return fmt.Errorf("mail: sendgrid returned status %d", response.StatusCode)
	}
	s.logger.Info("email sent", slog.String("to", msg.To), slog.Int("attachments", len(msg.Attachments)))
	return nil
}

func buildMessage(fromName, fromAddr string, msg Message) *sgmail.SGMailV3 {
	from := sgmail.NewEmail(fromName, fromAddr)
	to := sgmail.NewEmail(msg.ToName, msg.To)
	message := sgmail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	for _, a := range msg.Attachments {
		att := sgmail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		message.AddAttachment(att)
	}
	return message
}
