package notifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mail-forward-scheduler/internal/config"
	"mail-forward-scheduler/internal/models"
)

// EmailNotifier sends courtesy emails to mailbox owners when their
// forwarding window opens or closes. Delivery is best-effort.
type EmailNotifier struct {
	service *gmail.Service
	sender  string
}

// NewEmailNotifier creates a Gmail-backed notifier
func NewEmailNotifier(cfg *config.GmailConfig) (*EmailNotifier, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &EmailNotifier{
		service: service,
		sender:  cfg.SenderEmail,
	}, nil
}

// ScheduleActivated tells the owner their mail is now being forwarded
func (n *EmailNotifier) ScheduleActivated(ctx context.Context, schedule *models.ForwardingSchedule) error {
	destination := schedule.ForwardToEmail
	if schedule.ForwardToName != "" {
		destination = fmt.Sprintf("%s (%s)", schedule.ForwardToName, schedule.ForwardToEmail)
	}

	subject := "Mail forwarding is now active"
	body := fmt.Sprintf(
		"Your incoming mail is now being forwarded to %s.\r\n\r\n"+
			"Forwarding is scheduled to end at %s.\r\n",
		destination, schedule.EndsAt.Format(time.RFC1123))

	return n.send(ctx, schedule.UserEmail, subject, body)
}

// ScheduleExpired tells the owner their forwarding window has ended
func (n *EmailNotifier) ScheduleExpired(ctx context.Context, schedule *models.ForwardingSchedule) error {
	subject := "Mail forwarding has ended"
	body := fmt.Sprintf(
		"The scheduled forwarding of your mail to %s ended at %s.\r\n"+
			"New messages are now delivered to your inbox only.\r\n",
		schedule.ForwardToEmail, schedule.EndsAt.Format(time.RFC1123))

	return n.send(ctx, schedule.UserEmail, subject, body)
}

func (n *EmailNotifier) send(ctx context.Context, to, subject, body string) error {
	raw, err := n.buildMessage(to, subject, body)
	if err != nil {
		return fmt.Errorf("failed to build notification: %w", err)
	}

	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	if _, err := n.service.Users.Messages.Send(n.sender, message).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to send notification to %s: %w", to, err)
	}

	logrus.Infof("Sent notification %q to %s", subject, to)
	return nil
}

func (n *EmailNotifier) buildMessage(to, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: n.sender}})
	header.SetAddressList("To", []*mail.Address{{Address: to}})
	header.SetSubject(subject)

	writer, err := mail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(writer, body); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
