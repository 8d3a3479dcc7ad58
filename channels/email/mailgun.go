package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/core/config"
)

// MailgunSender implements channels.Sender over the Mailgun API.
type MailgunSender struct {
	mg   *mailgun.MailgunImpl
	from string
}

func newMailgunSender(cfg config.EmailConfig) (*MailgunSender, error) {
	if cfg.MailgunKey == "" || cfg.MailgunDomain == "" || cfg.MailgunFrom == "" {
		return nil, errors.New("invalid Mailgun configuration")
	}
	return &MailgunSender{
		mg:   mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunKey),
		from: cfg.MailgunFrom,
	}, nil
}

func (s *MailgunSender) Send(ctx context.Context, msg channels.Message) error {
	body := fmt.Sprintf("%s\n\nListen here: %s", msg.Body, msg.ArtifactURL)
	message := s.mg.NewMessage(s.from, msg.Subject, body, msg.Destination)
	message.SetHtml(fmt.Sprintf("<p>%s</p><p><a href=%q>Listen to your message</a></p>", msg.Body, msg.ArtifactURL))

	_, id, err := s.mg.Send(ctx, message)
	if err != nil {
		var ure *mailgun.UnexpectedResponseError
		if errors.As(err, &ure) && ure.Actual >= 400 && ure.Actual < 500 && ure.Actual != 429 {
			return channels.Permanent(err)
		}
		return err
	}

	logrus.Debugf("[EMAIL] Mailgun queued message %s for %s", id, msg.Destination)
	return nil
}
