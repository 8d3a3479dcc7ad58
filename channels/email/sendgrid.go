package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/core/config"
)

// SendGridSender implements channels.Sender over the SendGrid API.
type SendGridSender struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

func newSendGridSender(cfg config.EmailConfig) (*SendGridSender, error) {
	if cfg.SendGridKey == "" || cfg.SendGridFrom == "" {
		return nil, errors.New("invalid SendGrid configuration")
	}
	return &SendGridSender{
		client:   sendgrid.NewSendClient(cfg.SendGridKey),
		from:     cfg.SendGridFrom,
		fromName: cfg.FromName,
	}, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg channels.Message) error {
	from := mail.NewEmail(s.fromName, s.from)
	to := mail.NewEmail("", msg.Destination)
	plain := fmt.Sprintf("%s\n\nListen here: %s", msg.Body, msg.ArtifactURL)
	html := fmt.Sprintf("<p>%s</p><p><a href=%q>Listen to your message</a></p>", msg.Body, msg.ArtifactURL)
	message := mail.NewSingleEmail(from, msg.Subject, to, plain, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid rejected message, status code: %d", response.StatusCode)
		// 4xx other than throttling means the request itself is bad
		// (typically the address) and will never succeed.
		if response.StatusCode < 500 && response.StatusCode != http.StatusTooManyRequests {
			return channels.Permanent(err)
		}
		return err
	}

	logrus.Debugf("[EMAIL] SendGrid accepted message for %s, status %d", msg.Destination, response.StatusCode)
	return nil
}
