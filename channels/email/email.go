// Package email provides the email channel sender with a pluggable
// provider backend (SendGrid or Mailgun).
package email

import (
	"fmt"

	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/core/config"
)

// NewSender creates an email sender for the configured provider.
func NewSender(cfg config.EmailConfig) (channels.Sender, error) {
	switch cfg.Provider {
	case "sendgrid":
		return newSendGridSender(cfg)
	case "mailgun":
		return newMailgunSender(cfg)
	default:
		return nil, fmt.Errorf("unsupported email provider: %s", cfg.Provider)
	}
}
