package validations

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	pkgError "github.com/voxsend/vox-relay/pkg/error"
	"github.com/voxsend/vox-relay/scheduler/domain"
)

// ValidateCreateJob rejects malformed delivery requests before they reach
// the job store.
func ValidateCreateJob(ctx context.Context, ownerID, contentRef string, recipient domain.Recipient, chs []domain.Channel) error {
	err := validation.ValidateWithContext(ctx, ownerID, validation.Required)
	if err != nil {
		return pkgError.ValidationError("owner_id: " + err.Error())
	}
	if err := validation.ValidateWithContext(ctx, contentRef, validation.Required); err != nil {
		return pkgError.ValidationError("content_ref: " + err.Error())
	}
	if len(chs) == 0 {
		return pkgError.ValidationError("at least one delivery channel is required")
	}

	seen := map[domain.Channel]bool{}
	for _, ch := range chs {
		if ch != domain.ChannelEmail && ch != domain.ChannelSMS {
			return pkgError.ValidationError(fmt.Sprintf("unknown channel: %s", ch))
		}
		if seen[ch] {
			return pkgError.ValidationError(fmt.Sprintf("duplicate channel: %s", ch))
		}
		seen[ch] = true
	}

	return ValidateRecipientForChannels(ctx, recipient, chs)
}

// ValidateRecipientForChannels enforces that every requested channel has a
// matching destination on the recipient.
func ValidateRecipientForChannels(ctx context.Context, recipient domain.Recipient, chs []domain.Channel) error {
	for _, ch := range chs {
		switch ch {
		case domain.ChannelEmail:
			if recipient.Email == "" {
				return pkgError.ValidationError("email channel requested but recipient has no email")
			}
			if err := validation.ValidateWithContext(ctx, recipient.Email, is.EmailFormat); err != nil {
				return pkgError.ValidationError("recipient email: " + err.Error())
			}
		case domain.ChannelSMS:
			if recipient.Phone == "" {
				return pkgError.ValidationError("sms channel requested but recipient has no phone")
			}
			if err := validation.ValidateWithContext(ctx, recipient.Phone, is.E164); err != nil {
				return pkgError.ValidationError("recipient phone: " + err.Error())
			}
		}
	}
	return nil
}
