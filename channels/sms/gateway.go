// Package sms implements the SMS channel sender against a Twilio-style
// REST gateway.
package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/voxsend/vox-relay/channels"
	"github.com/voxsend/vox-relay/core/config"
)

const httpTimeout = 15 * time.Second

var httpClient = &http.Client{Timeout: httpTimeout}

// GatewaySender implements channels.Sender by POSTing to the gateway's
// message endpoint with basic auth.
type GatewaySender struct {
	baseURL   string
	accountID string
	authToken string
	from      string
	client    *http.Client
}

func NewGatewaySender(cfg config.SMSConfig) (*GatewaySender, error) {
	if cfg.AccountID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("invalid SMS gateway configuration")
	}
	return &GatewaySender{
		baseURL:   strings.TrimRight(cfg.GatewayURL, "/"),
		accountID: cfg.AccountID,
		authToken: cfg.AuthToken,
		from:      cfg.From,
		client:    httpClient,
	}, nil
}

func (s *GatewaySender) Send(ctx context.Context, msg channels.Message) error {
	form := url.Values{}
	form.Set("To", msg.Destination)
	form.Set("From", s.from)
	form.Set("Body", fmt.Sprintf("%s %s", msg.Body, msg.ArtifactURL))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.accountID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		// 4xx (bad number, unverified sender) cannot succeed on retry.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return channels.Permanent(err)
		}
		return err
	}

	logrus.Debugf("[SMS] Gateway accepted message for %s, status %d", msg.Destination, resp.StatusCode)
	return nil
}
