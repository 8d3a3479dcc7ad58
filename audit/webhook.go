package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const webhookTimeout = 10 * time.Second

// WebhookSink forwards events to configured webhook URLs. Delivery runs in
// the background and failures are logged, never propagated.
type WebhookSink struct {
	urls   []string
	secret string
	client *http.Client
}

func NewWebhookSink(urls []string, secret string) *WebhookSink {
	return &WebhookSink{
		urls:   urls,
		secret: secret,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

func (s *WebhookSink) Emit(_ context.Context, event Event) {
	if len(s.urls) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Warn("[AUDIT] Failed to marshal webhook payload")
		return
	}

	// Detached from the caller: the transition that produced the event must
	// not wait on webhook delivery.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		for _, url := range s.urls {
			if err := s.submit(ctx, url, payload); err != nil {
				logrus.Warnf("[AUDIT] Failed forwarding event for job %s to %s: %v", event.JobID, url, err)
			}
		}
	}()
}

func (s *WebhookSink) submit(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		mac := hmac.New(sha256.New, []byte(s.secret))
		mac.Write(payload)
		req.Header.Set("X-Hub-Signature-256", fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil))))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
