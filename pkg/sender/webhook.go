package sender

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coursekit/notify/pkg/notification"
)

// webhookEnvelope is the JSON body posted to the receiver.
type webhookEnvelope struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject,omitempty"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookSender posts rendered notifications as signed JSON to a
// receiver-owned URL. The address passed to Send is the destination URL.
type WebhookSender struct {
	secret string
	client *http.Client
	now    func() time.Time
}

// WebhookOption configures a WebhookSender.
type WebhookOption func(*WebhookSender)

// WithHTTPClient replaces the HTTP client, e.g. to adjust timeouts.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookSender) {
		if c != nil {
			s.client = c
		}
	}
}

// NewWebhookSender creates a webhook sender. The secret signs every
// request so receivers can authenticate the payload.
func NewWebhookSender(secret string, opts ...WebhookOption) (*WebhookSender, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: signing secret is required", ErrInvalidConfig)
	}
	s := &WebhookSender{
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *WebhookSender) Channel() notification.Channel { return notification.ChannelWebhook }

// Send posts the content to the given URL. The request carries
// X-Webhook-Signature (HMAC-SHA256 over "timestamp.payload"),
// X-Webhook-Timestamp, and X-Webhook-ID headers so receivers can verify
// authenticity and reject replays. Any non-2xx response is a send failure.
func (s *WebhookSender) Send(ctx context.Context, address string, content Content) (*Result, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}
	target, err := url.Parse(address)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: %q is not a valid webhook URL", ErrSendFailed, address)
	}

	messageID := uuid.New().String()
	payload, err := json.Marshal(webhookEnvelope{
		ID:      messageID,
		Subject: content.Subject,
		Body:    content.Body,
		SentAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}

	timestamp := s.now().Unix()
	mac := hmac.New(sha256.New, []byte(s.secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Webhook-ID", messageID)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: receiver returned %d", ErrSendFailed, resp.StatusCode)
	}
	return &Result{MessageID: messageID}, nil
}
