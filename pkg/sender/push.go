package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coursekit/notify/pkg/notification"
)

// PushConfig holds the push gateway endpoint and credentials.
type PushConfig struct {
	GatewayURL string `env:"PUSH_GATEWAY_URL,required"`
	APIKey     string `env:"PUSH_API_KEY,required"`
}

// pushRequest is the gateway wire format: one device token, title, body.
type pushRequest struct {
	DeviceToken string `json:"device_token"`
	Title       string `json:"title,omitempty"`
	Body        string `json:"body"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
}

// PushSender delivers push notifications through an HTTP push gateway.
// The address passed to Send is the device token.
type PushSender struct {
	config PushConfig
	client *http.Client
}

// PushOption configures a PushSender.
type PushOption func(*PushSender)

// WithPushHTTPClient replaces the HTTP client used for gateway calls.
func WithPushHTTPClient(c *http.Client) PushOption {
	return func(s *PushSender) {
		if c != nil {
			s.client = c
		}
	}
}

// NewPushSender creates a gateway-backed push sender.
func NewPushSender(cfg PushConfig, opts ...PushOption) (*PushSender, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("%w: GatewayURL is required", ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: APIKey is required", ErrInvalidConfig)
	}
	s := &PushSender{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *PushSender) Channel() notification.Channel { return notification.ChannelPush }

// Send posts one push message to the gateway for the given device token.
func (s *PushSender) Send(ctx context.Context, address string, content Content) (*Result, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}

	payload, err := json.Marshal(pushRequest{
		DeviceToken: address,
		Title:       content.Subject,
		Body:        content.Body,
	})
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: gateway returned %d", ErrSendFailed, resp.StatusCode)
	}

	var out pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		// Some gateways reply with an empty body on success.
		return &Result{}, nil
	}
	return &Result{MessageID: out.MessageID}, nil
}
