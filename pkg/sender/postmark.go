package sender

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/mrz1836/postmark"

	"github.com/coursekit/notify/pkg/notification"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// PostmarkConfig holds the Postmark credentials and sender identity.
type PostmarkConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN,required"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN,required"`
	SenderEmail  string `env:"POSTMARK_SENDER_EMAIL,required"`
	SupportEmail string `env:"POSTMARK_SUPPORT_EMAIL,required"`
}

// postmarkAPI is the slice of the Postmark client we use. Narrowed for
// test doubles.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender delivers email through Postmark's transactional API.
type PostmarkSender struct {
	client postmarkAPI
	config PostmarkConfig
}

// NewPostmarkSender creates a Postmark-backed email sender. All tokens
// and addresses are required so misconfiguration fails at startup, not
// on the first send.
func NewPostmarkSender(cfg PostmarkConfig) (*PostmarkSender, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: ServerToken is required", ErrInvalidConfig)
	}
	if cfg.AccountToken == "" {
		return nil, fmt.Errorf("%w: AccountToken is required", ErrInvalidConfig)
	}
	if !emailRegex.MatchString(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if !emailRegex.MatchString(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}

	return &PostmarkSender{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config: cfg,
	}, nil
}

func (s *PostmarkSender) Channel() notification.Channel { return notification.ChannelEmail }

// Send delivers one email. Opens and HTML link clicks are tracked;
// Reply-To points at the support address so recipient replies reach a
// monitored inbox.
func (s *PostmarkSender) Send(ctx context.Context, address string, content Content) (*Result, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.config.SenderEmail,
		ReplyTo:    s.config.SupportEmail,
		To:         address,
		Subject:    content.Subject,
		HTMLBody:   content.HTMLBody,
		TextBody:   content.Body,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return nil, errors.Join(
			ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return &Result{MessageID: resp.MessageID}, nil
}
