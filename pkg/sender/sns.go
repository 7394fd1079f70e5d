package sender

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/coursekit/notify/pkg/notification"
)

// E.164: plus sign, up to 15 digits.
var phoneRegex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// snsAPI is the slice of the SNS client we use. Narrowed for test doubles.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender delivers SMS through AWS SNS.
type SNSSender struct {
	client snsAPI
}

// NewSNSSender creates an SNS-backed SMS sender using the default AWS
// credential chain.
func NewSNSSender(ctx context.Context, region string) (*SNSSender, error) {
	if region == "" {
		return nil, fmt.Errorf("%w: AWS region is required", ErrInvalidConfig)
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &SNSSender{client: sns.NewFromConfig(cfg)}, nil
}

// NewSNSSenderWithClient creates an SMS sender around an existing SNS
// client. Intended for tests and callers that manage AWS config
// themselves.
func NewSNSSenderWithClient(client snsAPI) *SNSSender {
	return &SNSSender{client: client}
}

func (s *SNSSender) Channel() notification.Channel { return notification.ChannelSMS }

// Send publishes one SMS to an E.164 phone number. Messages go out as
// Transactional so carriers prioritize them over promotional traffic.
func (s *SNSSender) Send(ctx context.Context, address string, content Content) (*Result, error) {
	if address == "" {
		return nil, ErrAddressRequired
	}
	if !phoneRegex.MatchString(address) {
		return nil, fmt.Errorf("%w: %q is not an E.164 phone number", ErrSendFailed, address)
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(address),
		Message:     aws.String(content.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return nil, errors.Join(ErrSendFailed, err)
	}

	var messageID string
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	return &Result{MessageID: messageID}, nil
}
