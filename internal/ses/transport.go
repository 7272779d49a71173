// Package ses is the outbound email transport, backed by AWS SES v2.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/logger"
)

// Transport delivers one message and returns the provider message id.
// Failures are *TransportError and are retryable by the caller's task
// layer; the transport itself never retries.
type Transport interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (string, error)
}

// TransportError wraps a provider failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("email transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// sendEmailAPI is the single sesv2 call the client needs.
type sendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Client sends through AWS SES using the SDK v2.
type Client struct {
	api sendEmailAPI
}

// NewClient builds an SES client from static credentials.
func NewClient(ctx context.Context, accessKey, secretKey, region string) (*Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("ses credentials are required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Client{api: sesv2.NewFromConfig(cfg)}, nil
}

// NewClientWithAPI is used by tests to substitute the SES API.
func NewClientWithAPI(api sendEmailAPI) *Client {
	return &Client{api: api}
}

func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	result, err := c.api.SendEmail(ctx, input)
	if err != nil {
		return "", &TransportError{Err: err}
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	logger.Info("email sent", "recipient", msg.To, "message_id", messageID)
	return messageID, nil
}
