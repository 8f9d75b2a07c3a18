// Package ses sends rendered messages through Amazon SES v2 as an
// alternative to the Gmail API transport.
package ses

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/sending"
)

// API is the subset of the SES v2 client used by Transport.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport implements sending.Transport over SES raw sends. The sending
// identity comes from the credential's mailbox address, which must be
// verified in SES. SES has no conversation threads, so ThreadID in the
// result echoes the request's.
type Transport struct {
	client           API
	configurationSet string
}

var _ sending.Transport = (*Transport)(nil)

// Config holds SES transport settings.
type Config struct {
	Region           string
	AccessKey        string
	SecretKey        string
	ConfigurationSet string
	Timeout          time.Duration
}

// NewTransport builds an SES transport. With empty static keys the default
// AWS credential chain is used.
func NewTransport(ctx context.Context, cfg Config) (*Transport, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Timeout > 0 {
		opts = append(opts, config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(cfg.Timeout)))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewTransportWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewTransportWithClient wraps an existing SES client.
func NewTransportWithClient(client API, configurationSet string) *Transport {
	return &Transport{client: client, configurationSet: configurationSet}
}

// Send submits the raw message.
func (t *Transport) Send(ctx context.Context, cred *domain.Credential, req *sending.SendRequest) (*sending.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(cred.Email),
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: req.Raw},
		},
	}
	if req.Recipient != "" {
		input.Destination = &types.Destination{ToAddresses: []string{req.Recipient}}
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send: %w", err)
	}

	result := &sending.SendResult{ThreadID: req.ThreadID}
	if out.MessageId != nil {
		result.TransportMessageID = *out.MessageId
	}
	if result.ThreadID == "" {
		result.ThreadID = result.TransportMessageID
	}
	logger.Debug("ses sent", "recipient", req.Recipient, "message_id", result.TransportMessageID)
	return result, nil
}
