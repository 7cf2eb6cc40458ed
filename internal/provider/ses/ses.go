// Package ses implements a Provider that sends messages via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailcompose/internal/email"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the From address of every message when set.
	Sender string
	// ConfigurationSet is passed through to SES when set.
	ConfigurationSet string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends messages via the AWS SES v2 API.
type Provider struct {
	sender    string
	configSet string
	client    SendEmailAPI
}

// New creates a Provider, loading AWS credentials from the environment
// unless a static key pair is configured.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		sender:    cfg.Sender,
		configSet: cfg.ConfigurationSet,
		client:    sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(cfg Config, client SendEmailAPI) *Provider {
	return &Provider{
		sender:    cfg.Sender,
		configSet: cfg.ConfigurationSet,
		client:    client,
	}
}

// Send delivers a message via AWS SES v2. Messages carrying attachments or
// custom headers are sent as raw MIME; everything else uses the simple
// content format.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	var input *sesv2.SendEmailInput

	if len(msg.Attachments()) > 0 || len(msg.Headers()) > 0 {
		raw, err := msg.Bytes()
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(p.from(msg)),
			Destination: &types.Destination{
				ToAddresses:  bare(msg.To()),
				CcAddresses:  bare(msg.Cc()),
				BccAddresses: bare(msg.Bcc()),
			},
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = p.buildSimpleInput(msg)
	}

	if p.configSet != "" {
		input.ConfigurationSetName = aws.String(p.configSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}

	slog.Debug("SES accepted message",
		"message_id", msg.MessageID(),
		"ses_message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

func (p *Provider) from(msg *email.Message) string {
	if p.sender != "" {
		return p.sender
	}
	return msg.From().Formatted()
}

// buildSimpleInput creates a SendEmailInput for messages without attachments.
func (p *Provider) buildSimpleInput(msg *email.Message) *sesv2.SendEmailInput {
	charset := aws.String(msg.Charset())
	content := msg.Content()

	body := &types.Body{}
	if msg.IsHTML() {
		body.Html = &types.Content{Data: aws.String(content.Body), Charset: charset}
	} else {
		body.Text = &types.Content{Data: aws.String(content.Body), Charset: charset}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.from(msg)),
		Destination: &types.Destination{
			ToAddresses:  formatted(msg.To()),
			CcAddresses:  formatted(msg.Cc()),
			BccAddresses: formatted(msg.Bcc()),
		},
		ReplyToAddresses: formatted(msg.ReplyTo()),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject()), Charset: charset},
				Body:    body,
			},
		},
	}
}

func formatted(addrs []email.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Formatted())
	}
	return out
}

func bare(addrs []email.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}
