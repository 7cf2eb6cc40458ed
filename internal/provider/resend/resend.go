// Package resend implements a Provider that sends messages via the Resend API.
package resend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/mailcompose/internal/email"
)

// Config holds Resend provider configuration.
type Config struct {
	APIKey string
	// Sender overrides the From address of every message when set.
	Sender string
}

// EmailsAPI is the subset of the Resend client used by Provider.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Provider sends messages via the Resend API.
type Provider struct {
	emails EmailsAPI
	sender string
}

// New creates a Provider.
func New(cfg Config) *Provider {
	return NewWithClient(cfg, resend.NewClient(cfg.APIKey).Emails)
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(cfg Config, emails EmailsAPI) *Provider {
	return &Provider{emails: emails, sender: cfg.Sender}
}

// Send implements provider.Provider.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	resp, err := p.emails.SendWithContext(ctx, buildRequest(p.sender, msg))
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	slog.Debug("resend accepted message",
		"message_id", msg.MessageID(),
		"resend_id", resp.Id,
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

func buildRequest(sender string, msg *email.Message) *resend.SendEmailRequest {
	from := sender
	if from == "" {
		from = msg.From().Formatted()
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      formatted(msg.To()),
		Cc:      formatted(msg.Cc()),
		Bcc:     formatted(msg.Bcc()),
		Subject: msg.Subject(),
		Headers: msg.Headers(),
	}

	if body := msg.Content().Body; msg.IsHTML() {
		req.Html = body
	} else {
		req.Text = body
	}

	// The API takes a single Reply-To.
	if replyTo := msg.ReplyTo(); len(replyTo) > 0 {
		req.ReplyTo = replyTo[0].Formatted()
	}

	if req.Headers == nil {
		req.Headers = make(map[string]string, 1)
	}
	req.Headers["Message-ID"] = "<" + msg.MessageID() + ">"

	for _, a := range msg.Attachments() {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Data,
			ContentType: a.ContentType,
		})
	}

	return req
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
