// Package provider defines the interface for message delivery backends.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/metrics"
)

// Provider is the interface that delivery backends must implement.
// Each provider hands a built message to its target service
// (an SMTP relay, AWS SES, Microsoft Graph, Resend or stdout).
type Provider interface {
	// Send delivers a built message through this provider.
	// Providers make a single attempt and return its error.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// Deliver builds d if it has changed since its last build and sends the
// resulting message through p. The built message is returned even when
// sending fails.
func Deliver(ctx context.Context, p Provider, d *email.Draft) (*email.Message, error) {
	msg := d.Message()
	if d.State() != email.StateBuilt || msg == nil {
		var err error
		msg, err = d.Build()
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	err := p.Send(ctx, msg)
	metrics.RecordDelivery(p.Name(), err, time.Since(start))
	if err != nil {
		slog.Error("delivery failed",
			"provider", p.Name(),
			"message_id", msg.MessageID(),
			"error", err,
		)
		return msg, fmt.Errorf("%s: %w", p.Name(), err)
	}

	slog.Info("message delivered",
		"provider", p.Name(),
		"message_id", msg.MessageID(),
		"recipients", len(msg.Recipients()),
	)
	return msg, nil
}
