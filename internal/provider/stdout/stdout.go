// Package stdout implements a Provider that prints messages to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/mailcompose/internal/email"
)

const separator = "========================================\n"

// Provider prints messages in a human-readable summary, or in full wire
// format when raw output is enabled.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
	raw    bool
}

// New creates a Provider that writes summaries to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w. When raw is set the
// complete RFC 5322 message is written instead of a summary.
func NewWithWriter(w io.Writer, raw bool) *Provider {
	return &Provider{writer: w, raw: raw}
}

// Send prints the message.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString(separator)
	if p.raw {
		if _, err := msg.WriteTo(&b); err != nil {
			return fmt.Errorf("failed to render message: %w", err)
		}
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
	} else {
		writeSummary(&b, msg)
	}
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func writeSummary(b *strings.Builder, msg *email.Message) {
	fmt.Fprintf(b, "Message-ID: <%s>\n", msg.MessageID())
	fmt.Fprintf(b, "Date: %s\n", msg.SentDate().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	fmt.Fprintf(b, "From: %s\n", msg.From().Formatted())
	fmt.Fprintf(b, "To: %s\n", join(msg.To()))

	if cc := msg.Cc(); len(cc) > 0 {
		fmt.Fprintf(b, "Cc: %s\n", join(cc))
	}
	if bcc := msg.Bcc(); len(bcc) > 0 {
		fmt.Fprintf(b, "Bcc: %s\n", join(bcc))
	}
	if replyTo := msg.ReplyTo(); len(replyTo) > 0 {
		fmt.Fprintf(b, "Reply-To: %s\n", join(replyTo))
	}

	fmt.Fprintf(b, "Subject: %s\n", msg.Subject())
	fmt.Fprintf(b, "Content-Type: %s; charset=%s\n", msg.Content().ContentType, msg.Charset())
	b.WriteString("Body:\n")
	b.WriteString(msg.Content().Body + "\n")

	if atts := msg.Attachments(); len(atts) > 0 {
		names := make([]string, 0, len(atts))
		for _, att := range atts {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Data))))
		}
		fmt.Fprintf(b, "Attachments: %s\n", strings.Join(names, ", "))
	}
}

func join(addrs []email.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Formatted())
	}
	return strings.Join(out, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
