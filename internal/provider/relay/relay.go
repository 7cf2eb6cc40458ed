// Package relay implements a Provider that delivers messages to the SMTP
// server named by each message's session.
package relay

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/session"
	mailtls "github.com/shineum/mailcompose/internal/tls"
)

// TLS policy names accepted by Config and session.PropTLSPolicy.
const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

// Config holds defaults applied when a session does not carry its own
// credentials or TLS policy.
type Config struct {
	Username           string
	Password           string
	TLSPolicy          string
	InsecureSkipVerify bool
}

// Provider sends messages over SMTP. Connections are opened per message and
// closed after the transaction.
type Provider struct {
	cfg Config
}

// New creates a Provider.
func New(cfg Config) (*Provider, error) {
	if _, err := ParseTLSPolicy(cfg.TLSPolicy); err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg}, nil
}

// ParseTLSPolicy maps a policy name to its go-mail value. Empty means
// mandatory.
func ParseTLSPolicy(name string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TLSMandatory:
		return gomail.TLSMandatory, nil
	case TLSOpportunistic:
		return gomail.TLSOpportunistic, nil
	case TLSNone:
		return gomail.NoTLS, nil
	default:
		return gomail.NoTLS, fmt.Errorf("unknown TLS policy %q", name)
	}
}

// Send opens a connection to the session host and delivers msg. Envelope
// recipients are the To, Cc and Bcc addresses; the envelope sender is the
// bounce address when one is set.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	client, err := p.client(msg.Session())
	if err != nil {
		return err
	}

	m, err := msg.Msg()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp delivery to %s:%d failed: %w",
			msg.Session().Host(), msg.Session().Port(), err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

func (p *Provider) client(sess *session.Session) (*gomail.Client, error) {
	if sess == nil || sess.Host() == "" {
		return nil, session.ErrNoHost
	}

	policyName := p.cfg.TLSPolicy
	if v, ok := sess.Property(session.PropTLSPolicy); ok {
		policyName = v
	}
	policy, err := ParseTLSPolicy(policyName)
	if err != nil {
		return nil, err
	}

	opts := []gomail.Option{
		gomail.WithPort(sess.Port()),
		gomail.WithTLSPolicy(policy),
		gomail.WithTLSConfig(mailtls.ClientConfig(sess.Host(), p.cfg.InsecureSkipVerify)),
	}

	// go-mail applies one timeout to dialing and to each command.
	timeout := sess.Timeout()
	if timeout <= 0 {
		timeout = sess.ConnectionTimeout()
	}
	if timeout > 0 {
		opts = append(opts, gomail.WithTimeout(timeout))
	}

	user, password := p.cfg.Username, p.cfg.Password
	if v, ok := sess.Property(session.PropUser); ok {
		user = v
		password, _ = sess.Property(session.PropPassword)
	}
	if user != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(user),
			gomail.WithPassword(password),
		)
	}

	client, err := gomail.NewClient(sess.Host(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client, nil
}
