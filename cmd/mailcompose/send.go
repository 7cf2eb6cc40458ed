package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/provider"
)

// listFlag collects a repeatable or comma-separated flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// headerFlag collects repeatable "Name: value" pairs.
type headerFlag [][2]string

func (h *headerFlag) String() string { return fmt.Sprint(*h) }

func (h *headerFlag) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("header %q must be Name: value", v)
	}
	*h = append(*h, [2]string{strings.TrimSpace(name), strings.TrimSpace(value)})
	return nil
}

type sendOptions struct {
	from     string
	bounce   string
	to       listFlag
	cc       listFlag
	bcc      listFlag
	replyTo  listFlag
	subject  string
	body     string
	bodyFile string
	html     bool
	charset  string
	headers  headerFlag
	attach   listFlag
}

func parseSendFlags(args []string) (*sendOptions, error) {
	var o sendOptions

	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.StringVar(&o.from, "from", "", "sender address")
	fs.StringVar(&o.bounce, "bounce", "", "envelope sender for bounces")
	fs.Var(&o.to, "to", "recipient (repeatable or comma-separated)")
	fs.Var(&o.cc, "cc", "carbon-copy recipient")
	fs.Var(&o.bcc, "bcc", "blind carbon-copy recipient")
	fs.Var(&o.replyTo, "reply-to", "reply-to address")
	fs.StringVar(&o.subject, "subject", "", "message subject")
	fs.StringVar(&o.body, "body", "", "message body")
	fs.StringVar(&o.bodyFile, "body-file", "", "read the body from a file (- for stdin)")
	fs.BoolVar(&o.html, "html", false, "send the body as text/html")
	fs.StringVar(&o.charset, "charset", "", "body and header charset")
	fs.Var(&o.headers, "header", "custom header as \"Name: value\" (repeatable)")
	fs.Var(&o.attach, "attach", "file to attach (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.body != "" && o.bodyFile != "" {
		return nil, errors.New("-body and -body-file are mutually exclusive")
	}
	return &o, nil
}

// buildDraft composes a draft from the send options, bound to the outgoing
// SMTP settings of cfg. Invalid addresses and headers are reported together.
func buildDraft(cfg *config.Config, o *sendOptions, stdin io.Reader) (*email.Draft, error) {
	d := email.NewDraft()

	// Only the smtp provider connects to the host; the others still need
	// one for building.
	host := cfg.SMTP.Host
	if host == "" && resolveProvider(cfg) != config.ProviderSMTP {
		host = "localhost"
	}
	if host != "" {
		d.SetHostName(&host)
	}
	if err := d.SetSMTPPort(cfg.SMTP.Port); err != nil {
		return nil, err
	}
	d.SetSocketConnectionTimeout(cfg.SMTP.ConnectionTimeout)
	d.SetSocketTimeout(cfg.SMTP.Timeout)

	var errs []error
	if o.from != "" {
		errs = append(errs, d.SetFrom(o.from))
	}
	if o.bounce != "" {
		errs = append(errs, d.SetBounceAddress(o.bounce))
	}
	errs = append(errs,
		d.AddTo(o.to...),
		d.AddCc(o.cc...),
		d.AddBcc(o.bcc...),
		d.AddReplyTo(o.replyTo...),
	)
	for _, h := range o.headers {
		errs = append(errs, d.AddHeader(h[0], h[1]))
	}

	d.SetSubject(o.subject)
	if o.charset != "" {
		errs = append(errs, d.SetCharset(o.charset))
	}

	body, err := readBody(o, stdin)
	if err != nil {
		return nil, err
	}
	contentType := email.DefaultContentType
	if o.html {
		contentType = "text/html"
	}
	errs = append(errs, d.SetContent(body, contentType))

	for _, path := range o.attach {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		errs = append(errs, d.Attach(filepath.Base(path), attachmentType(path), data))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return d, nil
}

func readBody(o *sendOptions, stdin io.Reader) (string, error) {
	switch o.bodyFile {
	case "":
		return o.body, nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read body from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(o.bodyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read body file: %w", err)
		}
		return string(data), nil
	}
}

func attachmentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// runSend composes one message from flags, delivers it and prints its
// Message-ID.
func runSend(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	opts, err := parseSendFlags(args)
	if err != nil {
		return err
	}

	d, err := buildDraft(cfg, opts, os.Stdin)
	if err != nil {
		return err
	}

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	msg, err := provider.Deliver(ctx, prov, d)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "<%s>\n", msg.MessageID())
	return err
}
