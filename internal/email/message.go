// Package email implements message composition: validated addresses and
// headers accumulate in a Draft, which Build freezes into an immutable
// Message bound to a transport session. MIME encoding is delegated to
// go-mail.
package email

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/shineum/mailcompose/internal/session"
)

// Message is the immutable result of a successful Draft.Build.
type Message struct {
	from        Address
	bounce      Address
	to          []Address
	cc          []Address
	bcc         []Address
	replyTo     []Address
	headers     map[string]string
	subject     string
	content     Content
	charset     string
	sentDate    time.Time
	messageID   string
	attachments []Attachment
	session     *session.Session
}

// From returns the From address.
func (m *Message) From() Address { return m.from }

// BounceAddress returns the envelope sender. It falls back to the From
// address when no bounce address was configured.
func (m *Message) BounceAddress() Address {
	if m.bounce.IsZero() {
		return m.from
	}
	return m.bounce
}

// To returns the To recipients.
func (m *Message) To() []Address { return append([]Address(nil), m.to...) }

// Cc returns the Cc recipients.
func (m *Message) Cc() []Address { return append([]Address(nil), m.cc...) }

// Bcc returns the Bcc recipients.
func (m *Message) Bcc() []Address { return append([]Address(nil), m.bcc...) }

// ReplyTo returns the Reply-To addresses.
func (m *Message) ReplyTo() []Address { return append([]Address(nil), m.replyTo...) }

// Recipients returns the bare envelope recipients: To, Cc then Bcc.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.to)+len(m.cc)+len(m.bcc))
	out = append(out, bareAddrs(m.to)...)
	out = append(out, bareAddrs(m.cc)...)
	out = append(out, bareAddrs(m.bcc)...)
	return out
}

// Headers returns a copy of the custom headers.
func (m *Message) Headers() map[string]string { return maps.Clone(m.headers) }

// Header returns a single custom header.
func (m *Message) Header(name string) (string, bool) {
	v, ok := m.headers[name]
	return v, ok
}

// Subject returns the subject line.
func (m *Message) Subject() string { return m.subject }

// Content returns the body and its MIME type.
func (m *Message) Content() Content { return m.content }

// IsHTML reports whether the body is text/html.
func (m *Message) IsHTML() bool { return m.content.ContentType == "text/html" }

// Charset returns the resolved charset.
func (m *Message) Charset() string { return m.charset }

// SentDate returns the Date header value.
func (m *Message) SentDate() time.Time { return m.sentDate }

// MessageID returns the Message-ID without angle brackets.
func (m *Message) MessageID() string { return m.messageID }

// Attachments returns the attachments.
func (m *Message) Attachments() []Attachment {
	return append([]Attachment(nil), m.attachments...)
}

// Session returns the transport session the message was built against.
func (m *Message) Session() *session.Session { return m.session }

// Msg encodes a fresh go-mail message for SMTP transport. Each call returns
// a new value, so delivery state kept by go-mail never reaches m.
func (m *Message) Msg() (*gomail.Msg, error) {
	msg, err := m.encode()
	if err != nil {
		return nil, &BuildError{Reason: ErrEncoding, Err: err}
	}
	return msg, nil
}

// WriteTo writes the message in RFC 5322 wire format.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	msg, err := m.Msg()
	if err != nil {
		return 0, err
	}
	return msg.WriteTo(w)
}

// Bytes returns the message in RFC 5322 wire format.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	return buf.Bytes(), nil
}

// encode assembles the go-mail representation of m.
func (m *Message) encode() (*gomail.Msg, error) {
	subject, body, err := m.transcode()
	if err != nil {
		return nil, err
	}

	msg := gomail.NewMsg(gomail.WithCharset(gomail.Charset(m.charset)))

	if err := msg.From(m.from.Formatted()); err != nil {
		return nil, err
	}
	if !m.bounce.IsZero() {
		if err := msg.EnvelopeFrom(m.bounce.Addr()); err != nil {
			return nil, err
		}
	}
	if len(m.to) > 0 {
		if err := msg.To(formatted(m.to)...); err != nil {
			return nil, err
		}
	}
	if len(m.cc) > 0 {
		if err := msg.Cc(formatted(m.cc)...); err != nil {
			return nil, err
		}
	}
	if len(m.bcc) > 0 {
		if err := msg.Bcc(formatted(m.bcc)...); err != nil {
			return nil, err
		}
	}
	if len(m.replyTo) > 0 {
		if err := msg.SetAddrHeader(gomail.HeaderReplyTo, formatted(m.replyTo)...); err != nil {
			return nil, err
		}
	}

	msg.Subject(subject)
	msg.SetDateWithValue(m.sentDate)
	msg.SetMessageIDWithValue(m.messageID)

	for _, name := range sortedKeys(m.headers) {
		msg.SetGenHeader(gomail.Header(name), m.headers[name])
	}

	msg.SetBodyString(gomail.ContentType(m.content.ContentType), body)

	for _, a := range m.attachments {
		var opts []gomail.FileOption
		if a.ContentType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}
		if err := msg.AttachReader(a.Filename, bytes.NewReader(a.Data), opts...); err != nil {
			return nil, fmt.Errorf("attach %q: %w", a.Filename, err)
		}
	}

	return msg, nil
}

// transcode returns the subject and body converted from UTF-8 to the
// message charset.
func (m *Message) transcode() (string, string, error) {
	enc, err := charsetEncoder(m.charset)
	if err != nil || enc == nil {
		return m.subject, m.content.Body, err
	}
	subject, err := enc.String(m.subject)
	if err != nil {
		return "", "", fmt.Errorf("subject is not representable in %s: %w", m.charset, err)
	}
	body, err := enc.String(m.content.Body)
	if err != nil {
		return "", "", fmt.Errorf("body is not representable in %s: %w", m.charset, err)
	}
	return subject, body, nil
}

func formatted(addrs []Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Formatted())
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	h := HeaderMap{m: m}
	return h.Names()
}
