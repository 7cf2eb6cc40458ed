// Package parser turns raw RFC 5322 messages into drafts, with MIME multipart support.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/mailcompose/internal/email"
)

// structuralHeaders are set through dedicated Draft fields or regenerated on
// Build, so they are not copied as custom headers.
var structuralHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Date":                      true,
	"Message-Id":                true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Content-Disposition":       true,
	"Return-Path":               true,
	"Received":                  true,
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// Parse parses a raw message into a Draft bound to host. Address headers that
// fail validation are logged and skipped; the caller decides whether the
// resulting draft is complete by building it. When a message carries both a
// text and an HTML body, the HTML body wins.
func Parse(raw []byte, host string) (*email.Draft, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	d := email.NewDraft()
	if host != "" {
		d.SetHostName(&host)
	}

	if err := applyHeaders(d, msg.Header); err != nil {
		return nil, err
	}

	var p parts
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = email.DefaultContentType
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		p.text = &bodyPart{content: string(body), contentType: email.DefaultContentType}
	} else if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := p.parseMultipart(msg.Body, boundary); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
	} else {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		p.addBody(mediaType, contentType, string(body))
	}

	if err := p.apply(d); err != nil {
		return nil, err
	}
	return d, nil
}

func applyHeaders(d *email.Draft, h mail.Header) error {
	if from := h.Get("From"); from != "" {
		addrs := parseAddressList("From", from)
		if len(addrs) > 0 {
			if err := d.SetFrom(addrs[0]); err != nil {
				slog.Warn("skipping invalid From address", "value", from, "error", err)
			}
		}
	}

	addressHeaders := []struct {
		name string
		add  func(...string) error
	}{
		{"To", d.AddTo},
		{"Cc", d.AddCc},
		{"Bcc", d.AddBcc},
		{"Reply-To", d.AddReplyTo},
	}
	for _, ah := range addressHeaders {
		if err := ah.add(parseAddressList(ah.name, h.Get(ah.name))...); err != nil {
			slog.Warn("skipping invalid addresses", "header", ah.name, "error", err)
		}
	}

	d.SetSubject(decodeWords(h.Get("Subject")))

	if id := h.Get("Message-Id"); id != "" {
		d.SetMessageID(id)
	}
	if date, err := h.Date(); err == nil {
		d.SetSentDate(&date)
	}

	for name, values := range h {
		if structuralHeaders[name] || len(values) == 0 {
			continue
		}
		value := decodeWords(values[0])
		if value == "" {
			continue
		}
		if err := d.AddHeader(name, value); err != nil {
			return fmt.Errorf("header %s: %w", name, err)
		}
	}
	return nil
}

type bodyPart struct {
	content     string
	contentType string
}

type parts struct {
	text        *bodyPart
	html        *bodyPart
	attachments []email.Attachment
}

func (p *parts) addBody(mediaType, contentType, content string) {
	content, contentType = toUTF8(content, contentType)

	switch mediaType {
	case "text/html":
		if p.html == nil {
			p.html = &bodyPart{content: content, contentType: contentType}
		}
	case "text/plain":
		if p.text == nil {
			p.text = &bodyPart{content: content, contentType: contentType}
		}
	default:
		slog.Warn("unrecognized top-level content type", "content_type", mediaType)
		if p.text == nil {
			p.text = &bodyPart{content: content, contentType: email.DefaultContentType}
		}
	}
}

func (p *parts) apply(d *email.Draft) error {
	body := p.html
	if body == nil {
		body = p.text
	}
	if body != nil {
		if err := d.SetContent(body.content, body.contentType); err != nil {
			return err
		}
	}

	for _, a := range p.attachments {
		if err := d.Attach(a.Filename, a.ContentType, a.Data); err != nil {
			return err
		}
	}
	return nil
}

// parseMultipart processes a multipart MIME body, collecting text/plain and
// text/html parts and attachments.
func (p *parts) parseMultipart(body io.Reader, boundary string) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = email.DefaultContentType
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nested := params["boundary"]
			if nested == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := p.parseMultipart(part, nested); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		if strings.HasPrefix(strings.ToLower(disposition), "attachment") {
			filename := extractFilename(part, params)
			if filename == "" {
				filename = fallbackFilename(mediaType)
			}
			p.attachments = append(p.attachments, email.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Data:        content,
			})
			continue
		}

		switch mediaType {
		case "text/plain", "text/html":
			p.addBody(mediaType, partContentType, string(content))
		default:
			if filename := extractFilename(part, params); filename != "" {
				p.attachments = append(p.attachments, email.Attachment{
					Filename:    filename,
					ContentType: mediaType,
					Data:        content,
				})
			} else {
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
					"disposition", disposition,
				)
			}
		}
	}

	return nil
}

// decodeBody reads r and reverses its Content-Transfer-Encoding. The
// multipart reader already strips quoted-printable from parts, so only the
// top-level body normally needs it.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// extractFilename returns the filename of a MIME part from its
// Content-Disposition or Content-Type "name" parameter, or "" if neither is set.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name := params["name"]; name != "" {
		return decodeWords(name)
	}
	return ""
}

// fallbackFilename names an attachment that carries no filename, since
// attachments and some provider APIs require one.
func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

// parseAddressList splits an address header into individual addresses.
func parseAddressList(header, raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		slog.Warn("falling back to comma split for address header",
			"header", header,
			"error", err,
		)
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}

	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a.Name == "" {
			out = append(out, a.Address)
		} else {
			out = append(out, a.String())
		}
	}
	return out
}

func decodeWords(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
