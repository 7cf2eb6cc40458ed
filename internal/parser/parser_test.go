package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailcompose/internal/email"
)

func lines(l ...string) []byte {
	return []byte(strings.Join(l, "\r\n"))
}

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Date: Mon, 02 Jan 2006 15:04:05 -0700",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	)

	d, err := Parse(raw, "mx.example.com")
	require.NoError(t, err)

	require.NotNil(t, d.FromAddress())
	assert.Equal(t, "sender@example.com", d.FromAddress().Addr())
	require.Len(t, d.ToAddresses(), 1)
	assert.Equal(t, "recipient@example.com", d.ToAddresses()[0].Addr())
	assert.Equal(t, "Test Subject", d.Subject())
	assert.Equal(t, email.Content{Body: "Hello, this is a plain text email.", ContentType: "text/plain"}, d.Content())
	assert.Empty(t, d.Attachments())
	assert.Equal(t, "mx.example.com", *d.HostName())

	wantDate := time.Date(2006, 1, 2, 15, 4, 5, 0, time.FixedZone("", -7*3600))
	assert.True(t, wantDate.Equal(d.SentDate()))

	msg, err := d.Build()
	require.NoError(t, err)
	assert.Equal(t, "test123@example.com", msg.MessageID())
}

func TestParseWithoutHost(t *testing.T) {
	t.Parallel()

	d, err := Parse(lines("From: a@example.com", "To: b@example.com", "", "x"), "")
	require.NoError(t, err)
	assert.Nil(t, d.HostName())

	_, err = d.Build()
	assert.ErrorIs(t, err, email.ErrMissingHost)
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := lines(
		"From: sender@example.com",
		"To: alice@example.com, Bob <bob@example.com>",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html; charset=ISO-8859-1",
		"",
		"<html><body><p>HTML body, caf\xe9</p></body></html>",
		"--boundary123--",
	)

	d, err := Parse(raw, "localhost")
	require.NoError(t, err)

	to := d.ToAddresses()
	require.Len(t, to, 2)
	assert.Equal(t, "alice@example.com", to[0].Addr())
	assert.Equal(t, "bob@example.com", to[1].Addr())
	assert.Equal(t, "Bob", to[1].Name())
	require.Len(t, d.CcAddresses(), 1)
	assert.Equal(t, "carol@example.com", d.CcAddresses()[0].Addr())

	assert.Equal(t, "<html><body><p>HTML body, café</p></body></html>", d.Content().Body)
	assert.Equal(t, "text/html", d.Content().ContentType)
	assert.Equal(t, "UTF-8", d.Charset())
}

func TestParseEmailWithAttachments(t *testing.T) {
	t.Parallel()

	raw := lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixedboundary",
		"",
		"--mixedboundary",
		"Content-Type: text/plain",
		"",
		"Email body text",
		"--mixedboundary",
		`Content-Type: application/pdf; name="report.pdf"`,
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--mixedboundary--",
	)

	d, err := Parse(raw, "localhost")
	require.NoError(t, err)

	assert.Equal(t, "Email body text", d.Content().Body)
	atts := d.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, email.Attachment{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Data:        []byte("Hello World"),
	}, atts[0])
}

func TestParseMalformedMIME(t *testing.T) {
	t.Parallel()

	t.Run("completely invalid message", func(t *testing.T) {
		t.Parallel()

		_, err := Parse([]byte("not a valid email at all\x00\x01\x02"), "localhost")
		assert.Error(t, err)
	})

	t.Run("missing content type defaults to text/plain", func(t *testing.T) {
		t.Parallel()

		d, err := Parse(lines(
			"From: sender@example.com",
			"To: recipient@example.com",
			"Subject: No Content Type",
			"",
			"Body without content type header",
		), "localhost")
		require.NoError(t, err)
		assert.Equal(t, email.Content{Body: "Body without content type header", ContentType: "text/plain"}, d.Content())
	})

	t.Run("unparseable content type treated as text", func(t *testing.T) {
		t.Parallel()

		d, err := Parse(lines(
			"From: sender@example.com",
			"To: recipient@example.com",
			"Content-Type: ;;;",
			"",
			"still readable",
		), "localhost")
		require.NoError(t, err)
		assert.Equal(t, "still readable", d.Content().Body)
	})

	t.Run("multipart missing boundary", func(t *testing.T) {
		t.Parallel()

		_, err := Parse(lines(
			"From: sender@example.com",
			"To: recipient@example.com",
			"Content-Type: multipart/mixed",
			"",
			"some body",
		), "localhost")
		assert.Error(t, err)
	})
}

func TestParseInvalidAddressesSkipped(t *testing.T) {
	t.Parallel()

	d, err := Parse(lines(
		"From: not-an-address",
		"To: good@example.com",
		"Bcc: secret@example.com",
		"",
		"body",
	), "localhost")
	require.NoError(t, err)

	assert.Nil(t, d.FromAddress())
	assert.Len(t, d.ToAddresses(), 1)
	require.Len(t, d.BccAddresses(), 1)
	assert.Equal(t, "secret@example.com", d.BccAddresses()[0].Addr())

	_, err = d.Build()
	assert.ErrorIs(t, err, email.ErrMissingFrom)
}

func TestParseCustomHeaders(t *testing.T) {
	t.Parallel()

	d, err := Parse(lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=",
		"X-Custom-Header: custom-value",
		"X-Priority: 1",
		"Received: from somewhere",
		"MIME-Version: 1.0",
		"",
		"body",
	), "localhost")
	require.NoError(t, err)

	assert.Equal(t, "Grüße", d.Subject())
	assert.Equal(t, map[string]string{
		"X-Custom-Header": "custom-value",
		"X-Priority":      "1",
	}, d.Headers())
}

func TestParseQuotedPrintableBody(t *testing.T) {
	t.Parallel()

	d, err := Parse(lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=C3=A9 au lait, a long line that was =",
		"soft wrapped",
	), "localhost")
	require.NoError(t, err)
	assert.Equal(t, "café au lait, a long line that was soft wrapped", d.Content().Body)
	assert.Equal(t, "UTF-8", d.Charset())
}

func TestParseBase64AttachmentWithCRLF(t *testing.T) {
	t.Parallel()

	raw := []byte("From: sender@example.com\r\n" +
		"To: recipient@example.com\r\n" +
		"Subject: CRLF Base64\r\n" +
		"Content-Type: multipart/mixed; boundary=bound\r\n" +
		"\r\n" +
		"--bound\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n" +
		"--bound\r\n" +
		"Content-Type: application/pdf; name=\"file.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"file.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"SGVs\r\n" +
		"bG8g\r\n" +
		"V29y\r\n" +
		"bGQ=\r\n" +
		"--bound--\r\n")

	d, err := Parse(raw, "localhost")
	require.NoError(t, err)

	atts := d.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "file.pdf", atts[0].Filename)
	assert.Equal(t, "Hello World", string(atts[0].Data))
}

func TestParseAttachmentWithoutFilename(t *testing.T) {
	t.Parallel()

	d, err := Parse(lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: No Filename",
		"Content-Type: multipart/mixed; boundary=bound",
		"",
		"--bound",
		"Content-Type: text/plain",
		"",
		"body",
		"--bound",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--bound--",
	), "localhost")
	require.NoError(t, err)

	atts := d.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "attachment.pdf", atts[0].Filename)
	assert.Equal(t, "Hello World", string(atts[0].Data))
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	d, err := Parse(lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		`Content-Type: application/octet-stream; name="data.bin"`,
		`Content-Disposition: attachment; filename="data.bin"`,
		"",
		"binarydata",
		"--outer--",
	), "localhost")
	require.NoError(t, err)

	assert.Equal(t, "<p>HTML part</p>", d.Content().Body)
	atts := d.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "data.bin", atts[0].Filename)
	assert.Equal(t, "binarydata", string(atts[0].Data))
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	host := "localhost"
	src := email.NewDraft()
	src.SetHostName(&host)
	require.NoError(t, src.SetFrom("Sender Name <sender@example.com>"))
	require.NoError(t, src.AddTo("to@example.com"))
	require.NoError(t, src.AddCc("cc@example.com"))
	require.NoError(t, src.AddReplyTo("reply@example.com"))
	require.NoError(t, src.AddHeader("X-Ticket", "ABC-123"))
	src.SetSubject("Round trip ünïcödé subject that is long enough to be folded by the encoder")
	require.NoError(t, src.SetContent("line one\nline two with = sign and a rather long tail that needs soft wrapping in QP", "text/plain"))
	require.NoError(t, src.Attach("data.csv", "text/csv", []byte("a,b\n1,2\n")))

	built, err := src.Build()
	require.NoError(t, err)
	raw, err := built.Bytes()
	require.NoError(t, err)

	d, err := Parse(raw, "localhost")
	require.NoError(t, err)

	assert.Equal(t, "sender@example.com", d.FromAddress().Addr())
	assert.Equal(t, "Sender Name", d.FromAddress().Name())
	assert.Equal(t, "to@example.com", d.ToAddresses()[0].Addr())
	assert.Equal(t, "cc@example.com", d.CcAddresses()[0].Addr())
	assert.Equal(t, "reply@example.com", d.ReplyToAddresses()[0].Addr())
	assert.Equal(t, built.Subject(), d.Subject())
	assert.Equal(t, "ABC-123", d.Headers()["X-Ticket"])
	assert.Equal(t, "UTF-8", d.Charset())

	body := strings.ReplaceAll(d.Content().Body, "\r\n", "\n")
	assert.Equal(t, built.Content().Body, body)

	atts := d.Attachments()
	require.Len(t, atts, 1)
	assert.Equal(t, "data.csv", atts[0].Filename)
	assert.Equal(t, "a,b\n1,2\n", strings.ReplaceAll(string(atts[0].Data), "\r\n", "\n"))

	rebuilt, err := d.Build()
	require.NoError(t, err)
	assert.Equal(t, built.MessageID(), rebuilt.MessageID())
	assert.True(t, built.SentDate().Truncate(time.Second).Equal(rebuilt.SentDate()))
}

func TestParseLegacyCharsets(t *testing.T) {
	t.Parallel()

	raw := lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: =?windows-1252?Q?Caf=E9_=80?=",
		"Content-Type: text/plain; charset=ISO-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=E9",
	)

	d, err := Parse(raw, "mx.example.com")
	require.NoError(t, err)

	assert.Equal(t, "Café €", d.Subject())
	assert.Equal(t, "café", d.Content().Body)
	assert.Equal(t, "text/plain", d.Content().ContentType)
	assert.Equal(t, "UTF-8", d.Charset())
}

func TestParseUnknownCharsetKeepsBytes(t *testing.T) {
	t.Parallel()

	raw := lines(
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: =?x-unknown?Q?abc?=",
		"Content-Type: text/plain; charset=x-unknown",
		"",
		"plain body",
	)

	d, err := Parse(raw, "mx.example.com")
	require.NoError(t, err)

	assert.Equal(t, "=?x-unknown?Q?abc?=", d.Subject())
	assert.Equal(t, "plain body", d.Content().Body)
	assert.Empty(t, d.Charset())

	msg, err := d.Build()
	require.NoError(t, err)
	assert.Equal(t, "UTF-8", msg.Charset())
}
