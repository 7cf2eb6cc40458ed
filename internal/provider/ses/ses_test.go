package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

var _ provider.Provider = (*Provider)(nil)

type draftOption func(t *testing.T, d *email.Draft)

func buildMessage(t *testing.T, opts ...draftOption) *email.Message {
	t.Helper()

	host := "localhost"
	d := email.NewDraft()
	d.SetHostName(&host)
	require.NoError(t, d.SetFrom("Sender <sender@example.com>"))
	require.NoError(t, d.AddTo("to@example.com"))
	d.SetSubject("Test Subject")
	require.NoError(t, d.SetContent("Hello, World!", "text/plain"))
	for _, opt := range opts {
		opt(t, d)
	}

	msg, err := d.Build()
	require.NoError(t, err)
	return msg
}

func TestName(t *testing.T) {
	t.Parallel()

	p := NewWithClient(Config{}, &mockSESClient{})
	assert.Equal(t, "ses", p.Name())
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(Config{}, mock)

	require.NoError(t, p.Send(context.Background(), buildMessage(t)))
	assert.Equal(t, 1, mock.callCount)

	input := mock.lastInput
	require.NotNil(t, input.Content.Simple)
	assert.Equal(t, `"Sender" <sender@example.com>`, aws.ToString(input.FromEmailAddress))
	assert.Equal(t, "Test Subject", aws.ToString(input.Content.Simple.Subject.Data))
	assert.Equal(t, "UTF-8", aws.ToString(input.Content.Simple.Subject.Charset))
	assert.Equal(t, "Hello, World!", aws.ToString(input.Content.Simple.Body.Text.Data))
	assert.Nil(t, input.Content.Simple.Body.Html)
	assert.Nil(t, input.ConfigurationSetName)
}

func TestSend_SimpleHTMLEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(Config{}, mock)

	msg := buildMessage(t, func(t *testing.T, d *email.Draft) {
		require.NoError(t, d.SetContent("<h1>Hello</h1>", "text/html"))
	})
	require.NoError(t, p.Send(context.Background(), msg))

	body := mock.lastInput.Content.Simple.Body
	require.NotNil(t, body.Html)
	assert.Equal(t, "<h1>Hello</h1>", aws.ToString(body.Html.Data))
	assert.Nil(t, body.Text)
}

func TestSend_CharsetPropagates(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(Config{}, mock)

	msg := buildMessage(t, func(t *testing.T, d *email.Draft) {
		require.NoError(t, d.SetCharset("ISO-8859-1"))
	})
	require.NoError(t, p.Send(context.Background(), msg))
	assert.Equal(t, "ISO-8859-1", aws.ToString(mock.lastInput.Content.Simple.Body.Text.Charset))
}

func TestSend_WithRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(Config{}, mock)

	msg := buildMessage(t, func(t *testing.T, d *email.Draft) {
		require.NoError(t, d.AddTo("to2@example.com"))
		require.NoError(t, d.AddCc("cc@example.com"))
		require.NoError(t, d.AddBcc("bcc@example.com"))
		require.NoError(t, d.AddReplyTo("reply@example.com"))
	})
	require.NoError(t, p.Send(context.Background(), msg))

	input := mock.lastInput
	assert.Equal(t, []string{"to@example.com", "to2@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, []string{"cc@example.com"}, input.Destination.CcAddresses)
	assert.Equal(t, []string{"bcc@example.com"}, input.Destination.BccAddresses)
	assert.Equal(t, []string{"reply@example.com"}, input.ReplyToAddresses)
}

func TestSend_SenderOverride(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(Config{Sender: "noreply@example.com", ConfigurationSet: "tracking"}, mock)

	require.NoError(t, p.Send(context.Background(), buildMessage(t)))
	assert.Equal(t, "noreply@example.com", aws.ToString(mock.lastInput.FromEmailAddress))
	assert.Equal(t, "tracking", aws.ToString(mock.lastInput.ConfigurationSetName))
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(Config{}, mock)

	msg := buildMessage(t, func(t *testing.T, d *email.Draft) {
		require.NoError(t, d.Attach("test.txt", "text/plain", []byte("file content")))
		require.NoError(t, d.AddBcc("bcc@example.com"))
	})
	require.NoError(t, p.Send(context.Background(), msg))

	input := mock.lastInput
	require.NotNil(t, input.Content.Raw)
	assert.Nil(t, input.Content.Simple)
	assert.Equal(t, []string{"bcc@example.com"}, input.Destination.BccAddresses)

	raw := string(input.Content.Raw.Data)
	assert.Contains(t, raw, "Subject: Test Subject")
	assert.Contains(t, raw, "multipart/mixed")
	assert.Contains(t, raw, "test.txt")
	assert.NotContains(t, raw, "bcc@example.com")
}

func TestSend_CustomHeadersUseRaw(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(Config{}, mock)

	msg := buildMessage(t, func(t *testing.T, d *email.Draft) {
		require.NoError(t, d.AddHeader("X-Campaign", "spring"))
	})
	require.NoError(t, p.Send(context.Background(), msg))

	require.NotNil(t, mock.lastInput.Content.Raw)
	assert.Contains(t, string(mock.lastInput.Content.Raw.Data), "X-Campaign: spring")
}

func TestSend_SingleAttemptOnError(t *testing.T) {
	t.Parallel()

	apiErr := errors.New("throttled")
	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, apiErr
		},
	}
	p := NewWithClient(Config{}, mock)

	err := p.Send(context.Background(), buildMessage(t))
	assert.ErrorIs(t, err, apiErr)
	assert.Equal(t, 1, mock.callCount)
}
