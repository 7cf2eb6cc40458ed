package email

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailcompose/internal/metrics"
	"github.com/shineum/mailcompose/internal/session"
)

// Defaults applied by Build and NewDraft.
const (
	DefaultCharset       = "UTF-8"
	DefaultContentType   = "text/plain"
	DefaultSMTPPort      = session.DefaultPort
	DefaultSocketTimeout = 60 * time.Second
)

// State is the lifecycle position of a Draft.
type State int

const (
	// StateEmpty means nothing has been configured yet.
	StateEmpty State = iota
	// StateConfigured means the draft has been modified since creation or
	// since its last successful Build.
	StateConfigured
	// StateBuilt means the draft matches its last built Message.
	StateBuilt
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateConfigured:
		return "configured"
	case StateBuilt:
		return "built"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Content is a message body and its MIME type.
type Content struct {
	Body        string
	ContentType string
}

// Attachment is a file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Draft accumulates the parts of a message and turns them into an immutable
// Message on Build. A Draft is not safe for concurrent use.
type Draft struct {
	from        *Address
	bounce      *Address
	to          AddressList
	cc          AddressList
	bcc         AddressList
	replyTo     AddressList
	headers     HeaderMap
	subject     string
	content     Content
	charset     string
	sentDate    *time.Time
	messageID   string
	attachments []Attachment

	// charsetSet marks a charset chosen by SetCharset. One taken from a
	// content type parameter may be replaced by a later SetContent.
	charsetSet bool

	// hostSet distinguishes an explicit nil host from a host never set.
	hostName *string
	hostSet  bool

	smtpPort          int
	connectionTimeout time.Duration
	socketTimeout     time.Duration

	session     *session.Session
	ownsSession bool

	state   State
	message *Message
	now     func() time.Time
}

// NewDraft returns an empty draft with default port and socket timeouts.
func NewDraft() *Draft {
	return &Draft{
		smtpPort:          DefaultSMTPPort,
		connectionTimeout: DefaultSocketTimeout,
		socketTimeout:     DefaultSocketTimeout,
		now:               time.Now,
	}
}

// SetFrom sets the single From address, replacing any previous one.
func (d *Draft) SetFrom(addr string) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	d.from = &a
	d.touch()
	return nil
}

// SetBounceAddress sets the envelope sender. An empty string clears it.
func (d *Draft) SetBounceAddress(addr string) error {
	if addr == "" {
		d.bounce = nil
		d.dropOwnedSession()
		d.touch()
		return nil
	}
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	d.bounce = &a
	d.dropOwnedSession()
	d.touch()
	return nil
}

// AddTo appends To recipients. See AddressList.AddAll for partial failures.
func (d *Draft) AddTo(addrs ...string) error {
	return d.addAll(&d.to, addrs)
}

// AddCc appends Cc recipients.
func (d *Draft) AddCc(addrs ...string) error {
	return d.addAll(&d.cc, addrs)
}

// AddBcc appends Bcc recipients.
func (d *Draft) AddBcc(addrs ...string) error {
	return d.addAll(&d.bcc, addrs)
}

// AddReplyTo appends Reply-To addresses.
func (d *Draft) AddReplyTo(addrs ...string) error {
	return d.addAll(&d.replyTo, addrs)
}

func (d *Draft) addAll(list *AddressList, addrs []string) error {
	before := list.Len()
	err := list.AddAll(addrs...)
	if list.Len() != before {
		d.touch()
	}
	return err
}

// AddHeader sets a custom header. Empty names or values fail with
// ErrInvalidArgument.
func (d *Draft) AddHeader(name, value string) error {
	if err := d.headers.Set(name, value); err != nil {
		return err
	}
	d.touch()
	return nil
}

// SetSubject sets the subject line.
func (d *Draft) SetSubject(subject string) {
	d.subject = subject
	d.touch()
}

// SetContent sets the body and its MIME type. A charset parameter in
// contentType is adopted unless SetCharset chose one. Unknown charsets fail
// with ErrInvalidArgument and leave the draft unchanged.
func (d *Draft) SetContent(body, contentType string) error {
	mediaType := DefaultContentType
	var charset string
	if contentType != "" {
		mt, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			return fmt.Errorf("%w: content type %q: %v", ErrInvalidArgument, contentType, err)
		}
		mediaType = mt
		if cs := params["charset"]; cs != "" {
			if _, err := lookupCharset(cs); err != nil {
				return err
			}
			charset = cs
		}
	}
	if charset != "" && !d.charsetSet {
		d.charset = charset
	}
	d.content = Content{Body: body, ContentType: mediaType}
	d.touch()
	return nil
}

// SetCharset sets the charset the subject and body are encoded in. Unknown
// names fail with ErrInvalidArgument. An empty name restores the default.
func (d *Draft) SetCharset(charset string) error {
	if charset != "" {
		if _, err := lookupCharset(charset); err != nil {
			return err
		}
	}
	d.charset = charset
	d.charsetSet = charset != ""
	d.touch()
	return nil
}

// SetSentDate sets the Date header value. Nil resets it so the current time
// is used.
func (d *Draft) SetSentDate(t *time.Time) {
	if t == nil {
		d.sentDate = nil
	} else {
		v := *t
		d.sentDate = &v
	}
	d.touch()
}

// SetMessageID overrides the generated Message-ID. Angle brackets are optional.
func (d *Draft) SetMessageID(id string) {
	d.messageID = strings.Trim(strings.TrimSpace(id), "<>")
	d.touch()
}

// SetHostName sets the SMTP host. Passing nil records an explicit "no host",
// which HostName reports as nil even when a session is configured.
func (d *Draft) SetHostName(name *string) {
	if name == nil {
		d.hostName = nil
	} else {
		v := *name
		d.hostName = &v
	}
	d.hostSet = true
	d.dropOwnedSession()
	d.touch()
}

// SetSMTPPort sets the SMTP port.
func (d *Draft) SetSMTPPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidArgument, port)
	}
	d.smtpPort = port
	d.dropOwnedSession()
	d.touch()
	return nil
}

// SetSocketConnectionTimeout sets the dial timeout forwarded to the transport.
func (d *Draft) SetSocketConnectionTimeout(timeout time.Duration) {
	d.connectionTimeout = timeout
	d.dropOwnedSession()
	d.touch()
}

// SetSocketTimeout sets the socket I/O timeout forwarded to the transport.
func (d *Draft) SetSocketTimeout(timeout time.Duration) {
	d.socketTimeout = timeout
	d.dropOwnedSession()
	d.touch()
}

// SetMailSession assigns an externally owned session. It takes precedence
// over host, port and timeouts when building. Nil removes it.
func (d *Draft) SetMailSession(s *session.Session) {
	d.session = s
	d.ownsSession = false
	d.touch()
}

// Attach adds a file attachment. The data is copied.
func (d *Draft) Attach(filename, contentType string, data []byte) error {
	if filename == "" {
		return fmt.Errorf("%w: attachment filename can not be empty", ErrInvalidArgument)
	}
	d.attachments = append(d.attachments, Attachment{
		Filename:    filename,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	})
	d.touch()
	return nil
}

// FromAddress returns the From address, or nil if unset.
func (d *Draft) FromAddress() *Address {
	if d.from == nil {
		return nil
	}
	a := *d.from
	return &a
}

// BounceAddress returns the envelope sender, or nil if unset.
func (d *Draft) BounceAddress() *Address {
	if d.bounce == nil {
		return nil
	}
	a := *d.bounce
	return &a
}

// ToAddresses returns the To recipients in insertion order.
func (d *Draft) ToAddresses() []Address { return d.to.Addresses() }

// CcAddresses returns the Cc recipients in insertion order.
func (d *Draft) CcAddresses() []Address { return d.cc.Addresses() }

// BccAddresses returns the Bcc recipients in insertion order.
func (d *Draft) BccAddresses() []Address { return d.bcc.Addresses() }

// ReplyToAddresses returns the Reply-To addresses in insertion order.
func (d *Draft) ReplyToAddresses() []Address { return d.replyTo.Addresses() }

// Headers returns a copy of the custom headers.
func (d *Draft) Headers() map[string]string { return d.headers.All() }

// Subject returns the subject line.
func (d *Draft) Subject() string { return d.subject }

// Content returns the body and MIME type as set.
func (d *Draft) Content() Content { return d.content }

// Charset returns the explicitly set charset, or "" when the default applies.
func (d *Draft) Charset() string { return d.charset }

// Attachments returns the attachments added so far.
func (d *Draft) Attachments() []Attachment {
	return append([]Attachment(nil), d.attachments...)
}

// SentDate returns the configured sent date, or the current time if none
// has been set.
func (d *Draft) SentDate() time.Time {
	if d.sentDate == nil {
		if d.now == nil {
			return time.Now()
		}
		return d.now()
	}
	return *d.sentDate
}

// HostName returns the host name. An explicitly set value (including nil)
// is returned as-is; otherwise the host of the configured session, if any.
func (d *Draft) HostName() *string {
	if d.hostSet {
		if d.hostName == nil {
			return nil
		}
		v := *d.hostName
		return &v
	}
	if d.session != nil {
		if h, ok := d.session.Property(session.PropHost); ok {
			return &h
		}
	}
	return nil
}

// SMTPPort returns the SMTP port.
func (d *Draft) SMTPPort() int { return d.smtpPort }

// SocketConnectionTimeout returns the dial timeout.
func (d *Draft) SocketConnectionTimeout() time.Duration { return d.connectionTimeout }

// SocketTimeout returns the socket I/O timeout.
func (d *Draft) SocketTimeout() time.Duration { return d.socketTimeout }

// State returns the lifecycle state.
func (d *Draft) State() State { return d.state }

// Message returns the last successfully built message, or nil.
func (d *Draft) Message() *Message { return d.message }

// MailSession returns the assigned session, or creates one from the host
// name, port and timeouts. Creation fails with ErrMissingHost when no host
// name is set. A created session is reused until host, port, timeouts or
// bounce address change.
func (d *Draft) MailSession() (*session.Session, error) {
	if d.session != nil {
		return d.session, nil
	}

	host := d.HostName()
	if host == nil || *host == "" {
		return nil, &BuildError{Reason: ErrMissingHost}
	}

	port := d.smtpPort
	if port == 0 {
		port = DefaultSMTPPort
	}

	sess, err := session.Build(*host, port, d.connectionTimeout, d.socketTimeout)
	if err != nil {
		return nil, &BuildError{Reason: ErrMissingHost, Err: err}
	}
	if d.bounce != nil {
		sess = sess.With(session.PropFrom, d.bounce.Addr())
	}

	d.session = sess
	d.ownsSession = true
	return sess, nil
}

// Build validates the draft and freezes it into a Message. Validation order
// is host, From, then recipients. On failure the draft is left untouched and
// Build may be called again after fixing it. Every successful Build returns
// a new Message; earlier ones are never modified.
func (d *Draft) Build() (*Message, error) {
	msg, err := d.build()
	if err != nil {
		metrics.RecordBuild(buildOutcome(err))
		slog.Debug("message build failed", "error", err)
		return nil, err
	}

	metrics.RecordBuild(metrics.BuildOK)
	slog.Debug("message built",
		"message_id", msg.MessageID(),
		"recipients", len(msg.Recipients()),
		"host", msg.Session().Host(),
	)

	d.message = msg
	d.state = StateBuilt
	return msg, nil
}

func (d *Draft) build() (*Message, error) {
	sess, err := d.MailSession()
	if err != nil {
		return nil, err
	}
	if d.from == nil {
		return nil, &BuildError{Reason: ErrMissingFrom}
	}
	if d.to.Len()+d.cc.Len()+d.bcc.Len() == 0 {
		return nil, &BuildError{Reason: ErrMissingRecipient}
	}

	charset := d.charset
	if charset == "" {
		charset = DefaultCharset
	}

	content := d.content
	if content.ContentType == "" {
		content.ContentType = DefaultContentType
	}

	messageID := d.messageID
	if messageID == "" {
		messageID = uuid.NewString() + "@" + sess.Host()
	}

	m := &Message{
		from:        *d.from,
		to:          d.to.Addresses(),
		cc:          d.cc.Addresses(),
		bcc:         d.bcc.Addresses(),
		replyTo:     d.replyTo.Addresses(),
		headers:     d.headers.All(),
		subject:     d.subject,
		content:     content,
		charset:     charset,
		sentDate:    d.SentDate(),
		messageID:   messageID,
		attachments: d.Attachments(),
		session:     sess,
	}
	if d.bounce != nil {
		m.bounce = *d.bounce
	}

	if _, err := m.encode(); err != nil {
		return nil, &BuildError{Reason: ErrEncoding, Err: err}
	}

	return m, nil
}

func (d *Draft) touch() {
	d.state = StateConfigured
}

func (d *Draft) dropOwnedSession() {
	if d.ownsSession {
		d.session = nil
		d.ownsSession = false
	}
}

func buildOutcome(err error) string {
	switch {
	case errors.Is(err, ErrMissingHost):
		return metrics.BuildMissingHost
	case errors.Is(err, ErrMissingFrom):
		return metrics.BuildMissingFrom
	case errors.Is(err, ErrMissingRecipient):
		return metrics.BuildMissingRecipient
	default:
		return metrics.BuildFailed
	}
}
