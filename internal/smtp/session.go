package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/metrics"
	"github.com/shineum/mailcompose/internal/parser"
	"github.com/shineum/mailcompose/internal/provider"
)

type state int

const (
	stateConnected state = iota
	stateGreeted
	stateAuthenticated
	stateMail
	stateRcpt
)

// session is a single client connection running the SMTP state machine.
type session struct {
	srv       *Server
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	state     state
	tlsActive bool

	// current transaction
	mailFrom string
	rcptTo   []string
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// handle processes commands until the client quits, the connection fails
// or ctx is cancelled.
func (s *session) handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP mailcompose", s.srv.config.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(s.srv.config.IdleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read error", "remote", s.conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if s.handleCommand(ctx, cmd, arg) {
			return
		}
	}
}

// handleCommand processes one command and reports whether the session ends.
func (s *session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	if s.state < stateGreeted {
		s.state = stateGreeted
	}

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.srv.config.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.srv.config.Hostname, arg)
	if s.srv.config.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.srv.auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250-SIZE %d", s.srv.config.MaxMessageSize)
	s.writeLine("250 OK")
}

func (s *session) handleSTARTTLS() {
	if s.srv.config.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.srv.config.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	// RFC 3207: the client must greet again after the handshake.
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.resetTransaction()
}

func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.srv.auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthenticated {
		s.writeLine("503 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errAuthCancelled):
		s.writeLine("501 Authentication cancelled")
	case err != nil:
		slog.Warn("authentication failed", "remote", s.conn.RemoteAddr().String(), "mechanism", mechanism)
		s.writeLine("535 Authentication failed")
	default:
		s.state = stateAuthenticated
		s.writeLine("235 Authentication successful")
	}
}

var errAuthCancelled = errors.New("authentication cancelled")

func (s *session) authPlain(initial string) error {
	encoded := initial
	if encoded == "" {
		s.writeLine("334 ")
		line, err := s.readLine()
		if err != nil {
			return err
		}
		encoded = line
	}
	if encoded == "*" {
		return errAuthCancelled
	}
	return s.srv.auth.VerifyPlain(encoded)
}

func (s *session) authLogin() error {
	// "Username:" and "Password:" in base64.
	s.writeLine("334 VXNlcm5hbWU6")
	user, err := s.readLine()
	if err != nil {
		return err
	}
	if user == "*" {
		return errAuthCancelled
	}

	s.writeLine("334 UGFzc3dvcmQ6")
	pass, err := s.readLine()
	if err != nil {
		return err
	}
	if pass == "*" {
		return errAuthCancelled
	}
	return s.srv.auth.VerifyLogin(user, pass)
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.srv.auth.Enabled() && s.state < stateAuthenticated {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state >= stateMail {
		s.writeLine("503 Nested MAIL command")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr, ok := extractAddress(arg[len("FROM:"):])
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}
	if addr != "" {
		if _, err := email.ParseAddress(addr); err != nil {
			s.writeLine("553 Invalid sender address")
			return
		}
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMail
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMail {
		s.writeLine("503 Send MAIL FROM first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, ok := extractAddress(arg[len("TO:"):])
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}
	if _, err := email.ParseAddress(addr); err != nil {
		s.writeLine("553 Invalid recipient address")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcpt
	s.writeLine("250 OK")
}

func (s *session) handleDATA(ctx context.Context) {
	if s.state < stateRcpt {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, tooLarge, err := s.readData()
	if err != nil {
		slog.Error("error reading DATA", "error", err)
		return
	}
	defer s.resetTransaction()

	if tooLarge {
		metrics.RecordSink(metrics.SinkRejected)
		s.writeLine("552 Message exceeds maximum size of %d bytes", s.srv.config.MaxMessageSize)
		return
	}

	code, text := s.deliver(ctx, raw)
	s.writeLine("%d %s", code, text)
}

// readData reads a dot-terminated message body, undoing dot-stuffing. Once
// the size limit is exceeded the rest of the body is read and discarded.
func (s *session) readData() ([]byte, bool, error) {
	var buf strings.Builder
	tooLarge := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, false, err
		}

		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}

		if tooLarge {
			continue
		}
		if int64(buf.Len()+len(line)) > s.srv.config.MaxMessageSize {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}

	return []byte(buf.String()), tooLarge, nil
}

// deliver turns raw DATA into a message and hands it to the provider. It
// returns the SMTP reply for the client.
func (s *session) deliver(ctx context.Context, raw []byte) (int, string) {
	d, err := parser.Parse(raw, s.srv.config.Hostname)
	if err != nil {
		slog.Warn("failed to parse message", "error", err)
		metrics.RecordSink(metrics.SinkRejected)
		return 554, "Message could not be parsed"
	}
	if sess := s.srv.config.Session; sess != nil {
		d.SetMailSession(sess)
	}
	s.applyEnvelope(d)

	msg, err := d.Build()
	if err != nil {
		slog.Warn("rejecting message", "from", s.mailFrom, "error", err)
		metrics.RecordSink(metrics.SinkRejected)
		return 554, fmt.Sprintf("Message rejected: %v", err)
	}

	dedup := s.srv.config.Dedup
	if dedup != nil {
		isNew, err := dedup.IsNew(ctx, msg.MessageID())
		switch {
		case err != nil:
			slog.Warn("dedup check failed, delivering anyway", "message_id", msg.MessageID(), "error", err)
		case !isNew:
			slog.Info("duplicate message discarded", "message_id", msg.MessageID())
			metrics.RecordSink(metrics.SinkDuplicate)
			return 250, "OK duplicate discarded"
		}
	}

	if _, err := provider.Deliver(ctx, s.srv.config.Provider, d); err != nil {
		if dedup != nil {
			if ferr := dedup.Forget(ctx, msg.MessageID()); ferr != nil {
				slog.Warn("failed to clear dedup key", "message_id", msg.MessageID(), "error", ferr)
			}
		}
		metrics.RecordSink(metrics.SinkRejected)
		return 451, "Temporary failure, please try again later"
	}

	metrics.RecordSink(metrics.SinkAccepted)
	return 250, fmt.Sprintf("OK queued as <%s>", msg.MessageID())
}

// applyEnvelope fills in what the headers left out: the envelope sender
// becomes the From address when none was parsed and always the bounce
// address, and envelope recipients missing from the headers become Bcc.
func (s *session) applyEnvelope(d *email.Draft) {
	if s.mailFrom != "" {
		if d.FromAddress() == nil {
			if err := d.SetFrom(s.mailFrom); err != nil {
				slog.Warn("invalid envelope sender", "from", s.mailFrom, "error", err)
			}
		}
		if err := d.SetBounceAddress(s.mailFrom); err != nil {
			slog.Warn("invalid envelope sender", "from", s.mailFrom, "error", err)
		}
	}

	var known []email.Address
	known = append(known, d.ToAddresses()...)
	known = append(known, d.CcAddresses()...)
	known = append(known, d.BccAddresses()...)

	for _, rcpt := range s.rcptTo {
		addr, err := email.ParseAddress(rcpt)
		if err != nil {
			continue
		}
		if containsAddress(known, addr) {
			continue
		}
		if err := d.AddBcc(rcpt); err == nil {
			known = append(known, addr)
		}
	}
}

func containsAddress(list []email.Address, a email.Address) bool {
	for _, b := range list {
		if a.Equal(b) {
			return true
		}
	}
	return false
}

// resetTransaction clears the mail transaction without touching the
// greeting or authentication state.
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	switch {
	case s.state >= stateAuthenticated && s.srv.auth.Enabled():
		s.state = stateAuthenticated
	case s.state >= stateGreeted:
		s.state = stateGreeted
	}
}

func (s *session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeLine writes a formatted reply followed by CRLF.
func (s *session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits a command line into its upper-cased verb and argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), strings.TrimSpace(arg)
}

// extractAddress returns the address of a MAIL or RCPT parameter, with or
// without angle brackets. ESMTP parameters after the path are ignored. The
// null reverse-path "<>" yields an empty address.
func extractAddress(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", false
		}
		return s[1:end], true
	}

	addr, _, _ := strings.Cut(s, " ")
	return addr, addr != ""
}
