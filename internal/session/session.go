// Package session describes the transport session a built message is bound to:
// a property bag naming the mail host, port, socket timeouts and credentials.
// It holds configuration only; connections are opened by delivery providers.
package session

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Well-known property keys.
const (
	PropHost              = "mail.smtp.host"
	PropPort              = "mail.smtp.port"
	PropConnectionTimeout = "mail.smtp.connectiontimeout"
	PropTimeout           = "mail.smtp.timeout"
	PropFrom              = "mail.smtp.from"
	PropUser              = "mail.smtp.user"
	PropPassword          = "mail.smtp.password"
	PropTLSPolicy         = "mail.smtp.tlspolicy"
)

// DefaultPort is used when PropPort is missing or not a valid port number.
const DefaultPort = 25

// ErrNoHost indicates a session cannot be created without a mail host.
var ErrNoHost = errors.New("mail host not configured")

// Properties is the key/value configuration of a Session.
// Timeouts are expressed in milliseconds.
type Properties map[string]string

// Session is an immutable set of transport properties.
type Session struct {
	props Properties
}

// New creates a Session from a copy of props.
func New(props Properties) *Session {
	return &Session{props: maps.Clone(props)}
}

// Build creates a Session for the given host, port and socket timeouts.
// Zero timeouts are recorded as zero, meaning "no limit" to the transport.
func Build(host string, port int, connectionTimeout, timeout time.Duration) (*Session, error) {
	if host == "" {
		return nil, ErrNoHost
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	return New(Properties{
		PropHost:              host,
		PropPort:              strconv.Itoa(port),
		PropConnectionTimeout: strconv.FormatInt(connectionTimeout.Milliseconds(), 10),
		PropTimeout:           strconv.FormatInt(timeout.Milliseconds(), 10),
	}), nil
}

// Host returns the configured mail host, or "" if none is set.
func (s *Session) Host() string {
	return s.props[PropHost]
}

// Port returns the configured port, falling back to DefaultPort.
func (s *Session) Port() int {
	p, err := strconv.Atoi(s.props[PropPort])
	if err != nil || p <= 0 || p > 65535 {
		return DefaultPort
	}
	return p
}

// ConnectionTimeout returns the dial timeout, or zero when unset.
func (s *Session) ConnectionTimeout() time.Duration {
	return s.millis(PropConnectionTimeout)
}

// Timeout returns the socket I/O timeout, or zero when unset.
func (s *Session) Timeout() time.Duration {
	return s.millis(PropTimeout)
}

// Property returns a raw property value.
func (s *Session) Property(key string) (string, bool) {
	v, ok := s.props[key]
	return v, ok
}

// Properties returns a copy of all properties.
func (s *Session) Properties() Properties {
	return maps.Clone(s.props)
}

// With returns a copy of the session with key set to value.
func (s *Session) With(key, value string) *Session {
	props := maps.Clone(s.props)
	if props == nil {
		props = make(Properties)
	}
	props[key] = value
	return &Session{props: props}
}

func (s *Session) millis(key string) time.Duration {
	ms, err := strconv.ParseInt(s.props[key], 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
