package email

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress indicates a malformed email address.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrInvalidArgument indicates an empty or reserved header name, an
	// empty header value or an unknown charset.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMissingHost indicates no host name or session is configured.
	ErrMissingHost = errors.New("cannot find valid hostname for mail session")

	// ErrMissingFrom indicates the From address is not set.
	ErrMissingFrom = errors.New("from address required")

	// ErrMissingRecipient indicates To, Cc and Bcc are all empty.
	ErrMissingRecipient = errors.New("at least one receiver address required")

	// ErrEncoding indicates the MIME encoder rejected a field, or the
	// subject or body can not be represented in the chosen charset.
	ErrEncoding = errors.New("failed to encode message")
)

// BuildError is returned by Draft.Build and Draft.MailSession.
// Reason is one of ErrMissingHost, ErrMissingFrom, ErrMissingRecipient or
// ErrEncoding; errors.Is matches against it.
type BuildError struct {
	Reason error
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build message: %v: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("build message: %v", e.Reason)
}

func (e *BuildError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Reason, e.Err}
	}
	return []error{e.Reason}
}
