package email

import (
	"fmt"
	"maps"
	"net/textproto"
	"slices"
)

// reservedHeaders are written from dedicated Draft fields and can not be
// set as custom headers.
var reservedHeaders = map[string]bool{
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
}

// HeaderMap holds custom message headers. Names are unique; a later Set
// for the same name replaces the earlier value.
type HeaderMap struct {
	m map[string]string
}

// Set stores value under name. Empty names or values, and names of headers
// the message writes itself (Date, Message-ID, From and so on), are rejected
// with ErrInvalidArgument and leave the map unchanged. Values are stored
// as-is; folding and encoding happen when the message is written.
func (h *HeaderMap) Set(name, value string) error {
	if name == "" {
		return fmt.Errorf("%w: header name can not be empty", ErrInvalidArgument)
	}
	if reservedHeaders[textproto.CanonicalMIMEHeaderKey(name)] {
		return fmt.Errorf("%w: header %q is set by the message itself", ErrInvalidArgument, name)
	}
	if value == "" {
		return fmt.Errorf("%w: header value can not be empty", ErrInvalidArgument)
	}
	if h.m == nil {
		h.m = make(map[string]string)
	}
	h.m[name] = value
	return nil
}

// Get returns the value stored for name.
func (h *HeaderMap) Get(name string) (string, bool) {
	v, ok := h.m[name]
	return v, ok
}

// Len returns the number of headers.
func (h *HeaderMap) Len() int {
	return len(h.m)
}

// All returns a copy of the headers. It is never nil.
func (h *HeaderMap) All() map[string]string {
	if h.m == nil {
		return map[string]string{}
	}
	return maps.Clone(h.m)
}

// Names returns the header names in sorted order.
func (h *HeaderMap) Names() []string {
	return slices.Sorted(maps.Keys(h.m))
}
