package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Address is a validated email address. It remembers the literal it was
// parsed from so String reproduces exactly what the caller supplied.
type Address struct {
	raw    string
	parsed *mail.Address
}

// ParseAddress validates s as a single RFC 5322 address. Both bare
// ("a@b.com") and display-name ("Alice <a@b.com>") forms are accepted.
func ParseAddress(s string) (Address, error) {
	if strings.TrimSpace(s) == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}

	local, domain, ok := strings.Cut(parsed.Address, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return Address{}, fmt.Errorf("%w %q: expected local-part@domain", ErrInvalidAddress, s)
	}

	return Address{raw: s, parsed: parsed}, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the address literal as originally supplied.
func (a Address) String() string {
	return a.raw
}

// Addr returns the bare addr-spec ("local@domain").
func (a Address) Addr() string {
	if a.parsed == nil {
		return ""
	}
	return a.parsed.Address
}

// Name returns the display name, if any.
func (a Address) Name() string {
	if a.parsed == nil {
		return ""
	}
	return a.parsed.Name
}

// Formatted returns the RFC 5322 header form, encoding the display name
// when needed.
func (a Address) Formatted() string {
	if a.parsed == nil {
		return ""
	}
	if a.parsed.Name == "" {
		return a.parsed.Address
	}
	return a.parsed.String()
}

// Normalized returns the comparison key: the addr-spec with the domain
// lower-cased. Local parts are case sensitive.
func (a Address) Normalized() string {
	local, domain, _ := strings.Cut(a.Addr(), "@")
	return local + "@" + strings.ToLower(domain)
}

// Equal reports whether two addresses name the same mailbox.
func (a Address) Equal(b Address) bool {
	return a.Normalized() == b.Normalized()
}

// Compare orders addresses by their normalized form.
func (a Address) Compare(b Address) int {
	return strings.Compare(a.Normalized(), b.Normalized())
}

// IsZero reports whether a was never parsed.
func (a Address) IsZero() bool {
	return a.parsed == nil
}

// AddressList is an append-only ordered list of addresses. Duplicates are kept.
type AddressList struct {
	addrs []Address
}

// Add validates s and appends it. On error the list is unchanged.
func (l *AddressList) Add(s string) error {
	addr, err := ParseAddress(s)
	if err != nil {
		return err
	}
	l.addrs = append(l.addrs, addr)
	return nil
}

// AddAll adds each address in order. It is not atomic: valid entries are
// appended even when others fail, and the returned error joins every failure.
func (l *AddressList) AddAll(addrs ...string) error {
	var errs []error
	for _, s := range addrs {
		if err := l.Add(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of addresses.
func (l *AddressList) Len() int {
	return len(l.addrs)
}

// Addresses returns a copy of the list in insertion order.
func (l *AddressList) Addresses() []Address {
	if len(l.addrs) == 0 {
		return nil
	}
	out := make([]Address, len(l.addrs))
	copy(out, l.addrs)
	return out
}

// Strings returns the original literals in insertion order.
func (l *AddressList) Strings() []string {
	return literals(l.addrs)
}

func literals(addrs []Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func bareAddrs(addrs []Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}
