package email

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// lookupCharset resolves a charset name using the WHATWG encoding labels.
func lookupCharset(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown charset %q", ErrInvalidArgument, name)
	}
	return enc, nil
}

// charsetEncoder returns an encoder from UTF-8 to charset, or nil when
// charset is UTF-8 and no conversion is needed. The encoder fails on runes
// outside the charset's repertoire.
func charsetEncoder(charset string) (*encoding.Encoder, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return nil, nil
	}
	return enc.NewEncoder(), nil
}
