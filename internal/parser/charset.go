package parser

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// charsetReader converts input in the named charset to UTF-8. It backs the
// encoded-word decoder for charsets the standard library does not know.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// toUTF8 transcodes a text body from the charset named in contentType and
// relabels the content type as UTF-8. Bodies in unknown charsets keep their
// bytes but lose the charset label, which a Draft would reject.
func toUTF8(body, contentType string) (string, string) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body, contentType
	}

	cs := strings.ToLower(params["charset"])
	if cs == "" || cs == "utf-8" || cs == "utf8" || cs == "us-ascii" {
		return body, contentType
	}

	enc, err := htmlindex.Get(cs)
	if err != nil {
		slog.Warn("unknown body charset, keeping raw bytes", "charset", cs)
		delete(params, "charset")
		return body, mime.FormatMediaType(mediaType, params)
	}
	decoded, err := enc.NewDecoder().String(body)
	if err != nil {
		slog.Warn("failed to transcode body", "charset", cs, "error", err)
		return body, contentType
	}

	params["charset"] = "UTF-8"
	return decoded, mime.FormatMediaType(mediaType, params)
}
