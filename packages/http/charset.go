package http

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultCharset is used when a caller passes an empty charset.
const DefaultCharset = "UTF-8"

func lookupEncoding(charset string) (encoding.Encoding, error) {
	if strings.TrimSpace(charset) == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharset, charset)
	}
	return enc, nil
}

// decodeBytes converts body bytes in the given charset to a Go string.
func decodeBytes(b []byte, charset string) (string, error) {
	enc, err := lookupEncoding(charset)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decoding %s body: %w", charset, err)
	}
	return string(out), nil
}

// encodeString converts s to the given charset.
func encodeString(s, charset string) (string, error) {
	enc, err := lookupEncoding(charset)
	if err != nil {
		return "", err
	}
	out, err := enc.NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("encoding to %s: %w", charset, err)
	}
	return out, nil
}

// encodeForm serializes params as application/x-www-form-urlencoded with names
// and values transcoded to charset before escaping.
func encodeForm(params []Param, charset string) (string, error) {
	var b strings.Builder
	for i, p := range params {
		name, err := encodeString(p.Name, charset)
		if err != nil {
			return "", err
		}
		value, err := encodeString(p.Value, charset)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}
	return b.String(), nil
}
