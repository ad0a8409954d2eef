// Package mimetext extracts a display-ready plain-text body from a raw
// multipart MIME message.
//
// The parser is deliberately pattern based: the boundary is located with a
// regular expression anywhere in the message, parts are split on the literal
// delimiter and only the text/plain parts are kept. Quoted-Printable is the
// only transfer encoding that is reversed.
package mimetext

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

var qpEscape = regexp.MustCompile(`=([0-9A-Fa-f]{2})`)

// DecodeUTF8 interprets raw as UTF-8. Invalid byte sequences are replaced with
// U+FFFD; it never fails.
func DecodeUTF8(raw []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(out)
}

// DecodeQuotedPrintable reverses Quoted-Printable transfer encoding.
// Soft line breaks ("=" CRLF) are dropped, every =XX escape becomes the byte
// XX and the result is read back as UTF-8. Escapes that are not followed by
// two hex digits are kept as literal text.
func DecodeQuotedPrintable(s string) string {
	s = strings.ReplaceAll(s, "=\r\n", "")
	if !strings.Contains(s, "=") {
		return s
	}

	decoded := qpEscape.ReplaceAllFunc([]byte(s), func(m []byte) []byte {
		b, err := hex.DecodeString(string(m[1:]))
		if err != nil {
			return m
		}
		return b
	})
	return DecodeUTF8(decoded)
}
