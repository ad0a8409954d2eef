package mimetext

import (
	"regexp"
	"strings"
)

var (
	markupEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")
	indentAfterLF = regexp.MustCompile(`\n[ \t]*`)
	repeatedLF    = regexp.MustCompile(`\n+`)
)

// EscapeMarkup replaces < and > so the text is safe inside Telegram HTML.
func EscapeMarkup(s string) string {
	return markupEscaper.Replace(s)
}

// Sanitize normalizes a decoded part body for display: CRLF becomes LF, angle
// brackets are escaped, indentation after each line feed is removed, runs of
// line feeds collapse to one and surrounding whitespace is trimmed.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = EscapeMarkup(s)
	s = indentAfterLF.ReplaceAllString(s, "\n")
	s = repeatedLF.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}
