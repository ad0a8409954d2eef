package mimetext

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrBoundaryNotFound is returned when the message carries no
// boundary="..." parameter.
var ErrBoundaryNotFound = errors.New("boundary not found")

const (
	plainTextMarker = "Content-Type: text/plain"
	headerSeparator = "\r\n\r\n"
	partSeparator   = "\n\n"
)

var boundaryParam = regexp.MustCompile(`boundary="([^"]+)"`)

// Boundary returns the first boundary parameter found anywhere in text.
func Boundary(text string) (string, error) {
	m := boundaryParam.FindStringSubmatch(text)
	if m == nil {
		return "", ErrBoundaryNotFound
	}
	return m[1], nil
}

// SplitParts splits text on "--"+boundary and returns the fragments between
// the preamble and the closing delimiter, in message order.
func SplitParts(text, boundary string) []string {
	fragments := strings.Split(text, "--"+boundary)
	if len(fragments) < 3 {
		return nil
	}
	return fragments[1 : len(fragments)-1]
}

// PartBody splits a part at its first blank line. The marker search and the
// body both depend on it; a part without a blank line has no header block and
// no body, so ok is false.
func PartBody(part string) (header, body string, ok bool) {
	idx := strings.Index(part, headerSeparator)
	if idx < 0 {
		return "", "", false
	}
	return part[:idx], part[idx+len(headerSeparator):], true
}

// ExtractPlainParts returns the raw, still encoded bodies of every text/plain
// part of the message in order. A message whose parts are all non-text yields
// an empty result and no error.
func ExtractPlainParts(text string) ([]string, error) {
	boundary, err := Boundary(text)
	if err != nil {
		return nil, err
	}

	var bodies []string
	for _, part := range SplitParts(text, boundary) {
		header, body, ok := PartBody(part)
		if !ok || !strings.Contains(header, plainTextMarker) {
			continue
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

// ParseBody extracts, decodes and sanitizes every text/plain part and joins
// them, each followed by a blank line.
func ParseBody(text string) (string, error) {
	bodies, err := ExtractPlainParts(text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, body := range bodies {
		sb.WriteString(Sanitize(DecodeQuotedPrintable(body)))
		sb.WriteString(partSeparator)
	}
	return sb.String(), nil
}
