package telegram

import (
	"strings"
	"unicode/utf8"

	"github.com/dhcgn/mail-to-telegram/mimetext"
	"github.com/dhcgn/mail-to-telegram/model"
)

const (
	// MaxMessageLength is the sendMessage text limit in characters.
	MaxMessageLength = 4096
	separatorRule    = "————————————————————"
	ellipsis         = "…"

	maxRecipientLength = 256
	maxSubjectLength   = 1024
)

// Format renders n as Telegram HTML: recipient line, bold subject, a rule and
// the body. Recipient and subject are capped and the body is cut so the whole
// text fits MaxMessageLength.
func Format(n model.Notification) string {
	var sb strings.Builder
	sb.WriteString("To: ")
	sb.WriteString(truncate(mimetext.EscapeMarkup(n.Recipient), maxRecipientLength))
	sb.WriteString("\n<b>Subject: ")
	sb.WriteString(truncate(mimetext.EscapeMarkup(n.Subject), maxSubjectLength))
	sb.WriteString("</b>\n")
	sb.WriteString(separatorRule)
	sb.WriteString("\n")

	head := sb.String()
	sb.WriteString(truncate(n.Body, MaxMessageLength-utf8.RuneCountInString(head)))
	return sb.String()
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	keep := limit - utf8.RuneCountInString(ellipsis)
	cut := s
	for i := range s {
		if keep == 0 {
			cut = s[:i]
			break
		}
		keep--
	}

	if amp := strings.LastIndexByte(cut, '&'); amp >= 0 && partialEntity(cut[amp:]) {
		cut = cut[:amp]
	}
	return cut + ellipsis
}

// partialEntity reports whether tail is the start of an escape the sanitizer
// writes, such as "&l" or "&gt". A bare "&" followed by text is not.
func partialEntity(tail string) bool {
	if len(tail) >= len("&lt;") {
		return false
	}
	return strings.HasPrefix("&lt;", tail) || strings.HasPrefix("&gt;", tail)
}
