package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/dhcgn/mail-to-telegram/model"
)

func TestFormat(t *testing.T) {
	got := Format(model.Notification{
		Recipient: "alerts@example.org",
		Subject:   "Disk <90%> full",
		Body:      "Hello World\n\n",
	})

	want := "To: alerts@example.org\n" +
		"<b>Subject: Disk &lt;90%&gt; full</b>\n" +
		separatorRule + "\n" +
		"Hello World\n\n"
	assert.Equal(t, want, got)
}

func TestFormat_TruncatesLongBody(t *testing.T) {
	body := strings.Repeat("ж", MaxMessageLength*2)
	got := Format(model.Notification{Recipient: "r", Subject: "s", Body: body})

	assert.Equal(t, MaxMessageLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, ellipsis))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdefgh", 4))
	assert.Equal(t, "", truncate("abc", 0))
	assert.Equal(t, "a &lt; b…", truncate("a &lt; b &gt; c", 9))
	assert.Equal(t, "ab…", truncate("ab&gt;cdef", 5))
	assert.Equal(t, "ab…", truncate("ab&lt;cdef", 4))
	assert.Equal(t, "AT&T rules…", truncate("AT&T rules the world", 11))
	assert.Equal(t, "q?a=1&b…", truncate("q?a=1&b=2&c=3", 8))
}

func TestFormat_BareAmpersandKeepsBody(t *testing.T) {
	body := "AT&T outage report: " + strings.Repeat("x", 6000)
	got := Format(model.Notification{Recipient: "r", Subject: "s", Body: body})

	assert.Equal(t, MaxMessageLength, utf8.RuneCountInString(got))
	assert.Contains(t, got, "AT&T outage report: xxx")
	assert.True(t, strings.HasSuffix(got, "x"+ellipsis))
}

func TestFormat_LongHeaderFieldsStayWithinLimit(t *testing.T) {
	got := Format(model.Notification{
		Recipient: strings.Repeat("r", 5000),
		Subject:   strings.Repeat("<s>", 5000),
		Body:      strings.Repeat("b", 5000),
	})

	assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxMessageLength)
	assert.Contains(t, got, "</b>\n"+separatorRule)
	assert.NotContains(t, got, "&l…")
	assert.NotContains(t, got, "&g…")
	assert.Contains(t, got, "b"+ellipsis)
}
