package model

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/mail-to-telegram/collect"
)

// Header looks up message header fields by name.
type Header interface {
	Get(key string) string
}

// InboundEmail is one email event handed to the forwarding pipeline.
type InboundEmail struct {
	ID         string
	To         string
	Header     Header
	Source     collect.ChunkSource
	Raw        []byte
	Hash       string
	ReceivedAt time.Time
}

// Envelope wraps an email alongside an optional error encountered by the source.
type Envelope struct {
	Email InboundEmail
	Err   error
}

// Notification is the payload delivered to the chat.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// NewBufferedEmail builds an InboundEmail from a message that is already in
// memory. Header, recipient, id and hash are derived from raw.
func NewBufferedEmail(raw []byte) InboundEmail {
	header := ParseHeader(raw)
	email := InboundEmail{
		ID:     MessageID(header),
		To:     Recipient(header),
		Header: header,
		Source: collect.FromBytes(raw),
		Raw:    raw,
		Hash:   Hash(raw),
	}
	mh := mail.Header{Header: message.Header{Header: *header}}
	if t, err := mh.Date(); err == nil {
		email.ReceivedAt = t
	}
	return email
}

// ParseHeader reads the header block at the start of raw. Malformed headers
// yield an empty header rather than an error.
func ParseHeader(raw []byte) *textproto.Header {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return &textproto.Header{}
	}
	return &h
}

// Recipient picks the address the message was delivered to.
func Recipient(h Header) string {
	if h == nil {
		return ""
	}
	for _, key := range []string{"X-Original-To", "Delivered-To", "To"} {
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			return v
		}
	}
	return ""
}

// MessageID returns the Message-Id without angle brackets.
func MessageID(h Header) string {
	if h == nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(h.Get("Message-Id")), " <>")
}

// Hash returns the base64 sha256 of raw, used to detect already forwarded mail.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:])
}
