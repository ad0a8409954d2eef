package filter

import (
	"testing"
)

func TestFilter_Allows_IncludeMode(t *testing.T) {
	opts := Options{
		IncludeHeader: []string{"Subject: Test"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := []byte("Subject: Test Message\nFrom: sender@example.com\n")
	body := []byte("This is the message body")

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed (header matches)")
	}

	headerNoMatch := []byte("Subject: Other\nFrom: sender@example.com\n")
	if f.Allows(headerNoMatch, body) {
		t.Error("Expected message to be filtered out (header doesn't match)")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	opts := Options{
		ExcludeHeader: []string{"spam"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := []byte("Subject: Normal Message\nFrom: sender@example.com\n")
	body := []byte("This is the message body")

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed (no spam)")
	}

	headerSpam := []byte("Subject: This is spam\nFrom: spammer@example.com\n")
	if f.Allows(headerSpam, body) {
		t.Error("Expected message to be filtered out (contains spam)")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	opts := Options{
		IncludeHeader: []string{"test"},
		ExcludeHeader: []string{"spam"},
	}
	_, err := New(opts)
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	opts := Options{}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := []byte("Subject: Any Message\n")
	body := []byte("Any body content")

	if !f.Allows(header, body) {
		t.Error("Expected message to be allowed when no filters are active")
	}
}

func TestFilter_BodyFiltering(t *testing.T) {
	opts := Options{
		IncludeBody: []string{"important"},
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	header := []byte("Subject: Message\n")
	bodyMatch := []byte("This is an important message")
	bodyNoMatch := []byte("This is a regular message")

	if !f.Allows(header, bodyMatch) {
		t.Error("Expected message to be allowed (body matches)")
	}

	if f.Allows(header, bodyNoMatch) {
		t.Error("Expected message to be filtered out (body doesn't match)")
	}
}

func TestSplitRawMessage(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		wantHeader []byte
		wantBody   []byte
	}{
		{
			name:       "CRLF separator",
			raw:        []byte("Header: value\r\n\r\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "LF separator",
			raw:        []byte("Header: value\n\nBody content"),
			wantHeader: []byte("Header: value"),
			wantBody:   []byte("Body content"),
		},
		{
			name:       "No separator",
			raw:        []byte("All header content"),
			wantHeader: []byte("All header content"),
			wantBody:   nil,
		},
		{
			name:       "Empty message",
			raw:        []byte{},
			wantHeader: nil,
			wantBody:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotHeader, gotBody := SplitRawMessage(tt.raw)
			if string(gotHeader) != string(tt.wantHeader) {
				t.Errorf("SplitRawMessage() header = %q, want %q", gotHeader, tt.wantHeader)
			}
			if string(gotBody) != string(tt.wantBody) {
				t.Errorf("SplitRawMessage() body = %q, want %q", gotBody, tt.wantBody)
			}
		})
	}
}

func TestFilter_AllowsMessage(t *testing.T) {
	f, err := New(Options{ExcludeBody: []string{`(?i)unsubscribe`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.AllowsMessage([]byte("Subject: hi\r\n\r\nHello there")) {
		t.Error("Expected message to be allowed")
	}
	if f.AllowsMessage([]byte("Subject: news\r\n\r\nClick to Unsubscribe")) {
		t.Error("Expected newsletter to be filtered out")
	}
	if !f.AllowsMessage([]byte("Subject: unsubscribe request\r\n\r\nplease")) {
		t.Error("Expected header-only match to be allowed by body rule")
	}
}

func TestFilter_Hits(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{"From: .*@example.org", "Subject: alert"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	f.Allows([]byte("From: ops@example.org\n"), nil)
	f.Allows([]byte("From: ops@example.org\nSubject: alert\n"), nil)
	f.Allows([]byte("Subject: alert\n"), nil)

	hits := f.Hits()
	if len(hits) != 2 {
		t.Fatalf("Hits() returned %d entries, want 2", len(hits))
	}
	if hits[0].Hits != 2 || hits[1].Hits != 1 {
		t.Errorf("Hits() = %+v, want 2 and 1", hits)
	}
	if hits[0].List != "include-header" {
		t.Errorf("Hits()[0].List = %q", hits[0].List)
	}
}

func TestFilter_NilIsPermissive(t *testing.T) {
	var f *Filter
	if !f.Allows([]byte("x"), []byte("y")) {
		t.Error("Expected nil filter to allow everything")
	}
	if f.Hits() != nil {
		t.Error("Expected nil filter to have no hits")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeBody: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}
