package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Filter decides which raw messages get forwarded.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader []*rule
	includeBody   []*rule
	excludeHeader []*rule
	excludeBody   []*rule

	mu sync.Mutex
}

type rule struct {
	re   *regexp.Regexp
	hits int
}

// Hit is the number of messages a single pattern matched.
type Hit struct {
	Pattern string
	List    string
	Hits    int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compileRules(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compileRules(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compileRules(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compileRules(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeHeader: includeHeader,
		includeBody:   includeBody,
		excludeHeader: excludeHeader,
		excludeBody:   excludeBody,
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && (f.includeMode || f.excludeMode)
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(header, body []byte) bool {
	if !f.Active() {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.includeMode {
		h := matchAny(f.includeHeader, header)
		b := matchAny(f.includeBody, body)
		return h || b
	}

	if matchAny(f.excludeHeader, header) || matchAny(f.excludeBody, body) {
		return false
	}
	return true
}

// AllowsMessage splits raw at the first blank line and applies Allows.
func (f *Filter) AllowsMessage(raw []byte) bool {
	header, body := SplitRawMessage(raw)
	return f.Allows(header, body)
}

// Hits lists every pattern with the number of messages it matched.
func (f *Filter) Hits() []Hit {
	if f == nil {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var hits []Hit
	for _, list := range []struct {
		name  string
		rules []*rule
	}{
		{"include-header", f.includeHeader},
		{"include-body", f.includeBody},
		{"exclude-header", f.excludeHeader},
		{"exclude-body", f.excludeBody},
	} {
		for _, r := range list.rules {
			hits = append(hits, Hit{Pattern: r.re.String(), List: list.name, Hits: r.hits})
		}
	}
	return hits
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compileRules(patterns []string) ([]*rule, error) {
	compiled := make([]*rule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, &rule{re: re})
	}
	return compiled, nil
}

// matchAny counts a hit on the first matching rule. Callers hold f.mu.
func matchAny(rules []*rule, text []byte) bool {
	for _, r := range rules {
		if r.re.Match(text) {
			r.hits++
			return true
		}
	}
	return false
}
