package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Options captures the filtering configuration. Body patterns are matched
// against the extracted reply text, not the raw message body.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

// Stats reports how often each pattern matched.
type Stats struct {
	IncludeHeaderPatterns []string
	IncludeBodyPatterns   []string
	ExcludeHeaderPatterns []string
	ExcludeBodyPatterns   []string
	IncludeHeaderHits     map[string]int
	IncludeBodyHits       map[string]int
	ExcludeHeaderHits     map[string]int
	ExcludeBodyHits       map[string]int
}

// Filter holds compiled regex patterns for selecting replies.
// It is safe for concurrent use.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader *patternSet
	includeBody   *patternSet
	excludeHeader *patternSet
	excludeBody   *patternSet
}

type patternSet struct {
	mu       sync.Mutex
	patterns []*regexp.Regexp
	hits     map[string]int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := includeHeader.active() || includeBody.active()
	excludeActive := excludeHeader.active() || excludeBody.active()
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
	return f.includeMode || f.excludeMode
}

// Allows returns true if the message passes the filter criteria.
// header is the raw message header block, reply the visible reply text.
func (f *Filter) Allows(header []byte, reply string) bool {
	if f.includeMode {
		headerHit := f.includeHeader.match(string(header))
		bodyHit := f.includeBody.match(reply)
		return headerHit || bodyHit
	}

	if f.excludeMode {
		headerHit := f.excludeHeader.match(string(header))
		bodyHit := f.excludeBody.match(reply)
		return !headerHit && !bodyHit
	}

	return true
}

// GetStats returns a snapshot of the configured patterns and their hit counts.
func (f *Filter) GetStats() Stats {
	var s Stats
	s.IncludeHeaderPatterns, s.IncludeHeaderHits = f.includeHeader.snapshot()
	s.IncludeBodyPatterns, s.IncludeBodyHits = f.includeBody.snapshot()
	s.ExcludeHeaderPatterns, s.ExcludeHeaderHits = f.excludeHeader.snapshot()
	s.ExcludeBodyPatterns, s.ExcludeBodyHits = f.excludeBody.snapshot()
	return s
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

func compilePatterns(patterns []string) (*patternSet, error) {
	set := &patternSet{hits: make(map[string]int)}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		set.patterns = append(set.patterns, re)
	}
	return set, nil
}

func (s *patternSet) active() bool {
	return len(s.patterns) > 0
}

// match reports whether any pattern matches text and counts every pattern that does.
func (s *patternSet) match(text string) bool {
	if len(s.patterns) == 0 {
		return false
	}

	matched := false
	for _, re := range s.patterns {
		if !re.MatchString(text) {
			continue
		}
		matched = true
		s.mu.Lock()
		s.hits[re.String()]++
		s.mu.Unlock()
	}
	return matched
}

func (s *patternSet) snapshot() ([]string, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patterns := make([]string, len(s.patterns))
	hits := make(map[string]int, len(s.hits))
	for i, re := range s.patterns {
		patterns[i] = re.String()
	}
	for k, v := range s.hits {
		hits[k] = v
	}
	return patterns, hits
}
