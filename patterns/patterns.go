// Package patterns holds the line classifiers used by the reply parser: the
// quote headers that introduce a quoted prior message ("On DATE, NAME wrote:")
// and the lines that open a signature block ("-- ", "Sent from my iPhone").
//
// A Library is an explicit value. Default returns a fresh library loaded with
// the built-in locale set; callers extend their own copy instead of mutating
// shared state.
package patterns

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrInvalidPattern is returned when a pattern cannot be registered.
var ErrInvalidPattern = errors.New("invalid pattern")

// Kind is the boundary role a pattern tests for.
type Kind int

const (
	QuoteHeader Kind = iota
	Signature
)

func (k Kind) String() string {
	switch k {
	case QuoteHeader:
		return "quote-header"
	case Signature:
		return "signature"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Library is a set of compiled quote-header and signature patterns.
// It is safe for concurrent use. Registration copies the list it appends to,
// so matching works on a snapshot and never blocks on a writer for long.
type Library struct {
	mu           sync.RWMutex
	quoteHeaders []*regexp.Regexp
	signatures   []*regexp.Regexp
}

// New returns an empty library.
func New() *Library {
	return &Library{}
}

// Default returns a new library holding the built-in locale patterns.
func Default() *Library {
	l := New()
	l.quoteHeaders = mustCompile(builtinQuoteHeaders)
	l.signatures = mustCompile(builtinSignatures)
	return l
}

// Clone returns an independent copy of the library.
func (l *Library) Clone() *Library {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Library{
		quoteHeaders: append([]*regexp.Regexp(nil), l.quoteHeaders...),
		signatures:   append([]*regexp.Regexp(nil), l.signatures...),
	}
}

// AddQuoteHeader compiles expr and registers it as a quote-header pattern.
// Capture group 1, when present, marks the header span that header repair
// collapses onto one line. A blank expr is rejected with ErrInvalidPattern
// because it would match every line.
func (l *Library) AddQuoteHeader(expr string) error {
	return l.Add(QuoteHeader, expr)
}

// AddSignature compiles expr and registers it as a signature pattern.
// A blank expr is rejected with ErrInvalidPattern like in AddQuoteHeader.
func (l *Library) AddSignature(expr string) error {
	return l.Add(Signature, expr)
}

// Add compiles expr and appends it to the list for kind.
func (l *Library) Add(kind Kind, expr string) error {
	re, err := compilePattern(expr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch kind {
	case QuoteHeader:
		l.quoteHeaders = appendCopy(l.quoteHeaders, re)
	case Signature:
		l.signatures = appendCopy(l.signatures, re)
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidPattern, kind)
	}
	return nil
}

// IsQuoteHeader reports whether line matches any quote-header pattern.
func (l *Library) IsQuoteHeader(line string) bool {
	return matchAny(l.QuoteHeaders(), line)
}

// IsSignature reports whether line matches any signature pattern.
func (l *Library) IsSignature(line string) bool {
	return matchAny(l.Signatures(), line)
}

// QuoteHeaders returns the registered quote-header patterns in registration order.
// The returned slice must not be modified.
func (l *Library) QuoteHeaders() []*regexp.Regexp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quoteHeaders
}

// Signatures returns the registered signature patterns in registration order.
// The returned slice must not be modified.
func (l *Library) Signatures() []*regexp.Regexp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.signatures
}

// Expressions returns the source text of every pattern of the given kind.
func (l *Library) Expressions(kind Kind) []string {
	var list []*regexp.Regexp
	switch kind {
	case QuoteHeader:
		list = l.QuoteHeaders()
	case Signature:
		list = l.Signatures()
	}
	out := make([]string, len(list))
	for i, re := range list {
		out[i] = re.String()
	}
	return out
}

// Len returns the number of registered patterns of the given kind.
func (l *Library) Len(kind Kind) int {
	return len(l.Expressions(kind))
}

func compilePattern(expr string) (*regexp.Regexp, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrInvalidPattern, expr, err)
	}
	return re, nil
}

func mustCompile(exprs []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		compiled = append(compiled, regexp.MustCompile(expr))
	}
	return compiled
}

func appendCopy(list []*regexp.Regexp, re *regexp.Regexp) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(list), len(list)+1)
	copy(out, list)
	return append(out, re)
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
