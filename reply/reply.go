// Package reply splits a plain-text email body into quoted, signature and
// visible fragments so the text a person actually wrote can be told apart from
// the history they replied to.
//
//	email := reply.Parse(body)
//	fmt.Println(email.VisibleText())
//
// Parsing never fails. The only inputs that can be rejected are custom
// patterns, and those are checked when they are added to a patterns.Library.
package reply

import (
	"strings"
	"sync"

	"github.com/dhcgn/mbox-reply-parser/patterns"
)

var (
	defaultOnce   sync.Once
	defaultParser *Parser
)

// Parse parses text with the built-in pattern set.
func Parse(text string) *Email {
	defaultOnce.Do(func() {
		defaultParser = NewParser(patterns.Default())
	})
	return defaultParser.Parse(text)
}

// Parser parses email bodies against one pattern library.
// A Parser is safe for concurrent use.
type Parser struct {
	lib *patterns.Library
}

// NewParser returns a Parser using lib. A nil lib selects patterns.Default().
func NewParser(lib *patterns.Library) *Parser {
	if lib == nil {
		lib = patterns.Default()
	}
	return &Parser{lib: lib}
}

// Library returns the pattern library the parser classifies lines with.
func (p *Parser) Library() *patterns.Library {
	return p.lib
}

// Parse splits text into fragments. Patterns added to the parser's library
// before the call are taken into account.
func (p *Parser) Parse(text string) *Email {
	text = normalizeNewlines(text)
	text = repairHeaders(text, p.lib.QuoteHeaders())

	return &Email{fragments: newSegmenter(p.lib).run(text)}
}

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func normalizeNewlines(text string) string {
	if !strings.ContainsRune(text, '\r') {
		return text
	}
	return newlineReplacer.Replace(text)
}
