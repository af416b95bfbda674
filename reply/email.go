package reply

import "strings"

// Fragment is a run of consecutive lines that share a classification.
type Fragment struct {
	content   string
	quoted    bool
	signature bool
	hidden    bool
}

func newFragment(content string, quoted, signature bool) *Fragment {
	return &Fragment{
		content:   content,
		quoted:    quoted,
		signature: signature,
		hidden:    quoted || signature || strings.TrimSpace(content) == "",
	}
}

// Content returns the fragment text in reading order.
func (f *Fragment) Content() string { return f.content }

// IsQuoted reports whether the fragment is part of a quoted prior message.
func (f *Fragment) IsQuoted() bool { return f.quoted }

// IsSignature reports whether the fragment is a signature block.
func (f *Fragment) IsSignature() bool { return f.signature }

// IsHidden reports whether the fragment is left out of the visible text:
// quoted, signature, or blank.
func (f *Fragment) IsHidden() bool { return f.hidden }

// IsEmpty reports whether the fragment holds only whitespace.
func (f *Fragment) IsEmpty() bool { return strings.TrimSpace(f.content) == "" }

func (f *Fragment) String() string { return f.content }

// Email is the parsed body: fragments in top-to-bottom order covering the
// whole input.
type Email struct {
	fragments []*Fragment
}

// Fragments returns the fragments in reading order.
func (e *Email) Fragments() []*Fragment {
	return append([]*Fragment(nil), e.fragments...)
}

// VisibleText returns the text of all non-hidden fragments joined by newlines.
// Trailing '~' characters are stripped from the result for compatibility with
// existing consumers.
func (e *Email) VisibleText() string {
	var parts []string
	for _, f := range e.fragments {
		if f.hidden {
			continue
		}
		parts = append(parts, f.content)
	}
	return strings.TrimRight(strings.Join(parts, "\n"), "~")
}

// QuotedText returns the text of all quoted fragments joined by newlines.
func (e *Email) QuotedText() string {
	var parts []string
	for _, f := range e.fragments {
		if f.quoted {
			parts = append(parts, f.content)
		}
	}
	return strings.Join(parts, "\n")
}

// HasQuote reports whether any fragment is quoted.
func (e *Email) HasQuote() bool {
	for _, f := range e.fragments {
		if f.quoted {
			return true
		}
	}
	return false
}

// HasSignature reports whether any fragment is a signature block.
func (e *Email) HasSignature() bool {
	for _, f := range e.fragments {
		if f.signature {
			return true
		}
	}
	return false
}

func (e *Email) String() string { return e.VisibleText() }
