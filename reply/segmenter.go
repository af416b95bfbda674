package reply

import (
	"slices"
	"strings"
	"unicode"

	"github.com/dhcgn/mbox-reply-parser/patterns"
)

// segmenter walks the lines of a message from the last one to the first and
// groups them into fragments. Boundaries such as a signature separator or the
// blank line above a quote header sit at the top of the fragment they close,
// so walking upwards lets every test look only at what has been collected.
type segmenter struct {
	lib       *patterns.Library
	open      *pending
	fragments []*Fragment
}

// pending is the fragment being collected. lines holds the lines bottom-up.
type pending struct {
	lines     []string
	quoted    bool
	signature bool
}

func (p *pending) last() string {
	return p.lines[len(p.lines)-1]
}

func newSegmenter(lib *patterns.Library) *segmenter {
	return &segmenter{lib: lib}
}

func (s *segmenter) run(text string) []*Fragment {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		s.scanLine(lines[i])
	}
	s.closeFragment()

	slices.Reverse(s.fragments)
	return s.fragments
}

func (s *segmenter) scanLine(line string) {
	// Signature markers such as "-- " keep their trailing blank.
	if !s.lib.IsSignature(line) {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
	}

	if s.open != nil {
		last := s.open.last()
		switch {
		case s.lib.IsSignature(last):
			s.open.signature = true
			s.closeFragment()
		case line == "" && s.lib.IsQuoteHeader(last):
			s.open.quoted = true
			s.closeFragment()
		}
	}

	quoted := strings.HasPrefix(line, ">")
	if s.open == nil || !s.continues(line, quoted) {
		s.closeFragment()
		s.open = &pending{quoted: quoted}
	}
	s.open.lines = append(s.open.lines, line)
}

// continues reports whether line belongs to the open fragment. Quote headers
// and blank lines are kept inside a quoted block even without a '>' prefix.
func (s *segmenter) continues(line string, quoted bool) bool {
	if s.open.quoted == quoted {
		return true
	}
	return s.open.quoted && (line == "" || s.lib.IsQuoteHeader(line))
}

func (s *segmenter) closeFragment() {
	if s.open == nil {
		return
	}

	lines := slices.Clone(s.open.lines)
	slices.Reverse(lines)
	content := strings.TrimPrefix(strings.Join(lines, "\n"), "\n")

	s.fragments = append(s.fragments, newFragment(content, s.open.quoted, s.open.signature))
	s.open = nil
}
