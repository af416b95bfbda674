package reply

import (
	"regexp"
	"strings"
)

// repairHeaders joins quote headers that a mail client hard-wrapped over
// several physical lines, so the line-anchored patterns can see them whole.
// Patterns run in order and each one works on the previous one's output.
// Only newlines inside a matched header span are touched, and each is
// replaced by a single space, so offsets never shift.
func repairHeaders(text string, headers []*regexp.Regexp) string {
	if !strings.Contains(text, "\n") {
		return text
	}

	for _, re := range headers {
		matches := re.FindAllStringSubmatchIndex(text, -1)
		if len(matches) == 0 {
			continue
		}

		buf := []byte(text)
		changed := false
		for _, m := range matches {
			start, end := headerSpan(m)
			start, end = innermostHeader(re, text, start, end)
			for i := start; i < end; i++ {
				if buf[i] == '\n' {
					buf[i] = ' '
					changed = true
				}
			}
		}
		if changed {
			text = string(buf)
		}
	}

	return text
}

// headerSpan returns capture group 1 when the pattern has one and it took
// part in the match, otherwise the whole match.
func headerSpan(m []int) (int, int) {
	if len(m) >= 4 && m[2] >= 0 {
		return m[2], m[3]
	}
	return m[0], m[1]
}

// innermostHeader narrows a span that runs across a later line which itself
// starts a header of the same pattern. Without this, "On the plus side\nOn
// Monday, Ann wrote:" would glue the first line onto the real header.
func innermostHeader(re *regexp.Regexp, text string, start, end int) (int, int) {
	for i := start; i < end; i++ {
		if text[i] != '\n' {
			continue
		}
		lineStart := i + 1
		m := re.FindStringSubmatchIndex(text[lineStart:])
		if m == nil || m[0] != 0 {
			continue
		}
		s, e := headerSpan(m)
		return innermostHeader(re, text, lineStart+s, lineStart+e)
	}
	return start, end
}
