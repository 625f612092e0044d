package dkim

import (
	"regexp"
	"strings"
)

// DefaultLineLength is the maximum line length used when folding headers.
const DefaultLineLength = 76

var (
	// A line, up to and including its terminator.
	firstLine = regexp.MustCompile(`^[^\n\r]*(\r?\n|\r)`)

	// The last run of whitespace, and whatever follows it.
	lastWSRun = regexp.MustCompile(`(\s+)\S*$`)

	// A word at the start, and the whitespace that follows it.
	firstWord = regexp.MustCompile(`^\S+(\s*)`)
)

// FoldLines breaks s into lines of at most lineLength characters, joined
// with CRLF. Existing line breaks are kept; otherwise lines are broken at
// the last run of whitespace that fits.
//
// If there is no whitespace to break at, the line is extended up to the
// end of the word that crosses the limit. If no whitespace follows either,
// the line is broken at lineLength.
//
// With afterSpace (for flowed text), the whitespace is left at the end of
// the broken line. Without it (for headers), the whitespace starts the
// next line, which makes it a valid header continuation. Either way, no
// characters are added or removed other than the CRLFs.
//
// A lineLength <= 0 means DefaultLineLength.
func FoldLines(s string, lineLength int, afterSpace bool) string {
	if lineLength <= 0 {
		lineLength = DefaultLineLength
	}

	var sb strings.Builder
	pos := 0
	for pos < len(s) {
		line := s[pos:min(pos+lineLength, len(s))]
		if len(line) < lineLength {
			sb.WriteString(line)
			break
		}

		if m := firstLine.FindString(line); m != "" {
			sb.WriteString(m)
			pos += len(m)
			continue
		}

		if m := lastWSRun.FindStringSubmatchIndex(line); m != nil &&
			cutLen(m, afterSpace) < len(line) {
			line = line[:len(line)-cutLen(m, afterSpace)]
		} else if m := firstWord.FindStringSubmatchIndex(s[pos+len(line):]); m != nil && m[3] > m[2] {
			extra := m[1]
			if !afterSpace {
				extra -= m[3] - m[2]
			}
			line = s[pos : pos+len(line)+extra]
		}
		// Otherwise there is no whitespace left at all, and the line is
		// broken at lineLength.

		sb.WriteString(line)
		pos += len(line)
		if pos < len(s) {
			sb.WriteString("\r\n")
		}
	}

	return sb.String()
}

// cutLen returns how much to remove from the end of a line, given the
// lastWSRun submatch indexes.
func cutLen(m []int, afterSpace bool) int {
	n := m[1] - m[0]
	if afterSpace {
		n -= m[3] - m[2]
	}
	return n
}

// foldSignature breaks the base64 signature so that, once appended to the
// " b=" continuation line, no line is longer than 76 characters. The first
// chunk is 73 characters long, and the rest 75, each on a continuation
// line indented by a single space.
func foldSignature(sig string) string {
	const first, rest = 73, 75

	var sb strings.Builder
	limit := first
	for len(sig) > limit {
		sb.WriteString(sig[:limit])
		sb.WriteString("\r\n ")
		sig = sig[limit:]
		limit = rest
	}
	sb.WriteString(sig)
	return sb.String()
}
