package dkim

import (
	"strings"
)

// Header is a single header entry, as it appeared in the message.
//
// A Header with an empty Name holds a raw line in Value: either a
// continuation line (starting with whitespace) of the entry above it, or a
// line that could not be split into name and value.
type Header struct {
	Name  string
	Value string
}

func (h Header) line() string {
	if h.Name == "" {
		return h.Value
	}
	return h.Name + ": " + h.Value
}

// Headers is an ordered list of header entries. The same name can appear
// more than once; names are matched case-insensitively, but their original
// case is preserved.
type Headers []Header

// Add a header at the bottom of the list.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Header{Name: name, Value: value})
}

// FindAll the headers with the given name, in order of appearance.
func (h Headers) FindAll(name string) Headers {
	hs := make(Headers, 0)
	for _, header := range h {
		if header.Name != "" && strings.EqualFold(header.Name, name) {
			hs = append(hs, header)
		}
	}
	return hs
}

// Unfolded returns the value of the first header with the given name,
// with its continuation lines joined back into it.
func (h Headers) Unfolded(name string) (string, bool) {
	for i, header := range h {
		if header.Name == "" || !strings.EqualFold(header.Name, name) {
			continue
		}

		value := header.Value
		for _, next := range h[i+1:] {
			if next.Name != "" || !startsWithWS(next.Value) {
				break
			}
			value += next.Value
		}
		return value, true
	}
	return "", false
}

// lines returns the headers as "Name: value" lines, in their original
// order. Raw lines are returned unchanged.
func (h Headers) lines() []string {
	lines := make([]string, 0, len(h))
	for _, header := range h {
		lines = append(lines, header.line())
	}
	return lines
}

// ParseMessage splits a RFC822 message into its headers and body.
// We expect it to only contain CRLF line endings.
//
// Every physical header line becomes its own entry: continuation lines and
// lines without a colon are kept raw, so canonicalization sees them
// exactly as they were. Whitespace in values is left untouched, other than
// the separator after the colon.
func ParseMessage(message string) (Headers, string) {
	headers := make(Headers, 0)
	lines := strings.Split(message, "\r\n")

	for i, line := range lines {
		if line == "" {
			return headers, strings.Join(lines[i+1:], "\r\n")
		}

		name, value, found := strings.Cut(line, ":")
		if !found || startsWithWS(line) {
			headers = append(headers, Header{Value: line})
			continue
		}

		headers.Add(name, strings.TrimLeft(value, " \t"))
	}

	// No empty line: the whole message is headers.
	return headers, ""
}
