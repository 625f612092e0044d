package dkim

import (
	"errors"
	"fmt"
	"strings"
)

// DKIM Tag=Value lists, as defined in RFC 4871, Section 3.2.
// https://datatracker.ietf.org/doc/html/rfc4871#section-3.2

// Tag is a single tag=value pair.
type Tag struct {
	Name  string
	Value string
}

// TagList is an ordered tag=value list, like the one in the
// DKIM-Signature header.
type TagList []Tag

// String joins the tags with "; ", without a trailing separator.
func (tl TagList) String() string {
	parts := make([]string, 0, len(tl))
	for _, t := range tl {
		parts = append(parts, t.Name+"="+t.Value)
	}
	return strings.Join(parts, "; ")
}

// Get the value of the given tag, and whether it was present.
func (tl TagList) Get(name string) (string, bool) {
	for _, t := range tl {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

var errInvalidTag = errors.New("invalid tag")

// String replacer that removes whitespace.
var eatWhitespace = strings.NewReplacer(" ", "", "\t", "", "\r", "", "\n", "")

// ParseTags parses a tag list, such as the value of a DKIM-Signature
// header. Whitespace inside the values (including folding) is removed.
func ParseTags(s string) (TagList, error) {
	// First trim space, and trailing semicolon, to simplify parsing below.
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")

	tl := TagList{}
	seen := map[string]bool{}
	for _, tv := range strings.Split(s, ";") {
		t, v, found := strings.Cut(tv, "=")
		if !found {
			return nil, fmt.Errorf("%w: missing '='", errInvalidTag)
		}

		t = strings.TrimSpace(t)
		if t == "" {
			return nil, fmt.Errorf("%w: missing tag name", errInvalidTag)
		}

		// Tags with duplicate names make the entire tag-list invalid.
		if seen[t] {
			return nil, fmt.Errorf("%w: duplicate tag %q", errInvalidTag, t)
		}
		seen[t] = true

		tl = append(tl, Tag{Name: t, Value: eatWhitespace.Replace(v)})
	}

	return tl, nil
}
