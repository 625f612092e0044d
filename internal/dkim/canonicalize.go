package dkim

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrCanonicalization is returned for header lines that cannot be put in
// canonical form. Signing never fails because of it: the offending lines
// are skipped, as if the field was not present.
var ErrCanonicalization = errors.New("canonicalization error")

var (
	// Any line terminator: CRLF, or a lone CR or LF.
	lineTerminator = regexp.MustCompile(`\r\n|\r|\n`)

	// Repeated whitespace. In header values this also covers the CRLF of
	// folded lines.
	repeatedWS = regexp.MustCompile(`\s+`)
)

// RelaxedBody returns the body in "relaxed" canonical form.
// https://datatracker.ietf.org/doc/html/rfc4871#section-3.4.4
//
// Unlike the RFC, an empty body is canonicalized to a single CRLF.
func RelaxedBody(body string) string {
	body = lineTerminator.ReplaceAllLiteralString(body, "\n")

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		// Reduce all sequences of whitespace to a single SP, and then
		// remove the one that may be left at the end of the line.
		line = repeatedWS.ReplaceAllLiteralString(line, " ")
		lines[i] = strings.TrimSuffix(line, " ")
	}

	// Empty lines at the end are collapsed into a single line terminator,
	// which is also added if missing.
	body = strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"

	return strings.ReplaceAll(body, "\n", "\r\n")
}

// Field is a header field in relaxed canonical form.
type Field struct {
	// Lower-cased name.
	Key string

	// Value, with whitespace reduced.
	Value string
}

// String returns the field the way it is fed to the hash: key, colon and
// value, without spaces around the colon.
func (f Field) String() string {
	return f.Key + ":" + f.Value
}

// RelaxedHeaderLine puts a single (unfolded) header line in "relaxed"
// canonical form.
// https://datatracker.ietf.org/doc/html/rfc4871#section-3.4.2
func RelaxedHeaderLine(line string) (Field, error) {
	// Only the first colon separates the name from the value; the value
	// may contain more.
	name, value, found := strings.Cut(line, ":")
	if !found {
		return Field{}, fmt.Errorf("%w: no colon in %q",
			ErrCanonicalization, line)
	}

	return Field{
		Key:   strings.TrimSpace(strings.ToLower(name)),
		Value: strings.TrimSpace(repeatedWS.ReplaceAllLiteralString(value, " ")),
	}, nil
}

// RelaxedHeaders canonicalizes the given headers, keeping only the fields
// in fieldNames.
//
// It returns the canonical header block (one "key:value" line per field,
// each terminated by CRLF, in fieldNames order), and the list of field
// names that were actually found, in the same order. Fields that are
// missing, or that have an empty value, are left out of both.
//
// When a field appears more than once, the occurrence closest to the top of
// the message is used.
func RelaxedHeaders(ctx context.Context, hs Headers, fieldNames []string) (string, []string) {
	wanted := lowerFieldNames(fieldNames)

	lines := hs.lines()
	found := map[string]string{}

	// Walk the lines from the bottom up. Continuation lines (those starting
	// with whitespace) get spliced into the line above them before it is
	// visited. Every occurrence of a wanted field overwrites whatever was
	// recorded below it, so the last one recorded is the top-most.
	for i := len(lines) - 1; i >= 0; i-- {
		if i > 0 && startsWithWS(lines[i]) {
			lines[i-1] += lines[i]
			continue
		}

		f, err := RelaxedHeaderLine(lines[i])
		if err != nil {
			trace(ctx, "Skipping header: %v", err)
			continue
		}
		if _, ok := wanted[f.Key]; ok {
			found[f.Key] = f.Value
		}
	}

	var block strings.Builder
	names := []string{}
	for _, name := range uniqueLower(fieldNames) {
		value := found[name]
		if value == "" {
			continue
		}
		f := Field{Key: name, Value: value}
		trace(ctx, "Canonical header: %q", f.String())
		block.WriteString(f.String() + "\r\n")
		names = append(names, name)
	}

	return block.String(), names
}

func startsWithWS(s string) bool {
	return s != "" && strings.ContainsAny(s[:1], " \t\r\n\f\v")
}

// uniqueLower returns the given field names lower-cased and trimmed, in
// order, skipping empty and repeated ones.
func uniqueLower(fieldNames []string) []string {
	seen := map[string]bool{}
	names := make([]string, 0, len(fieldNames))
	for _, n := range fieldNames {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

func lowerFieldNames(fieldNames []string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, n := range uniqueLower(fieldNames) {
		set[n] = struct{}{}
	}
	return set
}
