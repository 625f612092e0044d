package dkim

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestRelaxedBody(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"a\r\n", "a\r\n"},

		// Bodies end with \r\n, including the empty one.
		{"", "\r\n"},
		{"\r\n", "\r\n"},
		{" \t ", "\r\n"},
		{"\r\n\r\n\r\n", "\r\n"},
		{"a", "a\r\n"},

		// Repeated WSP before the line terminator.
		{"a \r\n", "a\r\n"},
		{"a  \r\n", "a\r\n"},
		{"a \t \r\n", "a\r\n"},
		{"a\t\t\t\r\n", "a\r\n"},

		// Repeated WSP within a line.
		{"a   b\r\n", "a b\r\n"},
		{"a\t\t\tb\r\n", "a b\r\n"},
		{"a \t \t b\r\n", "a b\r\n"},

		// Leading WSP is reduced, but kept.
		{"  a\r\n", " a\r\n"},

		// Ignore empty lines at the end, but not in the middle.
		{"a\r\n\r\n", "a\r\n"},
		{"a\r\n\r\n\r\n", "a\r\n"},
		{"a\r\n\r\nb\r\n", "a\r\n\r\nb\r\n"},
		{"a \r\nb\t\t\r\n\r\n", "a\r\nb\r\n"},

		// Any line terminator is converted to CRLF.
		{"a\nb\n", "a\r\nb\r\n"},
		{"a\rb\nc", "a\r\nb\r\nc\r\n"},
		{"a\n\r\n\r", "a\r\n"},

		// Example from RFC.
		// https://datatracker.ietf.org/doc/html/rfc6376#section-3.4.5
		{" C \r\nD \t E\r\n\r\n\r\n", " C\r\nD E\r\n"},
	}

	for _, c := range cases {
		got := RelaxedBody(c.in)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("RelaxedBody(%q) diff (-want +got): %s", c.in, diff)
		}
	}
}

func TestRelaxedBodyIdempotent(t *testing.T) {
	bodies := []string{
		"",
		"a",
		" \t\r\n",
		"Hi.\r\n\r\nWe lost the game.  Are you hungry yet?\r\n\r\nJoe.\r\n",
		"mixed\rline\nendings\r\n\t\tand tabs \t\n\n\n",
		basicBody,
	}

	for _, b := range bodies {
		once := RelaxedBody(b)
		twice := RelaxedBody(once)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("RelaxedBody not idempotent for %q (-once +twice): %s",
				b, diff)
		}
	}
}

func TestRelaxedHeaderLine(t *testing.T) {
	cases := []struct {
		in   string
		want Field
		err  error
	}{
		{"From: Joe", Field{"from", "Joe"}, nil},
		{"SUBJECT:Hi", Field{"subject", "Hi"}, nil},
		{"Subject \t: \t Hi \t there \t", Field{"subject", "Hi there"}, nil},

		// Colons in the value are kept.
		{"Date: 21:00:37", Field{"date", "21:00:37"}, nil},

		// Folded values are unfolded.
		{"X-Long: part1\r\n part2", Field{"x-long", "part1 part2"}, nil},
		{"X-Long: part1\r\n\tpart2\r\n  part3",
			Field{"x-long", "part1 part2 part3"}, nil},

		// Empty value.
		{"X-Empty:", Field{"x-empty", ""}, nil},
		{"X-Empty:  \t ", Field{"x-empty", ""}, nil},

		// No colon.
		{"Not a header", Field{}, ErrCanonicalization},
		{"", Field{}, ErrCanonicalization},
	}

	for _, c := range cases {
		got, err := RelaxedHeaderLine(c.in)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("RelaxedHeaderLine(%q) diff (-want +got): %s",
				c.in, diff)
		}
		diff := cmp.Diff(c.err, err, cmpopts.EquateErrors())
		if diff != "" {
			t.Errorf("RelaxedHeaderLine(%q) err diff (-want +got): %s",
				c.in, diff)
		}
	}
}

func TestFieldString(t *testing.T) {
	f := Field{Key: "subject", Value: "Hi there"}
	if got := f.String(); got != "subject:Hi there" {
		t.Errorf("Field.String() = %q", got)
	}
}

func mkHs(hs ...string) Headers {
	var headers Headers
	for i := 0; i < len(hs); i += 2 {
		headers.Add(hs[i], hs[i+1])
	}
	return headers
}

func TestRelaxedHeaders(t *testing.T) {
	cases := []struct {
		desc      string
		hs        Headers
		names     []string
		wantBlock string
		wantNames []string
	}{
		{
			desc:      "empty",
			hs:        nil,
			names:     []string{"From"},
			wantBlock: "",
			wantNames: []string{},
		},
		{
			desc:  "output follows the list order",
			hs:    mkHs("To", "b@b", "Subject", " Hi ", "From", "a@a"),
			names: []string{"From", "Subject", "To"},
			wantBlock: "from:a@a\r\n" +
				"subject:Hi\r\n" +
				"to:b@b\r\n",
			wantNames: []string{"from", "subject", "to"},
		},
		{
			desc:      "fields not in the list are left out",
			hs:        mkHs("From", "a@a", "Date", "today", "X-Foo", "bar"),
			names:     []string{"From", "Subject"},
			wantBlock: "from:a@a\r\n",
			wantNames: []string{"from"},
		},
		{
			desc:      "empty values are left out",
			hs:        mkHs("From", "a@a", "Subject", "  "),
			names:     []string{"From", "Subject"},
			wantBlock: "from:a@a\r\n",
			wantNames: []string{"from"},
		},
		{
			desc:      "names are case insensitive",
			hs:        mkHs("FROM", "a@a", "subJect", "Hi"),
			names:     []string{"from", "SUBJECT"},
			wantBlock: "from:a@a\r\nsubject:Hi\r\n",
			wantNames: []string{"from", "subject"},
		},
		{
			desc:      "repeated list entries are used once",
			hs:        mkHs("From", "a@a"),
			names:     []string{"From", "from", " From "},
			wantBlock: "from:a@a\r\n",
			wantNames: []string{"from"},
		},
		{
			desc: "continuation lines",
			hs: Headers{
				{Name: "X-Long", Value: "part1"},
				{Value: " part2"},
				{Value: "\tpart3"},
				{Name: "From", Value: "a@a"},
			},
			names:     []string{"From", "X-Long"},
			wantBlock: "from:a@a\r\nx-long:part1 part2 part3\r\n",
			wantNames: []string{"from", "x-long"},
		},
		{
			desc: "lines without a colon are skipped",
			hs: Headers{
				{Value: "garbage"},
				{Name: "From", Value: "a@a"},
				{Value: "more garbage"},
			},
			names:     []string{"From", "garbage"},
			wantBlock: "from:a@a\r\n",
			wantNames: []string{"from"},
		},
	}

	for _, c := range cases {
		block, names := RelaxedHeaders(context.Background(), c.hs, c.names)
		if diff := cmp.Diff(c.wantBlock, block); diff != "" {
			t.Errorf("%s: block diff (-want +got): %s", c.desc, diff)
		}
		if diff := cmp.Diff(c.wantNames, names); diff != "" {
			t.Errorf("%s: names diff (-want +got): %s", c.desc, diff)
		}
	}
}

func TestRelaxedHeadersFoldedValue(t *testing.T) {
	hs := mkHs("X-Long", "part1\r\n part2")
	block, names := RelaxedHeaders(
		context.Background(), hs, []string{"X-Long"})
	if block != "x-long:part1 part2\r\n" {
		t.Errorf("unexpected block: %q", block)
	}
	if diff := cmp.Diff([]string{"x-long"}, names); diff != "" {
		t.Errorf("names diff (-want +got): %s", diff)
	}
}

func TestRelaxedHeadersTopMostWins(t *testing.T) {
	// The occurrence closest to the top of the message must be the one
	// used, regardless of case.
	hs := mkHs("Subject", "Hi", "subject", "Old")
	block, _ := RelaxedHeaders(
		context.Background(), hs, []string{"Subject"})
	if block != "subject:Hi\r\n" {
		t.Errorf("expected the top-most subject, got %q", block)
	}

	// Same, with more occurrences and other fields in between, and a
	// folded value at the top.
	hs = Headers{
		{Name: "Subject", Value: "first"},
		{Value: "  line"},
		{Name: "From", Value: "a@a"},
		{Name: "SUBJECT", Value: "second"},
		{Name: "To", Value: "b@b"},
		{Name: "subject", Value: "third"},
	}
	block, _ = RelaxedHeaders(
		context.Background(), hs, []string{"From", "Subject"})
	want := "from:a@a\r\nsubject:first line\r\n"
	if block != want {
		t.Errorf("expected %q, got %q", want, block)
	}

	// If the top-most is empty, the field is left out entirely.
	hs = mkHs("Subject", "", "Subject", "Hi")
	block, names := RelaxedHeaders(
		context.Background(), hs, []string{"Subject"})
	if block != "" || len(names) != 0 {
		t.Errorf("expected nothing, got %q %q", block, names)
	}
}

func TestRelaxedHeadersNamesArePresent(t *testing.T) {
	// Every name returned must belong to a field present in the headers,
	// no matter what we ask for.
	hs := mkHs(
		"From", "a@a",
		"Reply-To", "r@r",
		"List-Id", "<list.example.com>",
		"Date", "today")

	_, names := RelaxedHeaders(context.Background(), hs, SignedHeaders)
	for _, n := range names {
		if len(hs.FindAll(n)) == 0 {
			t.Errorf("%q in field names, but not in the headers", n)
		}
	}
	if diff := cmp.Diff([]string{"from", "reply-to", "list-id"}, names); diff != "" {
		t.Errorf("names diff (-want +got): %s", diff)
	}
}

func TestRelaxedHeadersTrace(t *testing.T) {
	var msgs []string
	ctx := WithTraceFunc(context.Background(),
		func(f string, a ...interface{}) {
			msgs = append(msgs, f)
		})

	hs := Headers{{Value: "no colon here"}, {Name: "From", Value: "a@a"}}
	RelaxedHeaders(ctx, hs, []string{"From"})

	found := false
	for _, m := range msgs {
		if strings.HasPrefix(m, "Skipping header") {
			found = true
		}
	}
	if !found {
		t.Errorf("skipped header was not traced: %q", msgs)
	}
}

func TestCanonicalizationErrorIs(t *testing.T) {
	_, err := RelaxedHeaderLine("nothing")
	if !errors.Is(err, ErrCanonicalization) {
		t.Errorf("expected ErrCanonicalization, got %v", err)
	}
}
