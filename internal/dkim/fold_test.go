package dkim

import (
	"strings"
	"testing"
)

const quickFox = "The quick brown fox jumps over the lazy dog and keeps " +
	"running through the field until the sun goes down"

func TestFoldLines(t *testing.T) {
	cases := []struct {
		in         string
		length     int
		afterSpace bool
		want       string
	}{
		// Short lines are left alone.
		{"", 76, false, ""},
		{"short", 76, false, "short"},
		{"exactly 10", 11, false, "exactly 10"},

		// Header folding: the whitespace starts the next line.
		{quickFox, 20, false,
			"The quick brown fox\r\n" +
				" jumps over the\r\n" +
				" lazy dog and keeps\r\n" +
				" running through\r\n" +
				" the field until\r\n" +
				" the sun goes down"},

		// Flowed text: the whitespace ends the line.
		{quickFox, 20, true,
			"The quick brown fox \r\n" +
				"jumps over the lazy \r\n" +
				"dog and keeps \r\n" +
				"running through the \r\n" +
				"field until the sun \r\n" +
				"goes down"},

		// Long words extend the line up to the next whitespace.
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbb", 10, false,
			"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\r\n bbb"},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa   bbb", 10, true,
			"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa   \r\nbbb"},

		// No whitespace left at all: hard break at the limit.
		{strings.Repeat("x", 30), 10, false,
			"xxxxxxxxxx\r\nxxxxxxxxxx\r\nxxxxxxxxxx"},
		{"aaa bbbbbbbbbbbbbbbbbb", 10, false,
			"aaa\r\n bbbbbbbbb\r\nbbbbbbbbb"},

		// Existing line breaks are preferred.
		{"short line\r\nanother line that is long enough to fold", 16, false,
			"short line\r\n" +
				"another line\r\n" +
				" that is long\r\n" +
				" enough to fold"},

		// Default length.
		{strings.Repeat("abcd ", 20), 0, false,
			strings.Repeat("abcd ", 15)[:74] + "\r\n" +
				strings.Repeat(" abcd", 5) + " "},
	}

	for i, c := range cases {
		got := FoldLines(c.in, c.length, c.afterSpace)
		if got != c.want {
			t.Errorf("%d: FoldLines(%q, %d, %v):", i, c.in, c.length,
				c.afterSpace)
			t.Errorf("      want %q", c.want)
			t.Errorf("      got  %q", got)
		}
	}
}

func TestFoldLinesProperties(t *testing.T) {
	cases := []struct {
		text    string
		lengths []int
	}{
		{quickFox, []int{10, 20, 40, 76}},
		{strings.Repeat("lorem ipsum dolor sit amet ", 20), []int{10, 20, 40, 76}},
		{
			"DKIM-Signature: v=1; a=rsa-sha256; c=relaxed/relaxed; d=example.com; " +
				"q=dns/txt; s=test; bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=; " +
				"h=from:subject:to:cc:mime-version:content-type",
			[]int{50, 76},
		},
		{strings.Repeat("x", 200), []int{10, 76}},
		{"h=" + strings.ToLower(strings.Join(SignedHeaders, ":")), []int{20, 76}},
	}

	for _, c := range cases {
		text := c.text
		for _, length := range c.lengths {
			for _, afterSpace := range []bool{false, true} {
				folded := FoldLines(text, length, afterSpace)

				for _, line := range strings.Split(folded, "\r\n") {
					if len(line) > length {
						t.Errorf("FoldLines(%q, %d, %v): line too long: %q",
							text, length, afterSpace, line)
					}
				}

				if unfolded := strings.ReplaceAll(folded, "\r\n", ""); unfolded != text {
					t.Errorf("FoldLines(%q, %d, %v) does not unfold:",
						text, length, afterSpace)
					t.Errorf("      got  %q", unfolded)
				}
			}
		}
	}
}

func TestFoldSignature(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "abc"},
		{strings.Repeat("a", 73), strings.Repeat("a", 73)},
		{
			strings.Repeat("a", 74),
			strings.Repeat("a", 73) + "\r\n a",
		},
		{
			strings.Repeat("a", 73) + strings.Repeat("b", 75),
			strings.Repeat("a", 73) + "\r\n " + strings.Repeat("b", 75),
		},
		{
			strings.Repeat("a", 73) + strings.Repeat("b", 75) +
				strings.Repeat("c", 24),
			strings.Repeat("a", 73) + "\r\n " + strings.Repeat("b", 75) +
				"\r\n " + strings.Repeat("c", 24),
		},
	}

	for i, c := range cases {
		got := foldSignature(c.in)
		if got != c.want {
			t.Errorf("%d: foldSignature(%q):", i, c.in)
			t.Errorf("      want %q", c.want)
			t.Errorf("      got  %q", got)
		}
	}
}
