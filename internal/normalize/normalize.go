// Package normalize contains functions to normalize domains, passphrases
// and line endings.
package normalize

import (
	"bytes"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
	"golang.org/x/text/unicode/norm"
)

// Profile for the domains we sign for. Besides the IDNA checks, it applies
// the STD3 rules (letters, digits and hyphens only) and limits the label
// and domain lengths, so a domain can never carry tag-list separators.
var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.VerifyDNSLength(true))

// Domain normalizes a DNS domain into its ASCII form, with IDNs encoded as
// A-labels, as required in the d= tag.
// On error, it will also return the original domain to simplify callers.
func Domain(domain string) (string, error) {
	// Go through the Unicode form first, which validates existing A-labels
	// and lets us apply NFC and lower-casing consistently.
	// https://tools.ietf.org/html/rfc5891#section-5.2
	d, err := domainProfile.ToUnicode(domain)
	if err != nil {
		return domain, err
	}

	d = norm.NFC.String(d)
	d = strings.ToLower(d)

	d, err = domainProfile.ToASCII(d)
	if err != nil {
		return domain, err
	}
	return d, nil
}

// Passphrase normalizes a passphrase using the PRECIS OpaqueString profile,
// so that equivalent ways of writing it compare equal.
// On error, it will also return the original passphrase to simplify
// callers.
func Passphrase(pass string) (string, error) {
	norm, err := precis.OpaqueString.String(pass)
	if err != nil {
		return pass, err
	}

	return norm, nil
}

// ToCRLF converts the given buffer to CRLF line endings. If a line has a
// preexisting CRLF, it leaves it be. It assumes that CR is never used on its
// own.
func ToCRLF(in []byte) []byte {
	b := bytes.Buffer{}
	b.Grow(len(in))

	// We go line by line, but beware:
	//   Split("a\nb", "\n") -> ["a", "b"]
	//   Split("a\nb\n", "\n") -> ["a", "b", ""]
	// So we handle the last line separately.
	lines := bytes.Split(in, []byte("\n"))
	for i, line := range lines {
		b.Write(line)
		if i == len(lines)-1 {
			// Do not add newline to the last line, so a missing final
			// newline stays missing.
			break
		}
		if !bytes.HasSuffix(line, []byte("\r")) {
			// Missing the CR.
			b.WriteByte('\r')
		}
		b.WriteByte('\n')
	}

	return b.Bytes()
}

// StringToCRLF is like ToCRLF, but operates on strings.
func StringToCRLF(in string) string {
	b := strings.Builder{}
	b.Grow(len(in))

	lines := strings.Split(in, "\n")
	for i, line := range lines {
		b.WriteString(line)
		if i == len(lines)-1 {
			break
		}
		if !strings.HasSuffix(line, "\r") {
			b.WriteByte('\r')
		}
		b.WriteByte('\n')
	}

	return b.String()
}
