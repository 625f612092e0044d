package dkim

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"blitiri.com.ar/go/dkimsign/internal/normalize"
)

var (
	// ErrConfiguration is returned when the signer is missing one of its
	// required settings, or has an invalid one.
	ErrConfiguration = errors.New("configuration error")

	// ErrSigning is returned when the digest or signature computation
	// fails.
	ErrSigning = errors.New("signing error")
)

// SignedHeaders is the list of fields to sign, in order. It contains all
// the fields listed in RFC 4871, Section 5.5.
// https://datatracker.ietf.org/doc/html/rfc4871#section-5.5
var SignedHeaders = []string{
	"From", "Sender", "Reply-To", "Subject", "To", "Cc",
	"MIME-Version", "Content-Type", "Content-Transfer-Encoding",
	"Content-ID", "Content-Description",
	"Resent-Date", "Resent-From", "Resent-Sender", "Resent-To", "Resent-Cc",
	"Resent-Message-ID",
	"In-Reply-To", "References",
	"List-Id", "List-Help", "List-Unsubscribe", "List-Subscribe",
	"List-Post", "List-Owner", "List-Archive",
}

// A selector is a sequence of sub-domains, separated by dots.
// https://datatracker.ietf.org/doc/html/rfc6376#section-3.1
var validSelector = regexp.MustCompile(
	`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// Signer signs messages with a key derived from a passphrase.
type Signer struct {
	// Domain to sign for (d= tag).
	Domain string

	// Selector to use (s= tag).
	Selector string

	// Passphrase the key pair is derived from.
	Passphrase string

	// Size of the RSA key, in bits. 0 means DefaultKeyBits.
	KeyBits int

	// Fields to sign, in order. nil means SignedHeaders.
	Headers []string

	// Optional cache for the derived keys. If nil, the key is derived on
	// every call.
	Cache *KeyCache
}

func (s *Signer) keyBits() int {
	if s.KeyBits == 0 {
		return DefaultKeyBits
	}
	return s.KeyBits
}

func (s *Signer) fieldNames() []string {
	if s.Headers == nil {
		return SignedHeaders
	}
	return s.Headers
}

// check the signer settings, and return the normalized domain.
func (s *Signer) check() (string, error) {
	if s.Domain == "" {
		return "", fmt.Errorf("%w: missing domain", ErrConfiguration)
	}
	if s.Selector == "" {
		return "", fmt.Errorf("%w: missing selector", ErrConfiguration)
	}
	if !validSelector.MatchString(s.Selector) {
		return "", fmt.Errorf("%w: invalid selector %q",
			ErrConfiguration, s.Selector)
	}
	if s.Passphrase == "" {
		return "", fmt.Errorf("%w: missing passphrase", ErrConfiguration)
	}
	if err := checkKeyBits(s.keyBits()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	// IDNs must be encoded as A-labels.
	domain, err := normalize.Domain(s.Domain)
	if err != nil {
		return "", fmt.Errorf("%w: invalid domain %q: %v",
			ErrConfiguration, s.Domain, err)
	}
	return domain, nil
}

// Key returns the private key the signer uses.
func (s *Signer) Key() (*rsa.PrivateKey, error) {
	if s.Passphrase == "" {
		return nil, fmt.Errorf("%w: missing passphrase", ErrConfiguration)
	}
	if s.Cache != nil {
		return s.Cache.Get(s.Passphrase, s.keyBits())
	}
	return DeriveKey(s.Passphrase, s.keyBits())
}

// GenerateHeader builds the DKIM-Signature header for the given message,
// up to and including the "b=" tag, which is left for the signature.
// The header is folded, and "b=" goes on its own continuation line.
func GenerateHeader(ctx context.Context, domain, selector string,
	fieldNames []string, hs Headers, body string) string {
	bodyH := sha256.Sum256([]byte(RelaxedBody(body)))
	_, names := RelaxedHeaders(ctx, hs, fieldNames)

	tags := TagList{
		{"v", "1"},
		{"a", "rsa-sha256"},
		{"c", "relaxed/relaxed"},
		{"d", domain},
		{"q", "dns/txt"},
		{"s", selector},
		{"bh", base64.StdEncoding.EncodeToString(bodyH[:])},
	}

	header := FoldLines("DKIM-Signature: "+tags.String(), DefaultLineLength, false)
	return foldFieldList(header, names) + "\r\n b="
}

// foldFieldList appends the h= tag to the folded header, and terminates it
// with a semicolon. The tag goes on the last line if it fits; otherwise it
// starts a new one, and is broken after its colons so no line is longer
// than DefaultLineLength.
func foldFieldList(header string, names []string) string {
	h := "h=" + strings.Join(names, ":")

	last := header[strings.LastIndex(header, "\n")+1:]
	if len(last)+len("; ")+len(h)+len(";") <= DefaultLineLength {
		return header + "; " + h + ";"
	}

	var sb strings.Builder
	sb.WriteString(header + ";")

	line := " h="
	for i, name := range names {
		switch {
		case i == 0:
			line += name
		case len(line)+len(":")+len(name) < DefaultLineLength:
			line += ":" + name
		default:
			// Whitespace is allowed after the colon.
			sb.WriteString("\r\n" + line + ":")
			line = " " + name
		}
	}
	sb.WriteString("\r\n" + line + ";")
	return sb.String()
}

// Sign the message given by its headers and body. Returns the complete
// DKIM-Signature header line, folded, without a trailing CRLF. It can be
// added to the top of the message as-is.
func (s *Signer) Sign(ctx context.Context, hs Headers, body string) (string, error) {
	domain, err := s.check()
	if err != nil {
		return "", err
	}

	trace(ctx, "Signing for %s / %s with rsa-sha256", domain, s.Selector)

	dkimHeader := GenerateHeader(
		ctx, domain, s.Selector, s.fieldNames(), hs, body)

	// What gets signed: the canonical headers, followed by the canonical
	// DKIM-Signature header itself, with an empty b= and no trailing CRLF.
	canonical, _ := RelaxedHeaders(ctx, hs, s.fieldNames())
	dh, err := RelaxedHeaderLine(dkimHeader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	canonical += dh.String()
	trace(ctx, "Hashing header: %q", dh.String())

	key, err := s.Key()
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(canonical))
	trace(ctx, "Resulting hash: %q",
		base64.StdEncoding.EncodeToString(digest[:]))

	// PKCS #1 v1.5 signatures are deterministic, no randomness needed.
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return dkimHeader + foldSignature(base64.StdEncoding.EncodeToString(sig)), nil
}

// SignMessage signs a full RFC822 message. LF line endings are converted
// to CRLF first. Returns the same as Sign.
func (s *Signer) SignMessage(ctx context.Context, message string) (string, error) {
	// Check before parsing, so a bad configuration fails without doing any
	// work.
	if _, err := s.check(); err != nil {
		return "", err
	}

	hs, body := ParseMessage(normalize.StringToCRLF(message))
	return s.Sign(ctx, hs, body)
}

// GenerateSignature signs the message with a key derived from the given
// passphrase, using the default key size and the default list of fields.
func GenerateSignature(ctx context.Context, hs Headers, body,
	domain, selector, passphrase string) (string, error) {
	s := &Signer{
		Domain:     domain,
		Selector:   selector,
		Passphrase: passphrase,
	}
	return s.Sign(ctx, hs, body)
}
