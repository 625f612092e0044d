// dkim-sign is a command-line utility to sign messages with DKIM, using a
// key derived from a passphrase.
package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"syscall"

	"blitiri.com.ar/go/dkimsign/internal/config"
	"blitiri.com.ar/go/dkimsign/internal/dkim"
	"blitiri.com.ar/go/dkimsign/internal/normalize"
	"blitiri.com.ar/go/dkimsign/internal/safeio"
	"blitiri.com.ar/go/dkimsign/internal/signlog"
	"blitiri.com.ar/go/dkimsign/internal/trace"
	"blitiri.com.ar/go/log"

	"github.com/docopt/docopt-go"
	"golang.org/x/crypto/ssh/terminal"
)

// Usage, which doubles as parameter definitions thanks to docopt.
const usage = `
Usage:
  dkim-sign [options] sign [<domain> [<selector>]]
  dkim-sign [options] header [<domain> [<selector>]]
  dkim-sign [options] public-key [--out=<path>]
  dkim-sign [options] print-config

The message to sign is read from stdin. "sign" prints it back with the
DKIM-Signature header on top; "header" prints only the header.
"public-key" prints the public key in PEM format, or writes it to the given
path.

Options:
  -C --config=<path>      Configuration file
  -o --override=<yaml>    Configuration overrides, in YAML
  -v                      Verbose mode
`

// Command-line arguments.
var args map[string]interface{}

// Globals, loaded from top-level options.
var (
	conf *config.Config
)

func main() {
	args, _ = docopt.ParseDoc(usage)

	if v, _ := args["-v"].(bool); v {
		log.Default.Level = log.Debug
	}

	path, _ := args["--config"].(string)
	overrides, _ := args["--override"].(string)

	var err error
	conf, err = config.Load(path, overrides)
	if err != nil {
		Fatalf("Error loading config: %v", err)
	}

	signlog.Default, err = signlog.Open(conf.SignLogPath)
	if err != nil {
		Fatalf("Error opening sign log: %v", err)
	}

	commands := map[string]func(){
		"sign":         sign,
		"header":       header,
		"public-key":   publicKey,
		"print-config": printConfig,
	}

	for cmd, f := range commands {
		if args[cmd].(bool) {
			f()
		}
	}
}

// Fatalf prints the given message, then exits the program with an error code.
func Fatalf(s string, arg ...interface{}) {
	fmt.Fprintf(os.Stderr, s+"\n", arg...)
	os.Exit(1)
}

// dkim-sign sign [<domain> [<selector>]]
func sign() {
	msg, sig := signStdin()
	fmt.Printf("%s\r\n%s", sig, msg)
}

// dkim-sign header [<domain> [<selector>]]
func header() {
	_, sig := signStdin()
	fmt.Printf("%s\r\n", sig)
}

// dkim-sign public-key
func publicKey() {
	s := newSigner("")
	if s.Passphrase == "" {
		s.Passphrase = readPassphrase()
	}

	key, err := s.Key()
	if err != nil {
		Fatalf("Error deriving key: %v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		Fatalf("Error encoding public key: %v", err)
	}

	pemKey := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	})

	out, _ := args["--out"].(string)
	if out == "" {
		os.Stdout.Write(pemKey)
		return
	}

	err = safeio.WriteFile(out, pemKey, 0644, checkPublicKey)
	if err != nil {
		Fatalf("Error writing public key: %v", err)
	}
}

// checkPublicKey checks that the file contains a PEM public key we can
// parse.
func checkPublicKey(fname string) error {
	buf, err := os.ReadFile(fname)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(buf)
	if block == nil || block.Type != "PUBLIC KEY" {
		return fmt.Errorf("no public key found in %q", fname)
	}
	_, err = x509.ParsePKIXPublicKey(block.Bytes)
	return err
}

// dkim-sign print-config
func printConfig() {
	config.LogConfig(conf)
}

// newSigner builds a signer from the configuration and the command-line
// arguments. The message is used to find the domain if no other source
// gives one.
func newSigner(msg string) *dkim.Signer {
	s := &dkim.Signer{
		Domain:     conf.Domain,
		Selector:   conf.Selector,
		Passphrase: conf.Passphrase,
		KeyBits:    conf.KeyBits,
	}
	if *conf.CacheKeys {
		s.Cache = keyCache
	}

	if d, ok := args["<domain>"].(string); ok {
		s.Domain = d
	}
	if sel, ok := args["<selector>"].(string); ok {
		s.Selector = sel
	}
	if s.Domain == "" && msg != "" {
		s.Domain = domainFromMsg(msg)
	}

	return s
}

// Cache of derived keys, shared by all the signers of this process.
var keyCache = dkim.NewKeyCache()

func signStdin() (string, string) {
	buf, err := io.ReadAll(os.Stdin)
	if err != nil {
		Fatalf("Error reading message: %v", err)
	}
	msg := string(normalize.ToCRLF(buf))

	s := newSigner(msg)
	if s.Passphrase == "" {
		Fatalf("No passphrase configured (stdin holds the message)")
	}

	sig, err := signMessage(context.Background(), s, msg)
	if err != nil {
		Fatalf("Error signing message: %v", err)
	}
	return msg, sig
}

// signMessage signs the message with a trace of its own, and records the
// outcome in the sign log.
func signMessage(ctx context.Context, s *dkim.Signer, msg string) (string, error) {
	tr := trace.New("DKIM.Sign")
	id := tr.ID()
	defer tr.Finish()

	ctx = dkim.WithTraceFunc(ctx, tr.Debugf)

	sig, err := s.SignMessage(ctx, msg)
	if err != nil {
		signlog.Failed(id, s.Domain, s.Selector, err)
		return "", tr.Error(err)
	}

	tags, err := dkim.ParseTags(strings.TrimPrefix(sig, "DKIM-Signature:"))
	if err != nil {
		return "", tr.Errorf("produced an unparseable signature: %v", err)
	}
	d, _ := tags.Get("d")
	h, _ := tags.Get("h")
	bh, _ := tags.Get("bh")

	var fields []string
	if h != "" {
		fields = strings.Split(h, ":")
	}
	signlog.Signed(id, d, s.Selector, fields, bh)
	tr.Printf("signed d=%s s=%s", d, s.Selector)

	return sig, nil
}

// domainFromMsg returns the domain of the message's From address.
func domainFromMsg(msg string) string {
	hs, _ := dkim.ParseMessage(msg)
	from, ok := hs.Unfolded("From")
	if !ok {
		Fatalf("No domain given, and the message has no From: header")
	}

	addr, err := mail.ParseAddress(from)
	if err != nil {
		Fatalf("Error parsing From: header: %v", err)
	}

	idx := strings.LastIndex(addr.Address, "@")
	if idx < 0 {
		Fatalf("From: address %q has no domain", addr.Address)
	}
	return addr.Address[idx+1:]
}

func readPassphrase() string {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	p, err := terminal.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Fatalf("Error reading passphrase: %v", err)
	}
	return string(p)
}
